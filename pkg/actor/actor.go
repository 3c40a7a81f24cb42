// Copyright 2024 The mqttkit-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package actor provides the minimal actor primitive used for per-session
// outbound sinks: a Start function driven by a mailbox, supervised by the
// supervisor package.
package actor

import "context"

// Actor is a process that consumes messages from a mailbox until its context
// is canceled or it fails. Start blocks for the lifetime of the actor and
// returns the reason it terminated.
type Actor interface {
	Start(ctx context.Context, mb *Mailbox) error
}

// Mailbox is a buffered, channel-based message queue for a single actor.
// Many producers may send into one mailbox; exactly one actor receives.
type Mailbox struct {
	messages chan any
}

// NewMailbox creates a mailbox with the given buffer capacity. A larger
// buffer absorbs bursts at the cost of memory and delivery latency.
func NewMailbox(size int) *Mailbox {
	return &Mailbox{
		messages: make(chan any, size),
	}
}

// Send puts a message into the mailbox, blocking while the buffer is full.
func (mb *Mailbox) Send(msg any) {
	mb.messages <- msg
}

// TrySend puts a message into the mailbox without blocking. It reports
// whether the message was accepted; a full mailbox drops the message.
// Fanout paths use this so one slow consumer cannot stall a publisher.
func (mb *Mailbox) TrySend(msg any) bool {
	select {
	case mb.messages <- msg:
		return true
	default:
		return false
	}
}

// Receive blocks until a message arrives or the context is canceled.
// On cancellation it returns nil and the context's error.
func (mb *Mailbox) Receive(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-mb.messages:
		return msg, nil
	}
}

// Len returns the number of messages currently buffered.
func (mb *Mailbox) Len() int {
	return len(mb.messages)
}

// Chan exposes the underlying channel read-only, for callers that need to
// select over several sources at once.
func (mb *Mailbox) Chan() <-chan any {
	return mb.messages
}
