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

// Package session holds the per-connection application state produced by a
// successful handshake, and the mailbox-driven sink that delivers outbound
// publishes to the client.
package session

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/turtacn/mqttkit-go/pkg/actor"
	"github.com/turtacn/mqttkit-go/pkg/codec"
)

// ErrNoSink is returned by Send when no sink has been attached yet.
var ErrNoSink = errors.New("session has no sink")

// Session is the state owned by one connection for its lifetime. It is
// created by the handshake and destroyed when the dispatch loop ends.
// Handler factories receive the same Session instance; they must not assume
// exclusive mutation rights over State.
type Session struct {
	// ID is the client identifier negotiated during the handshake.
	ID string
	// CleanSession mirrors the clean-session flag from the handshake.
	CleanSession bool
	// RemoteAddr is the peer address, for logging.
	RemoteAddr net.Addr
	// Keepalive is the negotiated keepalive interval.
	Keepalive time.Duration
	// Writer is the connection's write side, set by the handshake. Sinks
	// write outbound publishes through it.
	Writer io.Writer
	// State carries arbitrary application state.
	State any

	mu   sync.RWMutex
	sink *Sink
}

// New creates a Session for the given client ID.
func New(id string) *Session {
	return &Session{ID: id}
}

// AttachSink installs the outbound sink for this session.
func (s *Session) AttachSink(sink *Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Send enqueues an outbound publish on the session's sink without blocking.
// It reports false when the sink mailbox is full and the message was
// dropped. Without an attached sink it returns ErrNoSink.
func (s *Session) Send(p Publish) (bool, error) {
	s.mu.RLock()
	sink := s.sink
	s.mu.RUnlock()

	if sink == nil {
		return false, ErrNoSink
	}
	return sink.Enqueue(p), nil
}

// Publish is the message type consumed by a session's sink actor.
type Publish struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Sink is the actor that writes outbound publishes to the client
// connection. It owns the write path for fanout traffic; the dispatch loop
// writes only direct responses, and the codec keeps each frame to a single
// Write call so the two never interleave.
type Sink struct {
	id     string
	w      io.Writer
	codec  codec.Codec
	mb     *actor.Mailbox
	logger *log.Logger
}

// NewSink creates a sink for the given client writing through c. logger may
// be nil for the default logger.
func NewSink(id string, w io.Writer, c codec.Codec, mb *actor.Mailbox, logger *log.Logger) *Sink {
	if logger == nil {
		logger = log.Default()
	}
	return &Sink{
		id:     id,
		w:      w,
		codec:  c,
		mb:     mb,
		logger: logger,
	}
}

// Mailbox returns the sink's mailbox, for supervision specs.
func (s *Sink) Mailbox() *actor.Mailbox {
	return s.mb
}

// Enqueue offers a publish to the sink without blocking. It reports whether
// the message was accepted.
func (s *Sink) Enqueue(p Publish) bool {
	return s.mb.TrySend(p)
}

// Start is the sink actor loop. It encodes and writes each queued publish
// until the context is canceled or a write fails. A write failure stops the
// sink; the dispatch loop notices the dead connection on its own.
func (s *Sink) Start(ctx context.Context, mb *actor.Mailbox) error {
	s.logger.Printf("Sink started for client %s", s.id)
	for {
		msg, err := mb.Receive(ctx)
		if err != nil {
			s.logger.Printf("Sink for client %s shutting down: %v", s.id, err)
			return nil
		}

		p, ok := msg.(Publish)
		if !ok {
			s.logger.Printf("Sink for client %s received unknown message type: %T", s.id, msg)
			continue
		}

		pk := publishPacket(p)
		if err := s.codec.WritePacket(s.w, pk); err != nil {
			s.logger.Printf("Error writing to client %s: %v", s.id, err)
			return err
		}
	}
}

// publishPacket builds the outbound PUBLISH frame for a sink message.
func publishPacket(p Publish) *packets.Packet {
	return &packets.Packet{
		FixedHeader: packets.FixedHeader{
			Type:   packets.Publish,
			Qos:    p.QoS,
			Retain: p.Retain,
		},
		TopicName: p.Topic,
		Payload:   p.Payload,
	}
}
