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

// Package handshake defines the connect-service contract that turns a raw
// transport into a validated protocol session, and provides the MQTT
// CONNECT/CONNACK implementation.
package handshake

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/turtacn/mqttkit-go/pkg/codec"
	"github.com/turtacn/mqttkit-go/pkg/session"
)

// Result is the outcome of a successful handshake. It is consumed entirely
// by the acceptor: ownership of Conn and Reader passes to the dispatch loop
// and the handshaker must retain no reference to them.
type Result struct {
	// Conn is the validated transport connection.
	Conn net.Conn
	// Reader wraps Conn's read side; it may hold bytes buffered during the
	// handshake, so all further reads must go through it.
	Reader *bufio.Reader
	// Codec is the frame codec negotiated for this connection.
	Codec codec.Codec
	// Session is the per-connection application state.
	Session *session.Session
	// Keepalive is the negotiated idle interval; zero disables the idle
	// timeout.
	Keepalive time.Duration
}

// Handshaker performs protocol negotiation on a raw transport. It must be
// safely callable repeatedly, once per connection.
type Handshaker interface {
	Handshake(ctx context.Context, conn net.Conn) (*Result, error)
}

// HandshakerFactory constructs the Handshaker once per listener lifetime.
type HandshakerFactory interface {
	NewHandshaker(ctx context.Context) (Handshaker, error)
}

// HandshakerFactoryFunc adapts a function to the HandshakerFactory
// interface.
type HandshakerFactoryFunc func(ctx context.Context) (Handshaker, error)

// NewHandshaker calls f.
func (f HandshakerFactoryFunc) NewHandshaker(ctx context.Context) (Handshaker, error) {
	return f(ctx)
}
