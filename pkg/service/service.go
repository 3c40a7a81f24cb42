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

// Package service defines the handler contracts shared by the acceptor, the
// dispatch loop, and the router. Handlers are interfaces rather than
// generics so a router can hold a homogeneous list of arbitrary handler
// implementations.
package service

import (
	"context"

	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/turtacn/mqttkit-go/pkg/messages"
	"github.com/turtacn/mqttkit-go/pkg/session"
)

// Handler consumes one decoded frame and may yield a response frame to be
// written back on the same connection. Returning a nil packet means no
// response. An error terminates the connection.
type Handler interface {
	HandleFrame(ctx context.Context, pk *packets.Packet) (*packets.Packet, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, pk *packets.Packet) (*packets.Packet, error)

// HandleFrame calls f.
func (f HandlerFunc) HandleFrame(ctx context.Context, pk *packets.Packet) (*packets.Packet, error) {
	return f(ctx, pk)
}

// HandlerFactory builds the per-connection Handler from the session state
// produced by the handshake. It is invoked once per connection; a
// construction error rejects that connection.
type HandlerFactory interface {
	NewHandler(ctx context.Context, sess *session.Session) (Handler, error)
}

// HandlerFactoryFunc adapts a function to the HandlerFactory interface.
type HandlerFactoryFunc func(ctx context.Context, sess *session.Session) (Handler, error)

// NewHandler calls f.
func (f HandlerFactoryFunc) NewHandler(ctx context.Context, sess *session.Session) (Handler, error) {
	return f(ctx, sess)
}

// PublishHandler consumes one routed publish message.
type PublishHandler interface {
	HandlePublish(ctx context.Context, m *messages.Publish) error
}

// PublishHandlerFunc adapts a function to the PublishHandler interface.
type PublishHandlerFunc func(ctx context.Context, m *messages.Publish) error

// HandlePublish calls f.
func (f PublishHandlerFunc) HandlePublish(ctx context.Context, m *messages.Publish) error {
	return f(ctx, m)
}

// PublishHandlerFactory builds one per-session PublishHandler. The router
// invokes every registered factory once per new session.
type PublishHandlerFactory interface {
	NewPublishHandler(ctx context.Context, sess *session.Session) (PublishHandler, error)
}

// PublishHandlerFactoryFunc adapts a function to the PublishHandlerFactory
// interface.
type PublishHandlerFactoryFunc func(ctx context.Context, sess *session.Session) (PublishHandler, error)

// NewPublishHandler calls f.
func (f PublishHandlerFactoryFunc) NewPublishHandler(ctx context.Context, sess *session.Session) (PublishHandler, error) {
	return f(ctx, sess)
}

// ReadyChecker is implemented by handlers that may be temporarily unable to
// accept work. Ready returns nil when the handler can take the next message
// and an error describing why it cannot otherwise.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

// Closer is implemented by handlers holding resources that must be released
// when their connection ends. The dispatch loop calls Close on every exit
// path.
type Closer interface {
	Close() error
}
