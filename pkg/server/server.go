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

// Package server provides the connection acceptor: it turns each accepted
// transport connection into a running protocol session by performing the
// handshake under an optional deadline, constructing the per-connection
// handler from the negotiated session state, and handing the connection off
// to the dispatch loop.
package server

import (
	"context"
	"log"
	"net"
	"time"

	"github.com/turtacn/mqttkit-go/pkg/dispatch"
	"github.com/turtacn/mqttkit-go/pkg/handshake"
	"github.com/turtacn/mqttkit-go/pkg/metrics"
	"github.com/turtacn/mqttkit-go/pkg/service"
)

// Factory assembles acceptors. It holds the connect-service factory, the
// per-connection handler factory, and connection-level timeouts; Build is
// called once per listener lifetime.
type Factory struct {
	connect           handshake.HandshakerFactory
	handlers          service.HandlerFactory
	disconnectTimeout time.Duration
	logger            *log.Logger
}

// NewFactory creates an acceptor factory from a connect-service factory and
// a per-connection handler factory.
func NewFactory(connect handshake.HandshakerFactory, handlers service.HandlerFactory) *Factory {
	return &Factory{
		connect:  connect,
		handlers: handlers,
		logger:   log.Default(),
	}
}

// DisconnectTimeout sets the teardown grace period passed to each
// dispatcher.
func (f *Factory) DisconnectTimeout(t time.Duration) *Factory {
	f.disconnectTimeout = t
	return f
}

// Logger sets the log sink shared by the acceptor and its dispatchers.
func (f *Factory) Logger(l *log.Logger) *Factory {
	if l != nil {
		f.logger = l
	}
	return f
}

// Build constructs the Acceptor by constructing the connect service. It is
// cheap and performed once per listener.
func (f *Factory) Build(ctx context.Context) (*Acceptor, error) {
	hs, err := f.connect.NewHandshaker(ctx)
	if err != nil {
		return nil, err
	}
	return &Acceptor{
		connect:           hs,
		handlers:          f.handlers,
		disconnectTimeout: f.disconnectTimeout,
		logger:            f.logger,
	}, nil
}

// Acceptor serves one listener: Accept is invoked once per inbound
// transport connection. The acceptor holds no per-connection state, so one
// Acceptor serves any number of concurrent connections.
type Acceptor struct {
	connect           handshake.Handshaker
	handlers          service.HandlerFactory
	disconnectTimeout time.Duration
	logger            *log.Logger
}

// outcome carries the result of the raced handshake-plus-construction step.
type outcome struct {
	res     *handshake.Result
	handler service.Handler
	err     error
}

// Accept runs one connection to completion.
//
// With handshakeTimeout > 0 the handshake and handler construction are
// raced against that deadline. A deadline hit is treated as an ordinary
// disconnect, not an error: the connection is closed and Accept returns
// nil, so a slow or malicious client cannot poison the caller's error
// channel. Handshake errors, handler construction errors, and dispatch
// errors are propagated unchanged; each terminates only this connection.
func (a *Acceptor) Accept(ctx context.Context, conn net.Conn, handshakeTimeout time.Duration) error {
	metrics.ConnectionsTotal.Inc()

	var res *handshake.Result
	var handler service.Handler

	if handshakeTimeout > 0 {
		ch := make(chan outcome, 1)
		go func() {
			ch <- a.prepare(ctx, conn)
		}()

		timer := time.NewTimer(handshakeTimeout)
		defer timer.Stop()

		select {
		case <-timer.C:
			a.logger.Printf("Handshake with %v timed out, dropping connection", conn.RemoteAddr())
			metrics.HandshakeTimeoutsTotal.Inc()
			// Closing the connection fails the pending handshake read,
			// so the raced goroutine cannot outlive this call for long.
			conn.Close()
			go a.reap(ch)
			return nil
		case <-ctx.Done():
			conn.Close()
			go a.reap(ch)
			return ctx.Err()
		case out := <-ch:
			if out.err != nil {
				conn.Close()
				return out.err
			}
			res, handler = out.res, out.handler
		}
	} else {
		out := a.prepare(ctx, conn)
		if out.err != nil {
			conn.Close()
			return out.err
		}
		res, handler = out.res, out.handler
	}

	// Ownership of the stream and codec passes to the dispatcher here; the
	// acceptor retains no reference.
	return dispatch.New(res.Conn, res.Reader, res.Codec, handler).
		KeepaliveTimeout(res.Keepalive).
		DisconnectTimeout(a.disconnectTimeout).
		Logger(a.logger).
		Run(ctx)
}

// prepare performs the handshake and constructs the per-connection handler
// from the negotiated session state. A construction failure discards the
// handshake work; there is no retry.
func (a *Acceptor) prepare(ctx context.Context, conn net.Conn) outcome {
	res, err := a.connect.Handshake(ctx, conn)
	if err != nil {
		a.logger.Printf("Connection handshake with %v failed: %v", conn.RemoteAddr(), err)
		metrics.HandshakeFailuresTotal.Inc()
		return outcome{err: err}
	}

	handler, err := a.handlers.NewHandler(ctx, res.Session)
	if err != nil {
		return outcome{err: err}
	}
	return outcome{res: res, handler: handler}
}

// reap collects the result of an abandoned race. The handshake may have
// completed before the connection was closed, in which case handler
// construction still runs to completion; any handler it produced must be
// released so per-session state never outlives the dropped connection.
func (a *Acceptor) reap(ch <-chan outcome) {
	out := <-ch
	if out.err != nil || out.handler == nil {
		return
	}
	if c, ok := out.handler.(service.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Printf("Closing handler of dropped connection failed: %v", err)
		}
	}
}

// Ready reports the readiness of the inner connect service when it exposes
// one; the acceptor carries no readiness state of its own.
func (a *Acceptor) Ready(ctx context.Context) error {
	if rc, ok := a.connect.(service.ReadyChecker); ok {
		return rc.Ready(ctx)
	}
	return nil
}

// Close shuts down the inner connect service when it exposes a Close; the
// acceptor itself holds nothing to release.
func (a *Acceptor) Close() error {
	if c, ok := a.connect.(service.Closer); ok {
		return c.Close()
	}
	return nil
}
