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

// Package dispatch drives the per-connection frame read/write loop. It owns
// the connection after handoff from the acceptor: it enforces the keepalive
// idle timeout, answers protocol pings, feeds every other frame to the
// connection's handler, and tears the connection down on every exit path.
package dispatch

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"time"

	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/turtacn/mqttkit-go/pkg/codec"
	"github.com/turtacn/mqttkit-go/pkg/service"
)

// ErrKeepaliveTimeout is returned when no frame arrives within the
// keepalive grace window.
var ErrKeepaliveTimeout = errors.New("dispatch: keepalive timeout")

// Dispatcher runs the frame loop for one connection. Configure it with the
// chained setters, then call Run once.
type Dispatcher struct {
	conn              net.Conn
	reader            *bufio.Reader
	codec             codec.Codec
	handler           service.Handler
	keepalive         time.Duration
	disconnectTimeout time.Duration
	logger            *log.Logger
}

// New creates a Dispatcher for a connection whose handshake already
// completed. reader must be the buffered reader the handshake used; it may
// hold buffered bytes.
func New(conn net.Conn, reader *bufio.Reader, c codec.Codec, handler service.Handler) *Dispatcher {
	return &Dispatcher{
		conn:    conn,
		reader:  reader,
		codec:   c,
		handler: handler,
		logger:  log.Default(),
	}
}

// KeepaliveTimeout sets the negotiated keepalive interval. The loop allows
// one and a half times this interval between inbound frames; zero disables
// the idle timeout.
func (d *Dispatcher) KeepaliveTimeout(ka time.Duration) *Dispatcher {
	d.keepalive = ka
	return d
}

// DisconnectTimeout sets the grace period granted to in-flight outbound
// data when the connection is torn down; zero closes immediately.
func (d *Dispatcher) DisconnectTimeout(t time.Duration) *Dispatcher {
	d.disconnectTimeout = t
	return d
}

// Logger sets the log sink. Defaults to log.Default().
func (d *Dispatcher) Logger(l *log.Logger) *Dispatcher {
	if l != nil {
		d.logger = l
	}
	return d
}

// Run executes the frame loop until the client disconnects, the context is
// canceled, the keepalive window lapses, or the handler fails. Handler
// errors are propagated unchanged. The connection and the per-connection
// timers are released on every exit path.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.teardown()

	// Unblock the pending read when the context is canceled.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			d.conn.SetReadDeadline(time.Now())
		case <-watchDone:
		}
	}()

	for {
		if d.keepalive > 0 {
			grace := d.keepalive + d.keepalive/2
			if err := d.conn.SetReadDeadline(time.Now().Add(grace)); err != nil {
				return err
			}
		}

		pk, err := d.codec.ReadPacket(d.reader)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				d.logger.Printf("Connection %v exceeded keepalive, closing", d.conn.RemoteAddr())
				return ErrKeepaliveTimeout
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch pk.FixedHeader.Type {
		case packets.Pingreq:
			resp := &packets.Packet{FixedHeader: packets.FixedHeader{Type: packets.Pingresp}}
			if err := d.codec.WritePacket(d.conn, resp); err != nil {
				return err
			}
			continue
		case packets.Disconnect:
			return nil
		}

		resp, err := d.handler.HandleFrame(ctx, pk)
		if err != nil {
			return err
		}
		if resp != nil {
			if err := d.codec.WritePacket(d.conn, resp); err != nil {
				return err
			}
		}
	}
}

// teardown closes the connection, releasing its handler first. A configured
// disconnect timeout is mapped to the transport's linger window so pending
// outbound data gets a bounded chance to flush before the close turns hard.
func (d *Dispatcher) teardown() {
	if c, ok := d.handler.(service.Closer); ok {
		if err := c.Close(); err != nil {
			d.logger.Printf("Handler close for %v failed: %v", d.conn.RemoteAddr(), err)
		}
	}
	if tcp, ok := d.conn.(*net.TCPConn); ok && d.disconnectTimeout > 0 {
		tcp.SetLinger(int(d.disconnectTimeout / time.Second))
	}
	d.conn.Close()
}
