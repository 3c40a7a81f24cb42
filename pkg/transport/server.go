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

// Package transport provides the TCP listener feeding accepted connections
// into the connection acceptor. Each connection runs in its own goroutine;
// a failed connection never affects its siblings.
package transport

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"github.com/turtacn/mqttkit-go/pkg/server"
)

// Server owns one listener and drives the acceptor for every inbound
// connection.
type Server struct {
	acceptor         *server.Acceptor
	handshakeTimeout time.Duration
	logger           *log.Logger

	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
}

// NewServer creates a transport server. handshakeTimeout bounds each
// connection's handshake; zero waits indefinitely. logger may be nil.
func NewServer(acceptor *server.Acceptor, handshakeTimeout time.Duration, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		acceptor:         acceptor,
		handshakeTimeout: handshakeTimeout,
		logger:           logger,
		quit:             make(chan struct{}),
	}
}

// Start begins listening on addr and serves connections until Stop is
// called or ctx is canceled. Non-blocking.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	s.logger.Printf("TCP server started, listening on %s", addr)
	return nil
}

// Stop closes the listener and waits for the accept loop to finish.
// Connections already handed to the acceptor keep running under their own
// context.
func (s *Server) Stop() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	s.logger.Printf("TCP server stopped")
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// acceptLoop accepts connections until the listener closes. Every
// connection gets its own goroutine running the acceptor to completion;
// per-connection errors are logged here and go no further.
func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			case <-ctx.Done():
				return
			default:
				s.logger.Printf("Error accepting connection: %v", err)
			}
			continue
		}

		go func(conn net.Conn) {
			if err := s.acceptor.Accept(ctx, conn, s.handshakeTimeout); err != nil {
				s.logger.Printf("Connection %v terminated: %v", conn.RemoteAddr(), err)
			}
		}(conn)
	}
}
