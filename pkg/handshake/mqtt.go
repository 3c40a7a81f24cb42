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

package handshake

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/turtacn/mqttkit-go/pkg/auth"
	"github.com/turtacn/mqttkit-go/pkg/codec"
	"github.com/turtacn/mqttkit-go/pkg/session"
)

// MQTT 3.1.1 CONNACK return codes.
const (
	connackAccepted           byte = 0x00
	connackIdentifierRejected byte = 0x02
	connackBadCredentials     byte = 0x04
	connackNotAuthorized      byte = 0x05
)

var (
	// ErrExpectedConnect is returned when the first inbound frame is not a
	// CONNECT packet.
	ErrExpectedConnect = errors.New("handshake: expected CONNECT packet")
	// ErrEmptyClientID is returned when the CONNECT carries no client
	// identifier.
	ErrEmptyClientID = errors.New("handshake: empty client identifier")
	// ErrNotAuthorized is returned when the configured authenticator
	// rejects the client's credentials.
	ErrNotAuthorized = errors.New("handshake: not authorized")
)

// MQTT negotiates an MQTT 3.1.1 session: it reads the CONNECT packet,
// optionally authenticates the client, answers with a CONNACK, and produces
// the session state and keepalive interval for the connection.
type MQTT struct {
	codec         codec.MQTT
	authenticator auth.Authenticator
	logger        *log.Logger
}

// NewMQTT creates the MQTT handshaker. authenticator may be nil, in which
// case every client is accepted. logger may be nil for the default logger.
func NewMQTT(authenticator auth.Authenticator, logger *log.Logger) *MQTT {
	if logger == nil {
		logger = log.Default()
	}
	return &MQTT{
		codec:         codec.NewMQTT(),
		authenticator: authenticator,
		logger:        logger,
	}
}

// NewMQTTFactory wraps NewMQTT in a HandshakerFactory for the acceptor
// factory.
func NewMQTTFactory(authenticator auth.Authenticator, logger *log.Logger) HandshakerFactory {
	return HandshakerFactoryFunc(func(ctx context.Context) (Handshaker, error) {
		return NewMQTT(authenticator, logger), nil
	})
}

// Handshake performs the CONNECT/CONNACK exchange on conn. The caller
// bounds its duration by closing conn (the acceptor does this on deadline),
// which fails the pending read.
func (h *MQTT) Handshake(ctx context.Context, conn net.Conn) (*Result, error) {
	reader := bufio.NewReader(conn)

	pk, err := h.codec.ReadPacket(reader)
	if err != nil {
		return nil, fmt.Errorf("handshake: reading first packet: %w", err)
	}
	if pk.FixedHeader.Type != packets.Connect {
		return nil, ErrExpectedConnect
	}

	clientID := pk.Connect.ClientIdentifier
	if clientID == "" {
		h.refuse(conn, connackIdentifierRejected)
		return nil, ErrEmptyClientID
	}

	if h.authenticator != nil {
		username := string(pk.Connect.Username)
		password := string(pk.Connect.Password)
		if err := h.authenticator.Authenticate(username, password); err != nil {
			code := connackBadCredentials
			if errors.Is(err, auth.ErrUserDisabled) {
				code = connackNotAuthorized
			}
			h.refuse(conn, code)
			return nil, fmt.Errorf("%w: client %s: %v", ErrNotAuthorized, clientID, err)
		}
	}

	ack := &packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Connack},
		ReasonCode:  connackAccepted,
	}
	if err := h.codec.WritePacket(conn, ack); err != nil {
		return nil, fmt.Errorf("handshake: writing CONNACK: %w", err)
	}

	sess := session.New(clientID)
	sess.CleanSession = pk.Connect.Clean
	sess.RemoteAddr = conn.RemoteAddr()
	sess.Keepalive = time.Duration(pk.Connect.Keepalive) * time.Second
	sess.Writer = conn

	return &Result{
		Conn:      conn,
		Reader:    reader,
		Codec:     h.codec,
		Session:   sess,
		Keepalive: sess.Keepalive,
	}, nil
}

// refuse answers a CONNACK with the given return code before the connection
// is rejected. Write failures are only logged; the connection is going away
// either way.
func (h *MQTT) refuse(conn net.Conn, code byte) {
	ack := &packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Connack},
		ReasonCode:  code,
	}
	if err := h.codec.WritePacket(conn, ack); err != nil {
		h.logger.Printf("Failed to write CONNACK refusal to %v: %v", conn.RemoteAddr(), err)
	}
}
