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

package router

import (
	"context"

	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/turtacn/mqttkit-go/pkg/messages"
	"github.com/turtacn/mqttkit-go/pkg/service"
	"github.com/turtacn/mqttkit-go/pkg/session"
)

// NewHandler lets a compiled Factory serve as the acceptor's per-connection
// handler factory: it builds the session's routing Service and wraps it in
// a frame bridge that feeds decoded PUBLISH frames into the router and
// answers subscription bookkeeping frames itself.
func (f *Factory) NewHandler(ctx context.Context, sess *session.Session) (service.Handler, error) {
	svc, err := f.NewService(ctx, sess)
	if err != nil {
		return nil, err
	}
	return &frameBridge{svc: svc}, nil
}

// frameBridge adapts the routed publish service to the frame-level handler
// contract of the dispatch loop.
type frameBridge struct {
	svc *Service
}

// HandleFrame routes PUBLISH frames and acknowledges SUBSCRIBE and
// UNSUBSCRIBE so protocol clients can drive a router-backed server without
// a separate control plane. Other frame types are ignored.
func (b *frameBridge) HandleFrame(ctx context.Context, pk *packets.Packet) (*packets.Packet, error) {
	switch pk.FixedHeader.Type {
	case packets.Publish:
		m := messages.FromPacket(pk)
		if err := b.svc.HandlePublish(ctx, m); err != nil {
			return nil, err
		}
		if m.QoS > 0 {
			return &packets.Packet{
				FixedHeader: packets.FixedHeader{Type: packets.Puback},
				PacketID:    pk.PacketID,
			}, nil
		}
		return nil, nil

	case packets.Subscribe:
		codes := make([]byte, len(pk.Filters))
		return &packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Suback},
			PacketID:    pk.PacketID,
			ReasonCodes: codes,
		}, nil

	case packets.Unsubscribe:
		return &packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Unsuback},
			PacketID:    pk.PacketID,
		}, nil
	}

	return nil, nil
}

// Ready delegates to the routing service so the bridge preserves the
// poll-every-slot readiness contract.
func (b *frameBridge) Ready(ctx context.Context) error {
	return b.svc.Ready(ctx)
}
