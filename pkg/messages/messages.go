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

// Package messages defines the application-level message types exchanged
// between the dispatch loop, the router, and handlers.
package messages

import (
	"strings"

	"github.com/mochi-mqtt/server/v2/packets"
)

// Publish is one inbound application message. It is consumed by exactly one
// handler per delivery.
//
// Topic is normalized in place during routing: after dispatch it holds the
// normalized form, not necessarily the topic as received on the wire.
type Publish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	PacketID uint16
	Retain   bool
	Dup      bool

	normalized bool
}

// FromPacket builds a Publish from a decoded PUBLISH packet.
func FromPacket(pk *packets.Packet) *Publish {
	return &Publish{
		Topic:    pk.TopicName,
		Payload:  pk.Payload,
		QoS:      pk.FixedHeader.Qos,
		PacketID: pk.PacketID,
		Retain:   pk.FixedHeader.Retain,
		Dup:      pk.FixedHeader.Dup,
	}
}

// NormalizeTopic trims surrounding whitespace and any trailing separator
// from the topic, destructively, and returns the normalized form. Repeated
// calls are cheap no-ops.
func (p *Publish) NormalizeTopic() string {
	if p.normalized {
		return p.Topic
	}
	t := strings.TrimSpace(p.Topic)
	for len(t) > 1 && strings.HasSuffix(t, "/") {
		t = t[:len(t)-1]
	}
	p.Topic = t
	p.normalized = true
	return p.Topic
}

// Packet re-encodes the message as a PUBLISH packet, for fanout to other
// connections.
func (p *Publish) Packet() *packets.Packet {
	return &packets.Packet{
		FixedHeader: packets.FixedHeader{
			Type:   packets.Publish,
			Qos:    p.QoS,
			Retain: p.Retain,
			Dup:    p.Dup,
		},
		TopicName: p.Topic,
		Payload:   p.Payload,
		PacketID:  p.PacketID,
	}
}
