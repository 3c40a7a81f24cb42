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

// Package broker is the reference application built on the framework: a
// single-node publish/subscribe broker. It plugs into the acceptor as the
// per-connection handler factory, keeps a registry of sessions and their
// subscriptions, and fans published messages out to matching session sinks.
package broker

import (
	"context"
	"log"

	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/turtacn/mqttkit-go/pkg/actor"
	"github.com/turtacn/mqttkit-go/pkg/codec"
	"github.com/turtacn/mqttkit-go/pkg/messages"
	"github.com/turtacn/mqttkit-go/pkg/metrics"
	"github.com/turtacn/mqttkit-go/pkg/service"
	"github.com/turtacn/mqttkit-go/pkg/session"
	"github.com/turtacn/mqttkit-go/pkg/storage"
	"github.com/turtacn/mqttkit-go/pkg/supervisor"
)

// sinkMailboxSize bounds the per-session outbound queue.
const sinkMailboxSize = 100

// Broker routes published messages between connected sessions. It
// implements service.HandlerFactory, so one Broker is the handler side of
// one acceptor.
type Broker struct {
	sessions storage.Store
	subs     *subscriptionSet
	sup      supervisor.Supervisor
	codec    codec.MQTT
	logger   *log.Logger
}

// New creates a Broker. logger may be nil for the default logger.
func New(logger *log.Logger) *Broker {
	if logger == nil {
		logger = log.Default()
	}
	return &Broker{
		sessions: storage.NewMemStore(),
		subs:     newSubscriptionSet(),
		sup:      supervisor.NewOneForOneSupervisor(),
		codec:    codec.NewMQTT(),
		logger:   logger,
	}
}

// NewHandler registers the freshly negotiated session and builds its frame
// handler. The session's outbound sink is spawned under the broker's
// supervisor; it stops when the connection's handler is closed.
func (b *Broker) NewHandler(ctx context.Context, sess *session.Session) (service.Handler, error) {
	if _, err := b.sessions.Get(sess.ID); err == nil {
		// Session takeover: the new connection wins; the old one will
		// fail on its dead socket and unregister a stale entry at most.
		b.logger.Printf("Client %s reconnecting, replacing session", sess.ID)
	}

	mb := actor.NewMailbox(sinkMailboxSize)
	sink := session.NewSink(sess.ID, sess.Writer, b.codec, mb, b.logger)
	sess.AttachSink(sink)

	sinkCtx, cancel := context.WithCancel(ctx)
	b.sup.StartChild(sinkCtx, supervisor.Spec{
		ID:      "sink-" + sess.ID,
		Actor:   sink,
		Restart: supervisor.RestartTemporary,
		Mailbox: mb,
	})

	if err := b.sessions.Set(sess.ID, sess); err != nil {
		cancel()
		return nil, err
	}

	b.logger.Printf("Registered session for client %s", sess.ID)
	return &connHandler{broker: b, sess: sess, cancelSink: cancel}, nil
}

// Publish fans a message out to every session subscribed to its topic.
// Delivery to each sink is non-blocking; messages to full sinks are dropped
// and counted rather than stalling the publisher.
func (b *Broker) Publish(ctx context.Context, m *messages.Publish) {
	matched := b.subs.match(m.NormalizeTopic())
	if len(matched) == 0 {
		return
	}

	out := session.Publish{
		Topic:   m.Topic,
		Payload: m.Payload,
		Retain:  m.Retain,
	}
	for _, sub := range matched {
		ok, err := sub.sess.Send(out)
		if err != nil {
			b.logger.Printf("No sink for client %s, skipping delivery", sub.sess.ID)
			continue
		}
		if !ok {
			metrics.DroppedPublishesTotal.Inc()
			b.logger.Printf("Sink full for client %s, dropping message on %q", sub.sess.ID, m.Topic)
		}
	}
}

// unregister removes a session and its subscriptions when its connection
// ends. A stale entry from a superseded connection is left alone.
func (b *Broker) unregister(sess *session.Session) {
	if current, err := b.sessions.Get(sess.ID); err == nil && current == sess {
		b.sessions.Delete(sess.ID)
	}
	b.subs.removeSession(sess)
	b.logger.Printf("Client %s disconnected", sess.ID)
}

// connHandler is the per-connection frame handler produced by the broker.
type connHandler struct {
	broker     *Broker
	sess       *session.Session
	cancelSink context.CancelFunc
}

// HandleFrame serves one decoded frame from this handler's connection.
func (h *connHandler) HandleFrame(ctx context.Context, pk *packets.Packet) (*packets.Packet, error) {
	switch pk.FixedHeader.Type {
	case packets.Subscribe:
		codes := make([]byte, 0, len(pk.Filters))
		for _, sub := range pk.Filters {
			h.broker.subs.add(sub.Filter, h.sess, sub.Qos)
			h.broker.logger.Printf("Client %s subscribed to %s", h.sess.ID, sub.Filter)
			// Deliveries are made at QoS 0 regardless of the request.
			codes = append(codes, 0)
		}
		return &packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Suback},
			PacketID:    pk.PacketID,
			ReasonCodes: codes,
		}, nil

	case packets.Unsubscribe:
		for _, sub := range pk.Filters {
			h.broker.subs.remove(sub.Filter, h.sess)
		}
		return &packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Unsuback},
			PacketID:    pk.PacketID,
		}, nil

	case packets.Publish:
		m := messages.FromPacket(pk)
		h.broker.Publish(ctx, m)
		if m.QoS > 0 {
			return &packets.Packet{
				FixedHeader: packets.FixedHeader{Type: packets.Puback},
				PacketID:    pk.PacketID,
			}, nil
		}
		return nil, nil
	}

	h.broker.logger.Printf("Client %s sent unhandled packet type: %v", h.sess.ID, pk.FixedHeader.Type)
	return nil, nil
}

// Close releases the connection's broker state: the dispatch loop calls it
// on every exit path, so the sink actor and the registry entries never
// outlive the connection.
func (h *connHandler) Close() error {
	h.cancelSink()
	h.broker.unregister(h.sess)
	return nil
}
