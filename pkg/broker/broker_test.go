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

package broker

import (
	"context"
	"fmt"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/mqttkit-go/pkg/handshake"
	"github.com/turtacn/mqttkit-go/pkg/server"
	"github.com/turtacn/mqttkit-go/pkg/session"
	"github.com/turtacn/mqttkit-go/pkg/transport"
)

// startTestBroker runs a broker-backed server on an ephemeral port and
// returns its address.
func startTestBroker(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	acceptor, err := server.NewFactory(handshake.NewMQTTFactory(nil, nil), New(nil)).Build(ctx)
	require.NoError(t, err)

	srv := transport.NewServer(acceptor, 5*time.Second, nil)
	require.NoError(t, srv.Start(ctx, "127.0.0.1:0"))
	t.Cleanup(func() {
		cancel()
		srv.Stop()
	})
	return srv.Addr().String()
}

func newTestClient(t *testing.T, addr, clientID string) mqtt.Client {
	t.Helper()

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s", addr)).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	require.True(t, token.WaitTimeout(5*time.Second), "client %s failed to connect", clientID)
	require.NoError(t, token.Error())
	t.Cleanup(func() { client.Disconnect(100) })
	return client
}

func TestBrokerPublishSubscribe(t *testing.T) {
	addr := startTestBroker(t)

	sub := newTestClient(t, addr, "subscriber")
	received := make(chan mqtt.Message, 1)
	token := sub.Subscribe("sensors/#", 0, func(c mqtt.Client, m mqtt.Message) {
		received <- m
	})
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	pub := newTestClient(t, addr, "publisher")
	token = pub.Publish("sensors/3/temp", 0, false, "21.5")
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	select {
	case m := <-received:
		assert.Equal(t, "sensors/3/temp", m.Topic())
		assert.Equal(t, "21.5", string(m.Payload()))
	case <-time.After(5 * time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestBrokerQoS1PublishIsAcknowledged(t *testing.T) {
	addr := startTestBroker(t)

	pub := newTestClient(t, addr, "publisher")
	token := pub.Publish("sensors/3/temp", 1, false, "21.5")
	require.True(t, token.WaitTimeout(5*time.Second), "PUBACK not received")
	require.NoError(t, token.Error())
}

func TestBrokerTopicIsolation(t *testing.T) {
	addr := startTestBroker(t)

	sub := newTestClient(t, addr, "subscriber")
	received := make(chan mqtt.Message, 1)
	token := sub.Subscribe("alerts/#", 0, func(c mqtt.Client, m mqtt.Message) {
		received <- m
	})
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	pub := newTestClient(t, addr, "publisher")
	token = pub.Publish("sensors/3/temp", 0, false, "21.5")
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	select {
	case m := <-received:
		t.Fatalf("unexpected delivery on %s", m.Topic())
	case <-time.After(300 * time.Millisecond):
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	addr := startTestBroker(t)

	sub := newTestClient(t, addr, "subscriber")
	received := make(chan mqtt.Message, 1)
	token := sub.Subscribe("sensors/#", 0, func(c mqtt.Client, m mqtt.Message) {
		received <- m
	})
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	token = sub.Unsubscribe("sensors/#")
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	pub := newTestClient(t, addr, "publisher")
	token = pub.Publish("sensors/3/temp", 0, false, "21.5")
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	select {
	case <-received:
		t.Fatal("delivery after unsubscribe")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestSubscriptionSetMatching(t *testing.T) {
	set := newSubscriptionSet()
	s1 := session.New("c1")
	s2 := session.New("c2")

	set.add("sensors/+/temp", s1, 0)
	set.add("sensors/#", s2, 0)

	matched := set.match("sensors/3/temp")
	require.Len(t, matched, 2)

	matched = set.match("sensors/3/hum")
	require.Len(t, matched, 1)
	assert.Same(t, s2, matched[0].sess)

	assert.Empty(t, set.match("other/topic"))
}

func TestSubscriptionSetDeduplicatesFilter(t *testing.T) {
	set := newSubscriptionSet()
	s1 := session.New("c1")

	set.add("a/#", s1, 0)
	set.add("a/#", s1, 1)

	matched := set.match("a/b")
	require.Len(t, matched, 1)
	assert.Equal(t, byte(1), matched[0].qos)
}

func TestSubscriptionSetRemoveSession(t *testing.T) {
	set := newSubscriptionSet()
	s1 := session.New("c1")
	s2 := session.New("c2")

	set.add("a/#", s1, 0)
	set.add("a/#", s2, 0)
	set.add("b/#", s1, 0)

	set.removeSession(s1)

	matched := set.match("a/b")
	require.Len(t, matched, 1)
	assert.Same(t, s2, matched[0].sess)
	assert.Empty(t, set.match("b/c"))
}
