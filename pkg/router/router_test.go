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
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/mqttkit-go/pkg/messages"
	"github.com/turtacn/mqttkit-go/pkg/service"
	"github.com/turtacn/mqttkit-go/pkg/session"
)

// countingHandler records how many publishes it received.
type countingHandler struct {
	name  string
	calls atomic.Int64
	err   error
}

func (h *countingHandler) HandlePublish(ctx context.Context, m *messages.Publish) error {
	h.calls.Add(1)
	return h.err
}

// factoryOf wraps a prebuilt handler in a factory.
func factoryOf(h service.PublishHandler) service.PublishHandlerFactory {
	return service.PublishHandlerFactoryFunc(func(ctx context.Context, sess *session.Session) (service.PublishHandler, error) {
		return h, nil
	})
}

// failingFactory always fails construction with err.
func failingFactory(err error) service.PublishHandlerFactory {
	return service.PublishHandlerFactoryFunc(func(ctx context.Context, sess *session.Session) (service.PublishHandler, error) {
		return nil, err
	})
}

func publish(topic string) *messages.Publish {
	return &messages.Publish{Topic: topic, Payload: []byte("payload")}
}

func TestRouterDispatchScenario(t *testing.T) {
	h1 := &countingHandler{name: "h1"}
	h2 := &countingHandler{name: "h2"}
	def := &countingHandler{name: "default"}

	factory := New().
		Route("sensors/+/temp", factoryOf(h1)).
		Route("alerts/#", factoryOf(h2)).
		Default(factoryOf(def)).
		Compile()

	svc, err := factory.NewService(context.Background(), session.New("client-1"))
	require.NoError(t, err)

	require.NoError(t, svc.HandlePublish(context.Background(), publish("sensors/3/temp")))
	assert.Equal(t, int64(1), h1.calls.Load())
	assert.Equal(t, int64(0), h2.calls.Load())

	require.NoError(t, svc.HandlePublish(context.Background(), publish("alerts/fire/now")))
	assert.Equal(t, int64(1), h2.calls.Load())

	require.NoError(t, svc.HandlePublish(context.Background(), publish("other/topic")))
	assert.Equal(t, int64(1), def.calls.Load())

	// Each delivery went to exactly one handler.
	assert.Equal(t, int64(1), h1.calls.Load())
	assert.Equal(t, int64(1), h2.calls.Load())
	assert.Equal(t, int64(1), def.calls.Load())
}

func TestRouterReturnsHandlerResultUnchanged(t *testing.T) {
	handlerErr := errors.New("handler rejected message")
	h := &countingHandler{err: handlerErr}

	factory := New().Route("a/b", factoryOf(h)).Compile()
	svc, err := factory.NewService(context.Background(), session.New("client-1"))
	require.NoError(t, err)

	err = svc.HandlePublish(context.Background(), publish("a/b"))
	assert.Same(t, handlerErr, err)
}

func TestRouterBuiltinDefaultAcks(t *testing.T) {
	factory := New().Route("a/b", factoryOf(&countingHandler{})).Compile()
	svc, err := factory.NewService(context.Background(), session.New("client-1"))
	require.NoError(t, err)

	assert.NoError(t, svc.HandlePublish(context.Background(), publish("no/such/route")))
}

func TestRouterNormalizesTopicInPlace(t *testing.T) {
	h := &countingHandler{}
	factory := New().Route("a/b", factoryOf(h)).Compile()
	svc, err := factory.NewService(context.Background(), session.New("client-1"))
	require.NoError(t, err)

	m := publish("a/b/")
	require.NoError(t, svc.HandlePublish(context.Background(), m))
	assert.Equal(t, int64(1), h.calls.Load())
	assert.Equal(t, "a/b", m.Topic)
}

func TestRouterConstructionRouteSlotFailure(t *testing.T) {
	bootErr := errors.New("slot construction failed")
	ok := &countingHandler{}

	factory := New().
		Route("a/#", factoryOf(ok)).
		Route("b/#", failingFactory(bootErr)).
		Compile()

	svc, err := factory.NewService(context.Background(), session.New("client-1"))
	assert.Nil(t, svc)
	assert.Same(t, bootErr, err)
}

func TestRouterConstructionDefaultFailureWins(t *testing.T) {
	defErr := errors.New("default construction failed")

	var routeBuilt atomic.Bool
	factory := New().
		Route("a/#", service.PublishHandlerFactoryFunc(func(ctx context.Context, sess *session.Session) (service.PublishHandler, error) {
			routeBuilt.Store(true)
			return &countingHandler{}, nil
		})).
		Default(failingFactory(defErr)).
		Compile()

	svc, err := factory.NewService(context.Background(), session.New("client-1"))
	assert.Nil(t, svc)
	assert.Same(t, defErr, err)
	// The default slot is resolved before route construction results are
	// consumed, so its failure aborts regardless of the route outcome.
	assert.False(t, routeBuilt.Load())
}

func TestRouterEachFactorySeesSameSession(t *testing.T) {
	sess := session.New("client-1")
	seen := make(chan *session.Session, 2)
	record := service.PublishHandlerFactoryFunc(func(ctx context.Context, s *session.Session) (service.PublishHandler, error) {
		seen <- s
		return &countingHandler{}, nil
	})

	factory := New().Route("a/#", record).Route("b/#", record).Compile()
	_, err := factory.NewService(context.Background(), sess)
	require.NoError(t, err)

	assert.Same(t, sess, <-seen)
	assert.Same(t, sess, <-seen)
}

// readyProbe records readiness probes and reports the configured error.
type readyProbe struct {
	countingHandler
	probes atomic.Int64
	ready  error
}

func (p *readyProbe) Ready(ctx context.Context) error {
	p.probes.Add(1)
	return p.ready
}

func TestRouterReadinessPollsEverySlot(t *testing.T) {
	notReady := errors.New("slot one not ready")
	p1 := &readyProbe{ready: notReady}
	p2 := &readyProbe{}
	p3 := &readyProbe{}

	factory := New().
		Route("a/#", factoryOf(p1)).
		Route("b/#", factoryOf(p2)).
		Route("c/#", factoryOf(p3)).
		Compile()

	svc, err := factory.NewService(context.Background(), session.New("client-1"))
	require.NoError(t, err)

	// Not ready while one slot is not ready, and every slot was probed
	// despite the early failure.
	err = svc.Ready(context.Background())
	assert.Same(t, notReady, err)
	assert.Equal(t, int64(1), p1.probes.Load())
	assert.Equal(t, int64(1), p2.probes.Load())
	assert.Equal(t, int64(1), p3.probes.Load())

	// All slots ready: the service is ready, and again all were probed.
	p1.ready = nil
	assert.NoError(t, svc.Ready(context.Background()))
	assert.Equal(t, int64(2), p2.probes.Load())
	assert.Equal(t, int64(2), p3.probes.Load())
}

func TestRouterCompileSnapshotsRoutes(t *testing.T) {
	h1 := &countingHandler{}
	late := &countingHandler{}

	r := New().Route("a/#", factoryOf(h1))
	factory := r.Compile()

	// Registering after compilation must not affect the compiled factory.
	r.Route("late/#", factoryOf(late))

	svc, err := factory.NewService(context.Background(), session.New("client-1"))
	require.NoError(t, err)

	require.NoError(t, svc.HandlePublish(context.Background(), publish("late/topic")))
	assert.Equal(t, int64(0), late.calls.Load())
}

func TestRouterFactorySharedAcrossSessions(t *testing.T) {
	var built atomic.Int64
	factory := New().
		Route("a/#", service.PublishHandlerFactoryFunc(func(ctx context.Context, sess *session.Session) (service.PublishHandler, error) {
			built.Add(1)
			return &countingHandler{}, nil
		})).
		Compile()

	s1, err := factory.NewService(context.Background(), session.New("client-1"))
	require.NoError(t, err)
	s2, err := factory.NewService(context.Background(), session.New("client-2"))
	require.NoError(t, err)

	// One slot instance per session, from the same compiled table.
	assert.Equal(t, int64(2), built.Load())
	assert.NotSame(t, s1, s2)
}
