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

// Package router routes inbound publish messages to per-topic handlers.
//
// A Router is a mutable builder: register topic filters with handler
// factories, then Compile it into an immutable Factory shared by every
// session. The Factory instantiates one handler set per session and each
// resulting Service dispatches every publish to the first matching handler,
// or to the session's default handler.
package router

import (
	"context"
	"log"
	"sync"

	"github.com/turtacn/mqttkit-go/pkg/messages"
	"github.com/turtacn/mqttkit-go/pkg/metrics"
	"github.com/turtacn/mqttkit-go/pkg/service"
	"github.com/turtacn/mqttkit-go/pkg/session"
	"github.com/turtacn/mqttkit-go/pkg/topic"
)

// route is one pattern/factory binding awaiting compilation.
type route struct {
	pattern string
	factory service.PublishHandlerFactory
}

// Router is the configuration-phase builder. It is not safe for concurrent
// use; compiled Factories are.
type Router struct {
	routes []route
	def    service.PublishHandlerFactory
	logger *log.Logger
}

// New creates an empty Router. Without a Default, unmatched publishes are
// logged and acknowledged with no further effect.
func New() *Router {
	return &Router{logger: log.Default()}
}

// Logger sets the log sink used by the built-in default handler and
// inherited by compiled factories.
func (r *Router) Logger(l *log.Logger) *Router {
	if l != nil {
		r.logger = l
	}
	return r
}

// Route registers a handler factory for a topic filter. Filters may use the
// protocol's single-level (+) and multi-level (#) wildcards. Routes are
// matched in registration order; when several filters match one topic, the
// first registered wins.
func (r *Router) Route(pattern string, factory service.PublishHandlerFactory) *Router {
	r.routes = append(r.routes, route{pattern: pattern, factory: factory})
	return r
}

// Default replaces the fallback handler factory used for publishes matching
// no registered filter.
func (r *Router) Default(factory service.PublishHandlerFactory) *Router {
	r.def = factory
	return r
}

// Compile seals the registered routes into an immutable Factory. The
// Factory snapshots the current routes: registering more routes afterwards
// affects only later Compile calls, never existing factories or sessions.
func (r *Router) Compile() *Factory {
	tb := topic.NewBuilder()
	factories := make([]service.PublishHandlerFactory, len(r.routes))
	for i, rt := range r.routes {
		tb.Add(rt.pattern, i)
		factories[i] = rt.factory
	}

	def := r.def
	if def == nil {
		def = defaultFactory(r.logger)
	}

	return &Factory{
		table:     tb.Compile(),
		factories: factories,
		def:       def,
		logger:    r.logger,
	}
}

// defaultFactory builds the built-in fallback handler, which logs the
// unmatched topic and acknowledges the message.
func defaultFactory(logger *log.Logger) service.PublishHandlerFactory {
	return service.PublishHandlerFactoryFunc(func(ctx context.Context, sess *session.Session) (service.PublishHandler, error) {
		return service.PublishHandlerFunc(func(ctx context.Context, m *messages.Publish) error {
			logger.Printf("No route for topic %q, acknowledging", m.Topic)
			metrics.UnroutedPublishesTotal.Inc()
			return nil
		}), nil
	})
}

// Factory is the compiled, immutable route table plus its handler
// factories. One Factory is shared by all sessions of a configured router;
// it is never mutated after Compile, so concurrent NewService calls need no
// locking.
type Factory struct {
	table     *topic.Table
	factories []service.PublishHandlerFactory
	def       service.PublishHandlerFactory
	logger    *log.Logger
}

// NewService instantiates the per-session handler set.
//
// The default slot is constructed first and its outcome fully resolved
// before any route slot result is consumed; a default failure aborts the
// construction regardless of the other slots. The route slots are then
// constructed concurrently, every factory receiving the same session. Any
// slot failure aborts the whole construction with that handler's error:
// there is no partial router.
func (f *Factory) NewService(ctx context.Context, sess *session.Session) (*Service, error) {
	def, err := f.def.NewPublishHandler(ctx, sess)
	if err != nil {
		return nil, err
	}

	slots := make([]service.PublishHandler, len(f.factories))
	errs := make([]error, len(f.factories))
	var wg sync.WaitGroup
	for i, factory := range f.factories {
		wg.Add(1)
		go func(i int, factory service.PublishHandlerFactory) {
			defer wg.Done()
			slots[i], errs[i] = factory.NewPublishHandler(ctx, sess)
		}(i, factory)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return &Service{
		table:  f.table,
		slots:  slots,
		def:    def,
		logger: f.logger,
	}, nil
}

// NewPublishHandler lets a Factory serve directly as a
// service.PublishHandlerFactory.
func (f *Factory) NewPublishHandler(ctx context.Context, sess *session.Session) (service.PublishHandler, error) {
	return f.NewService(ctx, sess)
}

// Service is one session's routing handler set. It is exclusively owned by
// its session; only the route table behind it is shared.
type Service struct {
	table  *topic.Table
	slots  []service.PublishHandler
	def    service.PublishHandler
	logger *log.Logger
}

// HandlePublish normalizes the message topic in place, then forwards the
// message to the first matching route's handler, or to the default handler
// when nothing matches. The handler's result is returned unchanged.
func (s *Service) HandlePublish(ctx context.Context, m *messages.Publish) error {
	if idx, ok := s.table.Match(m.NormalizeTopic()); ok {
		return s.slots[idx].HandlePublish(ctx, m)
	}
	return s.def.HandlePublish(ctx, m)
}

// Ready reports readiness as the conjunction of every route slot's
// readiness. Every slot is probed on every call, even after one has already
// reported not-ready, so each pending slot observes the check and can
// arrange its own wakeup; the first error encountered is returned. The
// default slot carries no readiness.
func (s *Service) Ready(ctx context.Context) error {
	var firstErr error
	for _, slot := range s.slots {
		rc, ok := slot.(service.ReadyChecker)
		if !ok {
			continue
		}
		if err := rc.Ready(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
