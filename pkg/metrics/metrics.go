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

// Package metrics provides Prometheus metrics for the framework.
package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal counts accepted transport connections.
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqttkit_connections_total",
		Help: "The total number of connections handed to the acceptor.",
	})

	// HandshakeFailuresTotal counts connections rejected during protocol
	// negotiation.
	HandshakeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqttkit_handshake_failures_total",
		Help: "The total number of failed connection handshakes.",
	})

	// HandshakeTimeoutsTotal counts connections dropped because the
	// handshake did not finish before the configured deadline.
	HandshakeTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqttkit_handshake_timeouts_total",
		Help: "The total number of handshakes abandoned on deadline.",
	})

	// UnroutedPublishesTotal counts publishes that matched no route and
	// fell through to the router's default handler.
	UnroutedPublishesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqttkit_unrouted_publishes_total",
		Help: "The total number of publishes handled by the default route.",
	})

	// DroppedPublishesTotal counts outbound publishes dropped because a
	// session sink mailbox was full.
	DroppedPublishesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqttkit_dropped_publishes_total",
		Help: "The total number of outbound publishes dropped on full sinks.",
	})

	// SupervisorRestartsTotal counts restarts of supervised actors.
	SupervisorRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mqttkit_supervisor_restarts_total",
		Help: "The total number of times a supervised actor has been restarted.",
	},
		[]string{"actor_id"},
	)
)

// Serve starts an HTTP server exposing the Prometheus metrics on /metrics.
func Serve(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	log.Printf("Metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		logFatalf("Metrics server failed: %v", err)
	}
}

// logFatalf can be replaced by tests to prevent process exit.
var logFatalf = log.Fatalf
