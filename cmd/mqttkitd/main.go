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

// Package main runs the reference broker on top of the framework.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/mqttkit-go/pkg/broker"
	"github.com/turtacn/mqttkit-go/pkg/config"
	"github.com/turtacn/mqttkit-go/pkg/handshake"
	"github.com/turtacn/mqttkit-go/pkg/metrics"
	"github.com/turtacn/mqttkit-go/pkg/server"
	"github.com/turtacn/mqttkit-go/pkg/transport"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	flag.Parse()

	log.Println("Starting mqttkitd...")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	authenticator, err := cfg.BuildAuthenticator()
	if err != nil {
		log.Fatalf("Failed to configure authentication: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := log.Default()

	acceptor, err := server.NewFactory(
		handshake.NewMQTTFactory(authenticator, logger),
		broker.New(logger),
	).
		DisconnectTimeout(cfg.DisconnectGrace()).
		Logger(logger).
		Build(ctx)
	if err != nil {
		log.Fatalf("Failed to build acceptor: %v", err)
	}

	srv := transport.NewServer(acceptor, cfg.HandshakeDeadline(), logger)
	if err := srv.Start(ctx, cfg.Server.ListenAddr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	if cfg.Server.MetricsAddr != "" {
		go metrics.Serve(cfg.Server.MetricsAddr)
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)
	<-shutdownChan

	log.Println("Shutdown signal received. Shutting down...")
	cancel()
	srv.Stop()
}
