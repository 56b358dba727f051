// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

// Package main is the Camspan broker entry point.
//
// Camspan brokers sessions between browser-based wireless camera devices
// and dashboard viewers: devices register and stream frames over a
// websocket, viewers subscribe to a real-time fan-out of device state,
// frames, motion alerts, and server stats.
//
// Components start under a suture supervisor tree:
//
//  1. Configuration: Koanf v2 layered loading (defaults, YAML, env)
//  2. Messaging layer: dashboard hub and stats aggregator
//  3. API layer: chi HTTP server with REST, metrics, and the two
//     websocket endpoints (/ws/device, /ws/dashboard)
//
// Shutdown on SIGINT/SIGTERM cancels the tree; the HTTP server drains
// in-flight requests within server.shutdown_timeout.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/camspan/camspan/internal/alerts"
	"github.com/camspan/camspan/internal/api"
	"github.com/camspan/camspan/internal/config"
	"github.com/camspan/camspan/internal/detection"
	"github.com/camspan/camspan/internal/hub"
	"github.com/camspan/camspan/internal/logging"
	"github.com/camspan/camspan/internal/registry"
	"github.com/camspan/camspan/internal/relay"
	"github.com/camspan/camspan/internal/stats"
	"github.com/camspan/camspan/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Dur("stats_interval", cfg.Stream.StatsInterval).
		Bool("motion_detection", cfg.Stream.MotionDetection).
		Msg("starting camspan broker")

	// Broker core. The hub is the single fan-out path shared by the
	// relay, propagator, and aggregator.
	reg := registry.New()
	h := hub.New()
	prop := alerts.New(h)
	rel := relay.New(reg, h, cfg.Stream.MaxFrameRate)
	agg := stats.New(reg, prop, h, cfg.Stream.StatsInterval)
	motion := detection.NewSwitch(cfg.Stream.MotionDetection)

	srv := api.NewServer(cfg, reg, h, rel, prop, agg, motion)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	tree := supervisor.NewTree(supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddMessagingService(h)
	tree.AddMessagingService(agg)
	tree.AddAPIService(supervisor.NewHTTPServerService(httpServer, cfg.Server.Addr(), cfg.Server.ShutdownTimeout))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor tree error")
		os.Exit(1)
	}

	logging.Info().Msg("camspan broker stopped")
}
