// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

// Package stats periodically derives system-wide counters from the
// registry and alert propagator and broadcasts them to viewers.
package stats

import (
	"context"
	"time"

	"github.com/camspan/camspan/internal/alerts"
	"github.com/camspan/camspan/internal/logging"
	"github.com/camspan/camspan/internal/models"
	"github.com/camspan/camspan/internal/protocol"
	"github.com/camspan/camspan/internal/registry"
)

// Broadcaster fans an event out to all connected viewers. Satisfied by
// *hub.Hub.
type Broadcaster interface {
	Broadcast(msg protocol.Message)
}

// Aggregator computes ServerStats on a fixed wall-clock period and
// broadcasts server_stats. The broadcast path is the same non-blocking
// fan-out as frames and alerts, so a slow viewer cannot stall it.
type Aggregator struct {
	registry    *registry.Registry
	propagator  *alerts.Propagator
	broadcaster Broadcaster
	interval    time.Duration
}

// New creates an aggregator with the given broadcast period.
func New(reg *registry.Registry, prop *alerts.Propagator, b Broadcaster, interval time.Duration) *Aggregator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Aggregator{
		registry:    reg,
		propagator:  prop,
		broadcaster: b,
		interval:    interval,
	}
}

// Current derives the stats from a registry snapshot and the lifetime
// counters. The snapshot may be torn across devices but every individual
// session is consistent.
func (a *Aggregator) Current() models.ServerStats {
	total, streaming := a.registry.Counts()
	return models.ServerStats{
		TotalDevices:    total,
		ActiveStreams:   streaming,
		FramesProcessed: a.registry.FramesProcessed(),
		MotionAlerts:    a.propagator.Total(),
	}
}

// Broadcast pushes the current stats to all viewers once.
func (a *Aggregator) Broadcast() {
	stats := a.Current()
	a.broadcaster.Broadcast(protocol.MustMessage(protocol.EventServerStats, stats))
	logging.Debug().
		Int("total_devices", stats.TotalDevices).
		Int("active_streams", stats.ActiveStreams).
		Uint64("frames_processed", stats.FramesProcessed).
		Msg("server stats broadcast")
}

// Serve implements suture.Service: broadcast on every tick until the
// context is canceled.
func (a *Aggregator) Serve(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Str("component", "stats-aggregator").Msg("stats aggregator stopped")
			return ctx.Err()
		case <-ticker.C:
			a.Broadcast()
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (a *Aggregator) String() string {
	return "stats-aggregator"
}
