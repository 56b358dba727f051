// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

// Package relay forwards device frames to dashboard viewers. Delivery is
// best-effort fire-and-forget: a slow viewer misses frames, it never
// blocks the device or other viewers.
package relay

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/camspan/camspan/internal/logging"
	"github.com/camspan/camspan/internal/metrics"
	"github.com/camspan/camspan/internal/models"
	"github.com/camspan/camspan/internal/protocol"
	"github.com/camspan/camspan/internal/registry"
)

// Broadcaster fans an event out to all connected viewers. Satisfied by
// *hub.Hub.
type Broadcaster interface {
	Broadcast(msg protocol.Message)
}

// Relay accepts frames for live streaming sessions, accounts them in the
// registry, and broadcasts frame_update events.
type Relay struct {
	registry    *registry.Registry
	broadcaster Broadcaster

	// maxRate caps accepted frames per second per device; 0 = unlimited.
	maxRate float64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a relay. maxFrameRate of 0 disables per-device throttling.
func New(reg *registry.Registry, b Broadcaster, maxFrameRate float64) *Relay {
	return &Relay{
		registry:    reg,
		broadcaster: b,
		maxRate:     maxFrameRate,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// OnFrame processes one inbound frame envelope. Frames for unknown or
// non-streaming sessions are dropped silently: races between a stop and
// in-flight frames are expected. Returns whether the frame was relayed.
func (r *Relay) OnFrame(env models.FrameEnvelope) bool {
	if r.maxRate > 0 && !r.limiter(env.DeviceID).Allow() {
		metrics.FramesDropped.WithLabelValues("rate_limited").Inc()
		return false
	}

	session, ok := r.registry.RecordFrame(env.DeviceID, env.Timestamp)
	if !ok {
		reason := "not_streaming"
		if _, exists := r.registry.Get(env.DeviceID); !exists {
			reason = "unknown_session"
		}
		metrics.FramesDropped.WithLabelValues(reason).Inc()
		return false
	}

	metrics.FramesProcessed.Inc()
	metrics.FrameBytes.Observe(float64(len(env.FrameData)))

	if session.FrameCount%100 == 0 {
		logging.Debug().
			Str("device_id", env.DeviceID).
			Uint64("frame_count", session.FrameCount).
			Msg("frames relayed")
	}

	r.broadcaster.Broadcast(protocol.MustMessage(protocol.EventFrameUpdate, protocol.CameraFramePayload{
		DeviceID:  env.DeviceID,
		FrameData: env.FrameData,
		Timestamp: env.Timestamp,
	}))
	return true
}

// Forget releases the rate limiter for a disconnected device.
func (r *Relay) Forget(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, deviceID)
}

func (r *Relay) limiter(deviceID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	lim, ok := r.limiters[deviceID]
	if !ok {
		// Burst of one over the sustained rate absorbs capture jitter.
		lim = rate.NewLimiter(rate.Limit(r.maxRate), int(r.maxRate)+1)
		r.limiters[deviceID] = lim
	}
	return lim
}
