// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

// Package alerts propagates motion alerts from the detection collaborator
// to every dashboard viewer and keeps a bounded recent-alert history.
package alerts

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/camspan/camspan/internal/logging"
	"github.com/camspan/camspan/internal/metrics"
	"github.com/camspan/camspan/internal/models"
	"github.com/camspan/camspan/internal/protocol"
)

// HistorySize is the fixed capacity of the recent-alert buffer. Oldest
// entries are evicted first; the lifetime counter is unaffected.
const HistorySize = 10

// Broadcaster fans an event out to all connected viewers. Satisfied by
// *hub.Hub.
type Broadcaster interface {
	Broadcast(msg protocol.Message)
}

// Propagator receives alerts from the external detector, maintains the
// recent-alert ring, and broadcasts motion_alert events in arrival order.
// No deduplication happens here; the detector owns debouncing.
type Propagator struct {
	mu     sync.Mutex
	recent []models.MotionAlert // newest first, len <= HistorySize

	// total counts every alert ever received, independent of the ring.
	total atomic.Uint64

	broadcaster Broadcaster
}

// New creates a propagator publishing to the given broadcaster.
func New(b Broadcaster) *Propagator {
	return &Propagator{broadcaster: b}
}

// Publish records one alert and broadcasts it. The append-and-evict is
// atomic with respect to Recent.
func (p *Propagator) Publish(deviceID string, ts time.Time, confidence *float64) {
	if ts.IsZero() {
		ts = time.Now()
	}
	alert := models.MotionAlert{
		DeviceID:   deviceID,
		Timestamp:  ts.UTC(),
		Confidence: confidence,
	}

	p.mu.Lock()
	if len(p.recent) < HistorySize {
		p.recent = append(p.recent, models.MotionAlert{})
	}
	copy(p.recent[1:], p.recent)
	p.recent[0] = alert
	p.mu.Unlock()

	p.total.Add(1)
	metrics.MotionAlerts.Inc()

	logging.Debug().
		Str("device_id", deviceID).
		Time("timestamp", alert.Timestamp).
		Msg("motion alert")

	p.broadcaster.Broadcast(protocol.MustMessage(protocol.EventMotionAlert, alert))
}

// Recent returns a copy of the alert buffer, newest first.
func (p *Propagator) Recent() []models.MotionAlert {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.MotionAlert, len(p.recent))
	copy(out, p.recent)
	return out
}

// Total is the lifetime alert count.
func (p *Propagator) Total() uint64 {
	return p.total.Load()
}
