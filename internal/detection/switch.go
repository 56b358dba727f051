// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

// Package detection is the seam to the external motion-detection
// collaborator. The detection algorithm itself lives outside this process
// boundary; the broker only owns the enable toggle and the alert intake
// (see internal/alerts).
package detection

import (
	"sync/atomic"
	"time"

	"github.com/camspan/camspan/internal/logging"
)

// AlertSink is where the detector delivers its findings. Satisfied by
// *alerts.Propagator.
type AlertSink interface {
	Publish(deviceID string, ts time.Time, confidence *float64)
}

// Switch is the process-wide motion-detection enable flag. Viewers flip it
// via toggle_motion_detection or the REST toggle; the detector consults it
// before analyzing frames.
type Switch struct {
	enabled atomic.Bool
}

// NewSwitch creates a switch with the given initial state.
func NewSwitch(enabled bool) *Switch {
	s := &Switch{}
	s.enabled.Store(enabled)
	return s
}

// Enabled reports the current state.
func (s *Switch) Enabled() bool {
	return s.enabled.Load()
}

// Set forces a state and returns it.
func (s *Switch) Set(enabled bool) bool {
	s.enabled.Store(enabled)
	logging.Info().Bool("enabled", enabled).Msg("motion detection toggled")
	return enabled
}

// Toggle flips the state and returns the new value.
func (s *Switch) Toggle() bool {
	for {
		old := s.enabled.Load()
		if s.enabled.CompareAndSwap(old, !old) {
			logging.Info().Bool("enabled", !old).Msg("motion detection toggled")
			return !old
		}
	}
}
