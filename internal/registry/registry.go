// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

// Package registry is the canonical map of live device sessions. It is the
// single owner of every DeviceSession; all mutation flows through its
// operations and callers only ever see copies.
package registry

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camspan/camspan/internal/logging"
	"github.com/camspan/camspan/internal/metrics"
	"github.com/camspan/camspan/internal/models"
)

// ErrUnknownDevice is returned for operations on an unregistered device id.
var ErrUnknownDevice = errors.New("registry: unknown device")

// ErrMissingDeviceID is returned when a registration carries no device id.
// The registry is never mutated in that case.
var ErrMissingDeviceID = errors.New("registry: missing device id")

// Metadata is the device-reported information captured at registration.
type Metadata struct {
	DeviceType string
	UserAgent  string
	Screen     models.ScreenDimensions
}

// StreamInfo is the camera state a device reports when it begins (or
// resumes, after a camera switch) streaming.
type StreamInfo struct {
	CameraDirection models.CameraDirection
	Resolution      *models.Resolution
}

// Registry tracks live device sessions.
//
// All mutations take the registry lock, so mutations for one device never
// interleave and a reader never observes a partially constructed session.
// A multi-device snapshot may be torn across devices; that is acceptable
// for stats and viewer bootstraps.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*models.DeviceSession

	// frames counts every accepted frame for the process lifetime,
	// independent of session lifecycles.
	frames atomic.Uint64

	// now is replaceable in tests.
	now func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]*models.DeviceSession),
		now:      time.Now,
	}
}

// Register creates a session for deviceID, replacing any existing one.
// A replaced session is a fresh object: no counters or camera state carry
// over, mirroring the ephemeral identity contract.
func (r *Registry) Register(deviceID string, meta Metadata) (models.DeviceSession, error) {
	if deviceID == "" {
		metrics.DeviceRegistrations.WithLabelValues("rejected").Inc()
		return models.DeviceSession{}, ErrMissingDeviceID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced := r.sessions[deviceID]
	session := &models.DeviceSession{
		DeviceID:        deviceID,
		Status:          models.StatusConnected,
		DeviceType:      meta.DeviceType,
		UserAgent:       meta.UserAgent,
		Screen:          meta.Screen,
		CameraDirection: models.DirectionUnknown,
		RegisteredAt:    r.now().UTC(),
	}
	r.sessions[deviceID] = session

	if !replaced {
		metrics.ConnectedDevices.Inc()
	}
	metrics.DeviceRegistrations.WithLabelValues("accepted").Inc()
	logging.Info().
		Str("device_id", deviceID).
		Str("device_type", meta.DeviceType).
		Bool("replaced", replaced).
		Msg("device registered")

	return *session, nil
}

// BeginStream moves an existing session to streaming and records the
// camera state the device reports. Calling it on a session that is already
// streaming only refreshes direction and resolution; frame counters are
// untouched, which is what keeps a camera switch from resetting them.
func (r *Registry) BeginStream(deviceID string, info StreamInfo) (models.DeviceSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[deviceID]
	if !ok {
		return models.DeviceSession{}, ErrUnknownDevice
	}

	if session.Status != models.StatusStreaming {
		session.Status = models.StatusStreaming
		metrics.ActiveStreams.Inc()
	}
	if info.CameraDirection != "" {
		session.CameraDirection = info.CameraDirection
	}
	if info.Resolution != nil {
		res := *info.Resolution
		session.Resolution = &res
	}

	logging.Info().
		Str("device_id", deviceID).
		Str("direction", string(session.CameraDirection)).
		Msg("stream started")
	return *session, nil
}

// EndStream returns a streaming session to connected. The session stays
// registered.
func (r *Registry) EndStream(deviceID string) (models.DeviceSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[deviceID]
	if !ok {
		return models.DeviceSession{}, ErrUnknownDevice
	}
	if session.Status == models.StatusStreaming {
		metrics.ActiveStreams.Dec()
	}
	session.Status = models.StatusConnected

	logging.Info().Str("device_id", deviceID).Msg("stream stopped")
	return *session, nil
}

// Disconnect removes the session entirely. Returns false when the device
// was not registered.
func (r *Registry) Disconnect(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[deviceID]
	if !ok {
		return false
	}
	if session.Status == models.StatusStreaming {
		metrics.ActiveStreams.Dec()
	}
	delete(r.sessions, deviceID)
	metrics.ConnectedDevices.Dec()

	logging.Info().Str("device_id", deviceID).Msg("device disconnected")
	return true
}

// RecordFrame accounts one frame against a session. Only sessions in the
// streaming state accept frames; everything else reports ok=false so the
// relay can drop silently (stop/frame races are expected, not errors).
func (r *Registry) RecordFrame(deviceID string, at time.Time) (models.DeviceSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[deviceID]
	if !ok || session.Status != models.StatusStreaming {
		return models.DeviceSession{}, false
	}

	session.FrameCount++
	ts := at.UTC()
	session.LastFrameAt = &ts
	r.frames.Add(1)

	return *session, true
}

// Get returns a copy of the session for deviceID.
func (r *Registry) Get(deviceID string) (models.DeviceSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[deviceID]
	if !ok {
		return models.DeviceSession{}, false
	}
	return *session, true
}

// Snapshot returns copies of every live session in deterministic order
// (registration time, then device id).
func (r *Registry) Snapshot() []models.DeviceSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.DeviceSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out
}

// Counts returns the number of live sessions and how many are streaming.
func (r *Registry) Counts() (total, streaming int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total = len(r.sessions)
	for _, s := range r.sessions {
		if s.Status == models.StatusStreaming {
			streaming++
		}
	}
	return total, streaming
}

// FramesProcessed is the lifetime count of accepted frames.
func (r *Registry) FramesProcessed() uint64 {
	return r.frames.Load()
}
