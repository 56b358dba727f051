// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/camspan/camspan/internal/logging"
	"github.com/camspan/camspan/internal/models"
)

// State is the acquisition machine state.
type State string

const (
	StateIdle               State = "idle"
	StateCheckingPermission State = "checking_permission"
	StateAcquiring          State = "acquiring"
	StateStreaming          State = "streaming"
	StateSwitchingCamera    State = "switching_camera"
	StateStopped            State = "stopped"
	StateErrored            State = "errored"
)

// DefaultCaptureInterval is the frame cadence when none is configured.
const DefaultCaptureInterval = 200 * time.Millisecond

// ErrNotStreaming is returned by SwitchCamera outside the streaming
// state.
var ErrNotStreaming = errors.New("camera: not streaming")

// StreamDetails is what a started (or re-started) stream negotiated.
type StreamDetails struct {
	Facing     models.CameraDirection
	Resolution models.Resolution
}

// Events are the machine's callbacks. They are invoked synchronously
// from the machine (OnFrame from the cadence goroutine) and must not
// call back into it.
type Events struct {
	OnFrame         func(models.FrameEnvelope)
	OnStreamStarted func(StreamDetails)
	OnStreamStopped func()
	OnError         func(*Error)
}

// Options tune the machine.
type Options struct {
	// CaptureInterval is the frame capture period. Zero means
	// DefaultCaptureInterval.
	CaptureInterval time.Duration
}

// Machine drives camera acquisition for one device: permission check,
// constrained open with one relaxed retry, capture cadence, switching,
// and teardown. Every exit path releases the hardware handle.
type Machine struct {
	provider Provider
	deviceID string
	events   Events
	interval time.Duration

	mu         sync.Mutex
	state      State
	lastErr    *Error
	track      Track
	facing     models.CameraDirection
	resolution models.Resolution

	cancelCadence context.CancelFunc
	cadenceDone   chan struct{}
}

// NewMachine creates an idle machine for deviceID on the given provider.
func NewMachine(provider Provider, deviceID string, events Events, opts Options) *Machine {
	interval := opts.CaptureInterval
	if interval <= 0 {
		interval = DefaultCaptureInterval
	}
	return &Machine{
		provider: provider,
		deviceID: deviceID,
		events:   events,
		interval: interval,
		state:    StateIdle,
		facing:   models.DirectionUnknown,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the most recent classified failure, if any.
func (m *Machine) LastError() *Error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Facing returns the live camera direction.
func (m *Machine) Facing() models.CameraDirection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.facing
}

// Resolution returns the negotiated capture size of the live track.
func (m *Machine) Resolution() models.Resolution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolution
}

// Start runs the acquisition sequence: context checks, permission,
// constrained open with exactly one relaxed retry on an overconstrained
// failure, then the capture cadence. Valid from idle, stopped, and
// errored; an errored machine is restartable once the user acts.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateIdle, StateStopped, StateErrored:
	default:
		return fmt.Errorf("camera: start from %s", m.state)
	}

	env := m.provider.Environment()
	if !env.SecureContext && !env.Loopback {
		return m.failLocked(NewError(KindInsecureContext, nil))
	}
	if !m.provider.Supported() {
		return m.failLocked(NewError(KindUnsupportedBrowser, nil))
	}

	m.state = StateCheckingPermission
	perm, err := m.provider.Permission(ctx)
	if err != nil {
		perm = PermissionUnknown
	}
	if perm == PermissionDenied {
		// Short-circuit: opening would just re-prompt against a refusal.
		return m.failLocked(NewError(KindPermissionDenied, nil))
	}

	m.state = StateAcquiring
	profile := DefaultProfile(env)
	track, err := m.openWithFallback(ctx, profile)
	if err != nil {
		return m.failLocked(Classify(err))
	}

	m.adoptTrackLocked(track, profile.Facing)
	return nil
}

// openWithFallback opens with the given profile and retries exactly once
// with the relaxed profile when the failure is overconstrained.
func (m *Machine) openWithFallback(ctx context.Context, profile Constraints) (Track, error) {
	track, err := m.provider.Open(ctx, profile)
	if err == nil {
		return track, nil
	}
	if Classify(err).Kind != KindOverconstrained {
		return nil, err
	}

	logging.Warn().Str("device_id", m.deviceID).Msg("constraints rejected, retrying with relaxed profile")
	return m.provider.Open(ctx, RelaxedProfile())
}

// SwitchCamera toggles the facing: release the current track, reopen
// with the opposite direction. Only valid while streaming. A failed
// switch leaves the machine cleanly stopped with the camera released.
func (m *Machine) SwitchCamera(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateStreaming {
		return ErrNotStreaming
	}
	m.state = StateSwitchingCamera
	m.stopCadenceLocked()
	m.closeTrackLocked()

	target := models.DirectionRear
	if m.facing == models.DirectionRear {
		target = models.DirectionFront
	}

	env := m.provider.Environment()
	track, err := m.provider.Open(ctx, DefaultProfile(env).WithFacing(target))
	if err != nil {
		cerr := Classify(err)
		m.state = StateStopped
		m.lastErr = cerr
		logging.Warn().Err(err).Str("device_id", m.deviceID).Msg("camera switch failed, stream stopped")
		if m.events.OnError != nil {
			m.events.OnError(cerr)
		}
		if m.events.OnStreamStopped != nil {
			m.events.OnStreamStopped()
		}
		return cerr
	}

	m.adoptTrackLocked(track, target)
	return nil
}

// Stop releases everything and parks the machine in stopped. It is a
// no-op when nothing is running; a stopped machine can Start again.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	hadStream := m.track != nil
	m.stopCadenceLocked()
	m.closeTrackLocked()

	if m.state == StateIdle {
		return
	}
	m.state = StateStopped
	if hadStream && m.events.OnStreamStopped != nil {
		m.events.OnStreamStopped()
	}
}

// adoptTrackLocked moves to streaming on a freshly opened track.
func (m *Machine) adoptTrackLocked(track Track, requested models.CameraDirection) {
	m.track = track
	m.resolution = track.Resolution()
	m.facing = track.Facing()
	if m.facing == models.DirectionUnknown && requested != "" {
		m.facing = requested
	}

	m.startCadenceLocked(track)
	m.state = StateStreaming
	m.lastErr = nil

	logging.Info().
		Str("device_id", m.deviceID).
		Str("facing", string(m.facing)).
		Int("width", m.resolution.Width).
		Int("height", m.resolution.Height).
		Msg("camera streaming")

	if m.events.OnStreamStarted != nil {
		m.events.OnStreamStarted(StreamDetails{Facing: m.facing, Resolution: m.resolution})
	}
}

// startCadenceLocked launches the capture loop for track.
func (m *Machine) startCadenceLocked(track Track) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancelCadence = cancel
	m.cadenceDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				frame, err := track.Capture(ctx)
				if err != nil {
					if ctx.Err() == nil {
						logging.Debug().Err(err).Str("device_id", m.deviceID).Msg("frame capture failed")
					}
					continue
				}
				if m.events.OnFrame != nil {
					m.events.OnFrame(models.FrameEnvelope{
						DeviceID:  m.deviceID,
						FrameData: frame,
						Timestamp: time.Now().UTC(),
					})
				}
			}
		}
	}()
}

// stopCadenceLocked cancels the capture loop and waits for it to exit,
// so the track is never captured after close.
func (m *Machine) stopCadenceLocked() {
	if m.cancelCadence == nil {
		return
	}
	m.cancelCadence()
	<-m.cadenceDone
	m.cancelCadence = nil
	m.cadenceDone = nil
}

func (m *Machine) closeTrackLocked() {
	if m.track == nil {
		return
	}
	if err := m.track.Close(); err != nil {
		logging.Debug().Err(err).Str("device_id", m.deviceID).Msg("track close failed")
	}
	m.track = nil
}

func (m *Machine) failLocked(err *Error) *Error {
	m.state = StateErrored
	m.lastErr = err
	logging.Warn().
		Str("device_id", m.deviceID).
		Str("kind", string(err.Kind)).
		Bool("user_actionable", err.UserActionable()).
		Msg("camera acquisition failed")
	if m.events.OnError != nil {
		m.events.OnError(err)
	}
	return err
}
