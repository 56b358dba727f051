// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

package camera

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/camspan/camspan/internal/logging"
	"github.com/camspan/camspan/internal/models"
)

//nolint:gochecknoinits // quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "info", Format: "json", Output: io.Discard})
}

type eventRecorder struct {
	frames  chan models.FrameEnvelope
	started chan StreamDetails
	stopped chan struct{}
	errs    chan *Error
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{
		frames:  make(chan models.FrameEnvelope, 256),
		started: make(chan StreamDetails, 8),
		stopped: make(chan struct{}, 8),
		errs:    make(chan *Error, 8),
	}
}

func (r *eventRecorder) events() Events {
	return Events{
		OnFrame:         func(f models.FrameEnvelope) { r.frames <- f },
		OnStreamStarted: func(d StreamDetails) { r.started <- d },
		OnStreamStopped: func() { r.stopped <- struct{}{} },
		OnError:         func(e *Error) { r.errs <- e },
	}
}

func waitStarted(t *testing.T, r *eventRecorder) StreamDetails {
	t.Helper()
	select {
	case d := <-r.started:
		return d
	case <-time.After(time.Second):
		t.Fatal("OnStreamStarted never fired")
		return StreamDetails{}
	}
}

func waitStopped(t *testing.T, r *eventRecorder) {
	t.Helper()
	select {
	case <-r.stopped:
	case <-time.After(time.Second):
		t.Fatal("OnStreamStopped never fired")
	}
}

func TestStartStreamsFrames(t *testing.T) {
	p := NewSyntheticProvider()
	r := newEventRecorder()
	m := NewMachine(p, "camera_test1", r.events(), Options{CaptureInterval: 5 * time.Millisecond})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	if m.State() != StateStreaming {
		t.Fatalf("State = %s, want streaming", m.State())
	}

	details := waitStarted(t, r)
	if details.Facing != models.DirectionRear {
		t.Errorf("Facing = %s, want rear (mobile profile)", details.Facing)
	}
	if details.Resolution != (models.Resolution{Width: 640, Height: 480}) {
		t.Errorf("Resolution = %+v, want 640x480", details.Resolution)
	}

	select {
	case frame := <-r.frames:
		if frame.DeviceID != "camera_test1" {
			t.Errorf("frame DeviceID = %s", frame.DeviceID)
		}
		if !strings.HasPrefix(frame.FrameData, "data:image/jpeg;base64,") {
			t.Errorf("frame is not a JPEG data URI: %.40s", frame.FrameData)
		}
		if frame.Timestamp.IsZero() {
			t.Error("frame timestamp not set")
		}
	case <-time.After(time.Second):
		t.Fatal("no frames captured")
	}
}

func TestStopReleasesTrackAndRestarts(t *testing.T) {
	p := NewSyntheticProvider()
	r := newEventRecorder()
	m := NewMachine(p, "d1", r.events(), Options{CaptureInterval: 5 * time.Millisecond})

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	track := p.LastTrack().(*syntheticTrack)

	m.Stop()
	waitStopped(t, r)
	if m.State() != StateStopped {
		t.Errorf("State = %s, want stopped", m.State())
	}
	if !track.Closed() {
		t.Error("track not released on stop")
	}

	// Stop again is a no-op.
	m.Stop()

	// A stopped machine restarts.
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if m.State() != StateStreaming {
		t.Errorf("State after restart = %s, want streaming", m.State())
	}
	m.Stop()
}

func TestInsecureContextRefused(t *testing.T) {
	p := NewSyntheticProvider()
	p.Env.SecureContext = false
	p.Env.Loopback = false
	m := NewMachine(p, "d1", Events{}, Options{})

	err := m.Start(context.Background())
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Kind != KindInsecureContext {
		t.Fatalf("Start = %v, want insecure_context", err)
	}
	if m.State() != StateErrored {
		t.Errorf("State = %s, want errored", m.State())
	}
	if p.OpenCalls() != 0 {
		t.Errorf("Open called %d times on an insecure context", p.OpenCalls())
	}
	if cerr.UserActionable() {
		t.Error("insecure context is not user actionable")
	}
}

func TestLoopbackAllowsInsecureContext(t *testing.T) {
	p := NewSyntheticProvider()
	p.Env.SecureContext = false
	p.Env.Loopback = true
	m := NewMachine(p, "d1", Events{}, Options{CaptureInterval: time.Hour})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start on loopback: %v", err)
	}
	m.Stop()
}

func TestUnsupportedBrowser(t *testing.T) {
	p := NewSyntheticProvider()
	p.Unsupported = true
	m := NewMachine(p, "d1", Events{}, Options{})

	err := m.Start(context.Background())
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Kind != KindUnsupportedBrowser {
		t.Fatalf("Start = %v, want unsupported_browser", err)
	}
}

func TestDeniedPermissionNeverOpens(t *testing.T) {
	p := NewSyntheticProvider()
	p.PermissionResult = PermissionDenied
	m := NewMachine(p, "d1", Events{}, Options{})

	err := m.Start(context.Background())
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Kind != KindPermissionDenied {
		t.Fatalf("Start = %v, want permission_denied", err)
	}
	if p.OpenCalls() != 0 {
		t.Errorf("Open called %d times after a denied permission", p.OpenCalls())
	}
	if !cerr.UserActionable() {
		t.Error("denied permission should be user actionable")
	}
}

func TestOverconstrainedRetriesRelaxedOnce(t *testing.T) {
	p := NewSyntheticProvider()
	p.OpenError = func(c Constraints) error {
		if c.IdealWidth > 0 {
			return NewError(KindOverconstrained, errors.New("no device matches"))
		}
		return nil
	}
	m := NewMachine(p, "d1", Events{}, Options{CaptureInterval: time.Hour})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start with relaxed fallback: %v", err)
	}
	defer m.Stop()

	history := p.OpenHistory()
	if len(history) != 2 {
		t.Fatalf("Open called %d times, want 2 (ideal then relaxed)", len(history))
	}
	if history[1] != RelaxedProfile() {
		t.Errorf("retry constraints = %+v, want relaxed profile", history[1])
	}
	if m.State() != StateStreaming {
		t.Errorf("State = %s, want streaming", m.State())
	}
}

func TestOverconstrainedTerminalAfterOneRetry(t *testing.T) {
	p := NewSyntheticProvider()
	p.OpenError = func(Constraints) error {
		return NewError(KindOverconstrained, nil)
	}
	m := NewMachine(p, "d1", Events{}, Options{})

	err := m.Start(context.Background())
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Kind != KindOverconstrained {
		t.Fatalf("Start = %v, want overconstrained", err)
	}
	if p.OpenCalls() != 2 {
		t.Errorf("Open called %d times, want exactly 2", p.OpenCalls())
	}
	if m.State() != StateErrored {
		t.Errorf("State = %s, want errored", m.State())
	}
}

func TestNonConstraintFailureDoesNotRetry(t *testing.T) {
	p := NewSyntheticProvider()
	p.OpenError = func(Constraints) error {
		return NewError(KindNotReadable, errors.New("device busy"))
	}
	m := NewMachine(p, "d1", Events{}, Options{})

	err := m.Start(context.Background())
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Kind != KindNotReadable {
		t.Fatalf("Start = %v, want not_readable", err)
	}
	if p.OpenCalls() != 1 {
		t.Errorf("Open called %d times, want 1", p.OpenCalls())
	}
}

func TestSwitchCameraTogglesFacing(t *testing.T) {
	p := NewSyntheticProvider()
	r := newEventRecorder()
	m := NewMachine(p, "d1", r.events(), Options{CaptureInterval: time.Hour})

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitStarted(t, r)
	first := p.LastTrack().(*syntheticTrack)
	if m.Facing() != models.DirectionRear {
		t.Fatalf("initial facing = %s, want rear", m.Facing())
	}

	if err := m.SwitchCamera(context.Background()); err != nil {
		t.Fatalf("SwitchCamera: %v", err)
	}
	if m.State() != StateStreaming {
		t.Errorf("State = %s, want streaming after switch", m.State())
	}
	if m.Facing() != models.DirectionFront {
		t.Errorf("facing = %s, want front after switch", m.Facing())
	}
	if !first.Closed() {
		t.Error("previous track not released on switch")
	}

	details := waitStarted(t, r)
	if details.Facing != models.DirectionFront {
		t.Errorf("restart details facing = %s, want front", details.Facing)
	}
	m.Stop()
}

func TestSwitchCameraOutsideStreaming(t *testing.T) {
	m := NewMachine(NewSyntheticProvider(), "d1", Events{}, Options{})
	if err := m.SwitchCamera(context.Background()); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("SwitchCamera on idle machine = %v, want ErrNotStreaming", err)
	}
}

func TestSwitchFailureStopsCleanly(t *testing.T) {
	p := NewSyntheticProvider()
	r := newEventRecorder()
	p.OpenError = func(c Constraints) error {
		if c.Facing == models.DirectionFront {
			return NewError(KindNotReadable, errors.New("front camera busy"))
		}
		return nil
	}
	m := NewMachine(p, "d1", r.events(), Options{CaptureInterval: time.Hour})

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitStarted(t, r)
	first := p.LastTrack().(*syntheticTrack)

	err := m.SwitchCamera(context.Background())
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Kind != KindNotReadable {
		t.Fatalf("SwitchCamera = %v, want not_readable", err)
	}
	if m.State() != StateStopped {
		t.Errorf("State = %s, want stopped after failed switch", m.State())
	}
	if !first.Closed() {
		t.Error("camera not released after failed switch")
	}
	waitStopped(t, r)

	// The machine restarts once the contention clears.
	p.OpenError = nil
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("restart after failed switch: %v", err)
	}
	m.Stop()
}

func TestSyntheticFramesDiffer(t *testing.T) {
	p := NewSyntheticProvider()
	track, err := p.Open(context.Background(), DefaultProfile(p.Environment()))
	if err != nil {
		t.Fatal(err)
	}
	defer track.Close()

	a, err := track.Capture(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	b, err := track.Capture(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("consecutive synthetic frames are identical")
	}

	track.Close()
	if _, err := track.Capture(context.Background()); !errors.Is(err, ErrTrackClosed) {
		t.Errorf("Capture after Close = %v, want ErrTrackClosed", err)
	}
}
