// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

// Package dashboard keeps a viewer-side mirror of the broker state,
// built purely from the event stream: device projections, latest frame
// per device, recent alerts, and the stats baseline. Rendering is
// event-driven; every applied event fires the render hook.
package dashboard

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/camspan/camspan/internal/models"
	"github.com/camspan/camspan/internal/protocol"
)

// maxAlerts bounds the local alert buffer, mirroring the server ring.
const maxAlerts = 10

// DeviceView is a device projection plus the viewer-local frame overlay.
// Session fields are replaced wholesale by device_update; the overlay
// fields survive because frame_update carries no session data.
type DeviceView struct {
	models.DeviceSession

	// LastFrameData is the most recent frame payload, kept only here;
	// the broker never stores frames.
	LastFrameData string
	LastFrameSeen time.Time

	// FramesSeen counts frames this viewer actually received, which can
	// lag the session's FrameCount when the send queue evicted some.
	FramesSeen uint64
}

// Snapshot is a deep copy of the mirror for rendering.
type Snapshot struct {
	ViewerID        string
	Devices         []DeviceView
	Alerts          []models.MotionAlert
	Stats           models.ServerStats
	MotionDetection bool
}

// ViewModel applies broker events to the local mirror.
type ViewModel struct {
	mu       sync.Mutex
	viewerID string
	devices  map[string]*DeviceView
	alerts   []models.MotionAlert
	stats    models.ServerStats
	motion   bool

	// onRender, when set, fires after every applied event with the event
	// type. It runs outside the view-model lock.
	onRender func(event string)
}

// New creates an empty view model. onRender may be nil.
func New(onRender func(event string)) *ViewModel {
	return &ViewModel{
		devices:  make(map[string]*DeviceView),
		onRender: onRender,
	}
}

// Apply folds one broker event into the mirror. Unknown event types are
// ignored without error; malformed payloads are reported and change
// nothing.
func (vm *ViewModel) Apply(msg protocol.Message) error {
	applied, err := vm.apply(msg)
	if err != nil {
		return err
	}
	if applied && vm.onRender != nil {
		vm.onRender(msg.Type)
	}
	return nil
}

func (vm *ViewModel) apply(msg protocol.Message) (bool, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	switch msg.Type {
	case protocol.EventJoinedDashboard:
		var p protocol.JoinedDashboardPayload
		if err := msg.Decode(&p); err != nil {
			return false, err
		}
		vm.viewerID = p.ViewerID
		return true, nil

	case protocol.EventDeviceUpdate:
		var session models.DeviceSession
		if err := msg.Decode(&session); err != nil {
			return false, err
		}
		if session.DeviceID == "" {
			return false, fmt.Errorf("dashboard: device_update without device_id")
		}
		view, ok := vm.devices[session.DeviceID]
		if !ok {
			view = &DeviceView{}
			vm.devices[session.DeviceID] = view
		}
		// Full projection replaces the session; the frame overlay stays.
		view.DeviceSession = session
		return true, nil

	case protocol.EventDeviceDisconnected:
		var p protocol.DeviceRefPayload
		if err := msg.Decode(&p); err != nil {
			return false, err
		}
		if _, ok := vm.devices[p.DeviceID]; !ok {
			return false, nil
		}
		delete(vm.devices, p.DeviceID)
		return true, nil

	case protocol.EventFrameUpdate:
		var p protocol.CameraFramePayload
		if err := msg.Decode(&p); err != nil {
			return false, err
		}
		view, ok := vm.devices[p.DeviceID]
		if !ok {
			// Frame raced ahead of its device_update; the snapshot
			// guarantee makes this transient, so skip it.
			return false, nil
		}
		view.LastFrameData = p.FrameData
		view.LastFrameSeen = p.Timestamp
		view.FramesSeen++
		return true, nil

	case protocol.EventMotionAlert:
		var alert models.MotionAlert
		if err := msg.Decode(&alert); err != nil {
			return false, err
		}
		vm.alerts = append([]models.MotionAlert{alert}, vm.alerts...)
		if len(vm.alerts) > maxAlerts {
			vm.alerts = vm.alerts[:maxAlerts]
		}
		return true, nil

	case protocol.EventServerStats:
		var stats models.ServerStats
		if err := msg.Decode(&stats); err != nil {
			return false, err
		}
		vm.stats = stats
		return true, nil

	case protocol.EventMotionDetectionStatus:
		var p protocol.MotionDetectionStatusPayload
		if err := msg.Decode(&p); err != nil {
			return false, err
		}
		vm.motion = p.Enabled
		return true, nil

	default:
		return false, nil
	}
}

// Snapshot deep-copies the mirror, devices ordered by registration time
// then id.
func (vm *ViewModel) Snapshot() Snapshot {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	devices := make([]DeviceView, 0, len(vm.devices))
	for _, view := range vm.devices {
		copied := *view
		if view.Resolution != nil {
			res := *view.Resolution
			copied.Resolution = &res
		}
		if view.LastFrameAt != nil {
			at := *view.LastFrameAt
			copied.LastFrameAt = &at
		}
		devices = append(devices, copied)
	}
	sort.Slice(devices, func(i, j int) bool {
		if !devices[i].RegisteredAt.Equal(devices[j].RegisteredAt) {
			return devices[i].RegisteredAt.Before(devices[j].RegisteredAt)
		}
		return devices[i].DeviceID < devices[j].DeviceID
	})

	alerts := make([]models.MotionAlert, len(vm.alerts))
	copy(alerts, vm.alerts)

	return Snapshot{
		ViewerID:        vm.viewerID,
		Devices:         devices,
		Alerts:          alerts,
		Stats:           vm.stats,
		MotionDetection: vm.motion,
	}
}
