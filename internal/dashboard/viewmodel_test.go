// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

package dashboard

import (
	"fmt"
	"testing"
	"time"

	"github.com/camspan/camspan/internal/models"
	"github.com/camspan/camspan/internal/protocol"
)

func deviceUpdate(t *testing.T, session models.DeviceSession) protocol.Message {
	t.Helper()
	return protocol.MustMessage(protocol.EventDeviceUpdate, session)
}

func frameUpdate(t *testing.T, deviceID, data string) protocol.Message {
	t.Helper()
	return protocol.MustMessage(protocol.EventFrameUpdate, protocol.CameraFramePayload{
		DeviceID:  deviceID,
		FrameData: data,
		Timestamp: time.Now().UTC(),
	})
}

func apply(t *testing.T, vm *ViewModel, msg protocol.Message) {
	t.Helper()
	if err := vm.Apply(msg); err != nil {
		t.Fatalf("apply %s: %v", msg.Type, err)
	}
}

func TestDeviceUpdateInsertsAndReplaces(t *testing.T) {
	vm := New(nil)

	apply(t, vm, deviceUpdate(t, models.DeviceSession{
		DeviceID: "d1", Status: models.StatusConnected,
		RegisteredAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}))
	apply(t, vm, deviceUpdate(t, models.DeviceSession{
		DeviceID: "d1", Status: models.StatusStreaming,
		CameraDirection: models.DirectionRear,
		RegisteredAt:    time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}))

	snap := vm.Snapshot()
	if len(snap.Devices) != 1 {
		t.Fatalf("devices = %d, want 1", len(snap.Devices))
	}
	if snap.Devices[0].Status != models.StatusStreaming {
		t.Errorf("status = %s, want streaming", snap.Devices[0].Status)
	}
}

func TestFrameOverlaySurvivesDeviceUpdate(t *testing.T) {
	vm := New(nil)
	apply(t, vm, deviceUpdate(t, models.DeviceSession{DeviceID: "d1", Status: models.StatusStreaming}))
	apply(t, vm, frameUpdate(t, "d1", "frame-a"))
	apply(t, vm, frameUpdate(t, "d1", "frame-b"))

	// A later full projection must not wipe the locally held frame.
	apply(t, vm, deviceUpdate(t, models.DeviceSession{
		DeviceID: "d1", Status: models.StatusStreaming, FrameCount: 17,
	}))

	snap := vm.Snapshot()
	view := snap.Devices[0]
	if view.LastFrameData != "frame-b" {
		t.Errorf("LastFrameData = %q, want frame-b", view.LastFrameData)
	}
	if view.FramesSeen != 2 {
		t.Errorf("FramesSeen = %d, want 2", view.FramesSeen)
	}
	if view.FrameCount != 17 {
		t.Errorf("FrameCount = %d, want 17 from the projection", view.FrameCount)
	}
}

func TestFrameForUnknownDeviceIgnored(t *testing.T) {
	vm := New(nil)
	apply(t, vm, frameUpdate(t, "ghost", "frame"))

	if len(vm.Snapshot().Devices) != 0 {
		t.Error("frame_update for unknown device created a device")
	}
}

func TestDeviceDisconnectedRemoves(t *testing.T) {
	vm := New(nil)
	apply(t, vm, deviceUpdate(t, models.DeviceSession{DeviceID: "d1"}))
	apply(t, vm, protocol.MustMessage(protocol.EventDeviceDisconnected,
		protocol.DeviceRefPayload{DeviceID: "d1"}))

	if len(vm.Snapshot().Devices) != 0 {
		t.Error("device survived device_disconnected")
	}
}

func TestAlertBufferBoundedNewestFirst(t *testing.T) {
	vm := New(nil)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 15; i++ {
		apply(t, vm, protocol.MustMessage(protocol.EventMotionAlert, models.MotionAlert{
			DeviceID:  fmt.Sprintf("d%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	snap := vm.Snapshot()
	if len(snap.Alerts) != maxAlerts {
		t.Fatalf("alerts = %d, want %d", len(snap.Alerts), maxAlerts)
	}
	for i, want := 0, 15; i < maxAlerts; i, want = i+1, want-1 {
		if snap.Alerts[i].DeviceID != fmt.Sprintf("d%d", want) {
			t.Errorf("alerts[%d] = %s, want d%d", i, snap.Alerts[i].DeviceID, want)
		}
	}
}

func TestServerStatsReplace(t *testing.T) {
	vm := New(nil)
	apply(t, vm, protocol.MustMessage(protocol.EventServerStats,
		models.ServerStats{TotalDevices: 2, FramesProcessed: 40}))
	apply(t, vm, protocol.MustMessage(protocol.EventServerStats,
		models.ServerStats{TotalDevices: 3, FramesProcessed: 55}))

	snap := vm.Snapshot()
	if snap.Stats.TotalDevices != 3 || snap.Stats.FramesProcessed != 55 {
		t.Errorf("stats = %+v", snap.Stats)
	}
}

func TestRenderHookFiresPerAppliedEvent(t *testing.T) {
	var rendered []string
	vm := New(func(event string) { rendered = append(rendered, event) })

	apply(t, vm, protocol.MustMessage(protocol.EventJoinedDashboard,
		protocol.JoinedDashboardPayload{ViewerID: "v1"}))
	apply(t, vm, deviceUpdate(t, models.DeviceSession{DeviceID: "d1"}))
	apply(t, vm, frameUpdate(t, "ghost", "frame")) // ignored, no render
	apply(t, vm, protocol.MustMessage(protocol.EventMotionDetectionStatus,
		protocol.MotionDetectionStatusPayload{Enabled: true}))

	want := []string{
		protocol.EventJoinedDashboard,
		protocol.EventDeviceUpdate,
		protocol.EventMotionDetectionStatus,
	}
	if len(rendered) != len(want) {
		t.Fatalf("rendered %v, want %v", rendered, want)
	}
	for i := range want {
		if rendered[i] != want[i] {
			t.Errorf("rendered[%d] = %s, want %s", i, rendered[i], want[i])
		}
	}

	snap := vm.Snapshot()
	if snap.ViewerID != "v1" || !snap.MotionDetection {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	vm := New(nil)
	res := models.Resolution{Width: 640, Height: 480}
	apply(t, vm, deviceUpdate(t, models.DeviceSession{DeviceID: "d1", Resolution: &res}))

	snap := vm.Snapshot()
	snap.Devices[0].Resolution.Width = 1
	snap.Devices[0].LastFrameData = "tampered"

	fresh := vm.Snapshot()
	if fresh.Devices[0].Resolution.Width != 640 {
		t.Error("snapshot mutation leaked into the view model")
	}
	if fresh.Devices[0].LastFrameData != "" {
		t.Error("snapshot is not a copy")
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	vm := New(nil)
	if err := vm.Apply(protocol.Message{Type: "no_such_event"}); err != nil {
		t.Errorf("unknown event returned error: %v", err)
	}
}
