// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/camspan/camspan/internal/hub"
	"github.com/camspan/camspan/internal/logging"
	"github.com/camspan/camspan/internal/protocol"
)

// viewerConn handles one dashboard connection. Like deviceConn, dispatch
// runs on the read pump, so per-connection state needs no locking.
type viewerConn struct {
	srv     *Server
	client  *hub.Client
	release func()

	viewerID string
	joined   bool
}

func (s *Server) handleDashboardSocket(w http.ResponseWriter, r *http.Request) {
	conn, release, ok := s.upgrade(w, r)
	if !ok {
		return
	}

	v := &viewerConn{srv: s, release: release}
	v.client = hub.NewClient(conn, s.clientOptions(), v.onMessage, v.onClose)
	v.client.Send(greeting())
	v.client.Start()

	logging.Info().Str("remote_ip", clientIP(r)).Msg("dashboard connection accepted")
}

func (v *viewerConn) onMessage(_ *hub.Client, msg protocol.Message) {
	switch msg.Type {
	case protocol.EventJoinDashboard:
		v.handleJoin()
	case protocol.EventLeaveDashboard:
		v.handleLeave()
	case protocol.EventToggleMotionDetection:
		v.handleToggleMotion(msg)
	case protocol.EventRefreshDevices:
		v.handleRefresh()
	case protocol.EventExportData:
		v.handleExport()
	case protocol.EventDisconnectDevice:
		v.handleDisconnectDevice(msg)
	default:
		logging.Debug().Str("event", msg.Type).Msg("unknown dashboard event ignored")
	}
}

func (v *viewerConn) onClose(_ *hub.Client) {
	v.release()
	if v.joined {
		v.srv.hub.Unregister(v.client)
	}
}

// handleJoin subscribes the viewer: confirmation, then a snapshot of
// every live device plus the detection flag and a stats baseline, queued
// before the client is eligible for live broadcasts.
func (v *viewerConn) handleJoin() {
	if v.joined {
		return
	}
	v.viewerID = uuid.NewString()
	v.joined = true

	v.client.Send(protocol.MustMessage(protocol.EventJoinedDashboard,
		protocol.JoinedDashboardPayload{ViewerID: v.viewerID, Message: "subscribed to device events"}))
	v.srv.hub.Register(v.client, v.srv.joinSnapshot())

	logging.Info().Str("viewer_id", v.viewerID).Msg("viewer joined dashboard")
}

func (v *viewerConn) handleLeave() {
	if !v.joined {
		return
	}
	v.joined = false
	v.srv.hub.Unregister(v.client)
	logging.Info().Str("viewer_id", v.viewerID).Msg("viewer left dashboard")
}

func (v *viewerConn) handleToggleMotion(msg protocol.Message) {
	var p protocol.MotionDetectionStatusPayload
	var enabled bool
	if err := msg.Decode(&p); err == nil {
		enabled = v.srv.motion.Set(p.Enabled)
	} else {
		// No explicit target state: flip.
		enabled = v.srv.motion.Toggle()
	}
	v.srv.hub.Broadcast(protocol.MustMessage(protocol.EventMotionDetectionStatus,
		protocol.MotionDetectionStatusPayload{Enabled: enabled}))
}

// handleRefresh replays the device snapshot to the requesting viewer
// only.
func (v *viewerConn) handleRefresh() {
	for _, msg := range v.srv.deviceSnapshot() {
		v.client.Send(msg)
	}
}

// handleExport answers with the full broker state, delivered only to the
// requesting viewer.
func (v *viewerConn) handleExport() {
	v.client.Send(protocol.MustMessage(protocol.EventExportPayload, protocol.ExportDataPayload{
		Devices:    v.srv.registry.Snapshot(),
		Alerts:     v.srv.propagator.Recent(),
		Stats:      v.srv.stats.Current(),
		ExportedAt: time.Now().UTC(),
	}))
}

// handleDisconnectDevice force-closes a device connection on a viewer's
// behalf. Teardown (registry removal, device_disconnected broadcast)
// runs on the device connection's own close path.
func (v *viewerConn) handleDisconnectDevice(msg protocol.Message) {
	var p protocol.DeviceRefPayload
	if err := msg.Decode(&p); err != nil {
		return
	}

	if conn, ok := v.srv.deviceConns.Load(p.DeviceID); ok {
		if client, ok := conn.(*hub.Client); ok {
			client.Close()
			logging.Info().Str("device_id", p.DeviceID).Msg("device force-disconnected by viewer")
			return
		}
	}

	// No live connection tracked: clean up any orphaned session directly.
	if v.srv.registry.Disconnect(p.DeviceID) {
		v.srv.relay.Forget(p.DeviceID)
		v.srv.hub.Broadcast(protocol.MustMessage(protocol.EventDeviceDisconnected,
			protocol.DeviceRefPayload{DeviceID: p.DeviceID}))
	}
}
