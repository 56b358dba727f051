// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

package api

import (
	"errors"
	"net/http"

	"github.com/camspan/camspan/internal/hub"
	"github.com/camspan/camspan/internal/logging"
	"github.com/camspan/camspan/internal/metrics"
	"github.com/camspan/camspan/internal/protocol"
	"github.com/camspan/camspan/internal/registry"
)

// deviceConn handles one camera device connection. All inbound events
// arrive on the client's read pump, so fields written during dispatch
// need no locking.
type deviceConn struct {
	srv      *Server
	client   *hub.Client
	remoteIP string
	release  func()

	// deviceID is empty until a successful register_device.
	deviceID string
}

func (s *Server) handleDeviceSocket(w http.ResponseWriter, r *http.Request) {
	conn, release, ok := s.upgrade(w, r)
	if !ok {
		return
	}

	d := &deviceConn{srv: s, remoteIP: clientIP(r), release: release}
	d.client = hub.NewClient(conn, s.clientOptions(), d.onMessage, d.onClose)
	d.client.Send(greeting())
	d.client.Start()

	logging.Info().Str("remote_ip", d.remoteIP).Msg("device connection accepted")
}

func (d *deviceConn) onMessage(_ *hub.Client, msg protocol.Message) {
	switch msg.Type {
	case protocol.EventRegisterDevice:
		d.handleRegister(msg)
	case protocol.EventStartStream:
		d.handleStartStream(msg)
	case protocol.EventStopStream:
		d.handleStopStream(msg)
	case protocol.EventCameraFrame:
		d.handleFrame(msg)
	case protocol.EventUnregisterDevice:
		d.handleUnregister(msg)
	default:
		logging.Debug().Str("event", msg.Type).Msg("unknown device event ignored")
	}
}

// onClose runs exactly once when the connection dies, whether the device
// unregistered, the socket failed, or a viewer force-closed it.
func (d *deviceConn) onClose(_ *hub.Client) {
	d.release()
	if d.deviceID == "" {
		return
	}
	// Only the connection that still owns the device id tears the session
	// down; a replaced connection must not disconnect its successor.
	if !d.srv.deviceConns.CompareAndDelete(d.deviceID, d.client) {
		return
	}
	if d.srv.registry.Disconnect(d.deviceID) {
		d.srv.relay.Forget(d.deviceID)
		d.srv.hub.Broadcast(protocol.MustMessage(protocol.EventDeviceDisconnected,
			protocol.DeviceRefPayload{DeviceID: d.deviceID}))
	}
}

func (d *deviceConn) handleRegister(msg protocol.Message) {
	var p protocol.RegisterDevicePayload
	if err := msg.Decode(&p); err != nil {
		logging.Warn().Err(err).Msg("device registration rejected")
		d.client.Send(protocol.MustMessage(protocol.EventRegistrationResponse,
			protocol.RegistrationResponsePayload{Success: false, Message: "device_id is required"}))
		return
	}

	session, err := d.srv.registry.Register(p.DeviceID, registry.Metadata{
		DeviceType: p.DeviceType,
		UserAgent:  p.UserAgent,
		Screen:     p.Screen,
	})
	if err != nil {
		d.client.Send(protocol.MustMessage(protocol.EventRegistrationResponse,
			protocol.RegistrationResponsePayload{Success: false, Message: err.Error()}))
		return
	}

	d.deviceID = p.DeviceID
	if prev, loaded := d.srv.deviceConns.Swap(p.DeviceID, d.client); loaded {
		if prevClient, ok := prev.(*hub.Client); ok && prevClient != d.client {
			prevClient.Close()
		}
	}

	d.client.Send(protocol.MustMessage(protocol.EventRegistrationResponse,
		protocol.RegistrationResponsePayload{Success: true, DeviceID: p.DeviceID, Message: "registered"}))
	d.srv.hub.Broadcast(protocol.MustMessage(protocol.EventDeviceUpdate, session))
}

func (d *deviceConn) handleStartStream(msg protocol.Message) {
	var p protocol.StartStreamPayload
	if err := msg.Decode(&p); err != nil {
		d.client.Send(protocol.MustMessage(protocol.EventStreamResponse,
			protocol.StreamResponsePayload{Success: false, Message: "invalid start_stream payload"}))
		return
	}

	session, err := d.srv.registry.BeginStream(p.DeviceID, registry.StreamInfo{
		CameraDirection: p.CameraDirection,
		Resolution:      p.Resolution,
	})
	if err != nil {
		message := "failed to start stream"
		if errors.Is(err, registry.ErrUnknownDevice) {
			message = "device not registered"
		}
		d.client.Send(protocol.MustMessage(protocol.EventStreamResponse,
			protocol.StreamResponsePayload{Success: false, Message: message}))
		return
	}

	d.client.Send(protocol.MustMessage(protocol.EventStreamResponse,
		protocol.StreamResponsePayload{Success: true, Streaming: true}))
	d.srv.hub.Broadcast(protocol.MustMessage(protocol.EventDeviceUpdate, session))
}

func (d *deviceConn) handleStopStream(msg protocol.Message) {
	var p protocol.DeviceRefPayload
	if err := msg.Decode(&p); err != nil {
		d.client.Send(protocol.MustMessage(protocol.EventStreamResponse,
			protocol.StreamResponsePayload{Success: false, Message: "invalid stop_stream payload"}))
		return
	}

	session, err := d.srv.registry.EndStream(p.DeviceID)
	if err != nil {
		d.client.Send(protocol.MustMessage(protocol.EventStreamResponse,
			protocol.StreamResponsePayload{Success: false, Message: "device not registered"}))
		return
	}

	d.client.Send(protocol.MustMessage(protocol.EventStreamResponse,
		protocol.StreamResponsePayload{Success: true, Streaming: false}))
	d.srv.hub.Broadcast(protocol.MustMessage(protocol.EventDeviceUpdate, session))
}

func (d *deviceConn) handleFrame(msg protocol.Message) {
	var p protocol.CameraFramePayload
	if err := msg.Decode(&p); err != nil {
		metrics.FramesDropped.WithLabelValues("malformed").Inc()
		d.client.Send(protocol.MustMessage(protocol.EventFrameError,
			protocol.FrameErrorPayload{Message: "malformed frame"}))
		return
	}
	// Relay rejections (unknown session, not streaming, rate limited) are
	// silent; the stop/frame race is expected.
	d.srv.relay.OnFrame(p.Envelope())
}

func (d *deviceConn) handleUnregister(msg protocol.Message) {
	var p protocol.DeviceRefPayload
	if err := msg.Decode(&p); err != nil || p.DeviceID != d.deviceID {
		logging.Debug().Msg("unregister for a device this connection does not own")
		return
	}
	// Closing the connection drives the shared teardown in onClose.
	d.client.Close()
}
