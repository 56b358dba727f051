// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/camspan/camspan/internal/models"
)

// Event types carried in the envelope's "type" field.
//
// Device-originated events.
const (
	EventRegisterDevice   = "register_device"
	EventUnregisterDevice = "unregister_device"
	EventStartStream      = "start_stream"
	EventStopStream       = "stop_stream"
	EventCameraFrame      = "camera_frame"
)

// Server-to-device events.
const (
	EventConnectionResponse   = "connection_response"
	EventRegistrationResponse = "registration_response"
	EventStreamResponse       = "stream_response"
	EventFrameError           = "frame_error"
)

// Viewer-originated events.
const (
	EventJoinDashboard         = "join_dashboard"
	EventLeaveDashboard        = "leave_dashboard"
	EventToggleMotionDetection = "toggle_motion_detection"
	EventRefreshDevices        = "refresh_devices"
	EventExportData            = "export_data"
	EventDisconnectDevice      = "disconnect_device"
)

// Server-to-viewer events.
const (
	EventJoinedDashboard       = "joined_dashboard"
	EventDeviceUpdate          = "device_update"
	EventDeviceDisconnected    = "device_disconnected"
	EventFrameUpdate           = "frame_update"
	EventMotionAlert           = "motion_alert"
	EventServerStats           = "server_stats"
	EventMotionDetectionStatus = "motion_detection_status"
	EventExportPayload         = "export_payload"
)

// ErrEmptyType is returned when an envelope carries no event type.
var ErrEmptyType = errors.New("protocol: empty event type")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Message is the wire envelope for every event in both directions.
// Data is kept raw on the inbound path so dispatch can decode lazily
// by event type.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage builds an envelope with the payload marshaled up front, so a
// single encode is shared by every fan-out destination.
func NewMessage(eventType string, payload any) (Message, error) {
	if eventType == "" {
		return Message{}, ErrEmptyType
	}
	if payload == nil {
		return Message{Type: eventType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("protocol: marshal %s payload: %w", eventType, err)
	}
	return Message{Type: eventType, Data: data}, nil
}

// MustMessage is NewMessage for payloads the caller controls entirely.
// It panics on marshal failure, which for our own payload structs means a
// programming error.
func MustMessage(eventType string, payload any) Message {
	msg, err := NewMessage(eventType, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode unmarshals the envelope payload into v and validates any
// `validate` tags on it. Malformed or invalid payloads never mutate
// broker state; callers drop or reject the event.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("protocol: %s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("protocol: %s: decode payload: %w", m.Type, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("protocol: %s: invalid payload: %w", m.Type, err)
	}
	return nil
}

// RegisterDevicePayload creates or replaces a device session.
// A registration without a device_id is rejected without touching the
// registry.
type RegisterDevicePayload struct {
	DeviceID   string                  `json:"device_id" validate:"required"`
	DeviceType string                  `json:"device_type"`
	UserAgent  string                  `json:"user_agent"`
	Screen     models.ScreenDimensions `json:"screen"`
}

// DeviceRefPayload references an existing session by ID. Used by
// stop_stream, unregister_device, device_disconnected and
// disconnect_device.
type DeviceRefPayload struct {
	DeviceID string `json:"device_id" validate:"required"`
}

// StartStreamPayload requests the streaming state for a session. The device
// reports the negotiated camera direction and resolution on every stream
// start, including restarts after a camera switch, so the session record
// tracks the live hardware without resetting counters.
type StartStreamPayload struct {
	DeviceID        string                 `json:"device_id" validate:"required"`
	CameraDirection models.CameraDirection `json:"camera_direction,omitempty"`
	Resolution      *models.Resolution     `json:"resolution,omitempty"`
}

// CameraFramePayload carries one captured frame from a device. The same
// shape is re-broadcast to viewers as frame_update.
type CameraFramePayload struct {
	DeviceID  string    `json:"device_id" validate:"required"`
	FrameData string    `json:"frame_data" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope converts the payload into the internal frame representation.
func (p CameraFramePayload) Envelope() models.FrameEnvelope {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return models.FrameEnvelope{DeviceID: p.DeviceID, FrameData: p.FrameData, Timestamp: ts}
}

// ConnectionResponsePayload greets every freshly accepted connection.
type ConnectionResponsePayload struct {
	Status     string    `json:"status"`
	ServerTime time.Time `json:"server_time"`
	Message    string    `json:"message,omitempty"`
}

// RegistrationResponsePayload answers register_device.
type RegistrationResponsePayload struct {
	Success  bool   `json:"success"`
	DeviceID string `json:"device_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

// StreamResponsePayload answers start_stream and stop_stream so the device
// can surface a refusal to its user.
type StreamResponsePayload struct {
	Success   bool   `json:"success"`
	Streaming bool   `json:"streaming"`
	Message   string `json:"message,omitempty"`
}

// FrameErrorPayload is sent to a device whose frame could not be processed.
// Frames for unknown or stopped sessions are dropped silently instead;
// those races are expected, not errors.
type FrameErrorPayload struct {
	Message string `json:"message"`
}

// JoinedDashboardPayload confirms a viewer subscription.
type JoinedDashboardPayload struct {
	ViewerID string `json:"viewer_id"`
	Message  string `json:"message,omitempty"`
}

// MotionDetectionStatusPayload reports the detection collaborator's enable
// flag. The same shape arrives from viewers as toggle_motion_detection.
type MotionDetectionStatusPayload struct {
	Enabled bool `json:"enabled"`
}

// ExportDataPayload is the answer to a viewer's export_data command,
// delivered only to the requesting viewer.
type ExportDataPayload struct {
	Devices    []models.DeviceSession `json:"devices"`
	Alerts     []models.MotionAlert   `json:"alerts"`
	Stats      models.ServerStats     `json:"stats"`
	ExportedAt time.Time              `json:"exported_at"`
}
