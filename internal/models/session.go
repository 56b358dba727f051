// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

package models

import (
	"time"
)

// DeviceStatus is the lifecycle state of a registered camera device.
type DeviceStatus string

const (
	StatusConnecting   DeviceStatus = "connecting"
	StatusConnected    DeviceStatus = "connected"
	StatusStreaming    DeviceStatus = "streaming"
	StatusDisconnected DeviceStatus = "disconnected"
)

// CameraDirection is the facing of the camera producing a device's frames.
type CameraDirection string

const (
	DirectionFront   CameraDirection = "front"
	DirectionRear    CameraDirection = "rear"
	DirectionUnknown CameraDirection = "unknown"
)

// ScreenDimensions is the reported screen size of a device, in CSS pixels.
type ScreenDimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Resolution is a negotiated video resolution.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DeviceSession is the registry's record of a live camera device.
//
// Device IDs are client-generated and ephemeral: a browser tab mints a fresh
// ID per page load, and a reused ID after disconnect produces a brand new
// session object. No identity continuity is guaranteed across reconnects.
//
// Sessions are owned exclusively by the registry. Callers receive copies;
// mutation happens only through registry operations.
type DeviceSession struct {
	DeviceID        string           `json:"device_id"`
	Status          DeviceStatus     `json:"status"`
	DeviceType      string           `json:"device_type"`
	UserAgent       string           `json:"user_agent"`
	Screen          ScreenDimensions `json:"screen"`
	CameraDirection CameraDirection  `json:"camera_direction"`
	Resolution      *Resolution      `json:"resolution,omitempty"`
	RegisteredAt    time.Time        `json:"registered_at"`
	LastFrameAt     *time.Time       `json:"last_frame_at,omitempty"`

	// FrameCount is monotonic for the lifetime of the session. It is never
	// reset while the session is live, including across camera switches.
	FrameCount uint64 `json:"frame_count"`
}

// ViewerSession identifies a dashboard connection. Viewers own no device
// data, only a read subscription for the lifetime of the transport.
type ViewerSession struct {
	ViewerID     string    `json:"viewer_id"`
	SubscribedAt time.Time `json:"subscribed_at"`
}

// MotionAlert is an immutable alert produced by the motion detection
// collaborator for a device's stream.
type MotionAlert struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	// Confidence is in [0,1] when the detector reports one.
	Confidence *float64 `json:"confidence,omitempty"`
}

// ServerStats is the periodically broadcast system-wide counter set.
// It is derived from live state, never stored.
type ServerStats struct {
	TotalDevices    int    `json:"total_devices"`
	ActiveStreams   int    `json:"active_streams"`
	FramesProcessed uint64 `json:"frames_processed"`
	MotionAlerts    uint64 `json:"motion_alerts"`
}

// FrameEnvelope carries one captured frame from a device. Envelopes are
// forwarded to viewers and discarded; only the latest frame per device is
// meaningful to a viewer's rendering.
type FrameEnvelope struct {
	DeviceID string `json:"device_id"`
	// FrameData is the encoded image, typically a JPEG data URI.
	FrameData string    `json:"frame_data"`
	Timestamp time.Time `json:"timestamp"`
}
