// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

// Package camera implements the device-side acquisition state machine:
// permission handling, constraint negotiation with fallback, frame
// capture cadence, and camera switching. The platform camera API sits
// behind the Provider interface so the machine runs identically against
// real hardware bindings and the synthetic provider.
package camera

import (
	"context"

	"github.com/camspan/camspan/internal/models"
)

// PermissionState is the camera permission as reported by the platform
// before any acquisition attempt.
type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionPrompt  PermissionState = "prompt"
	PermissionUnknown PermissionState = "unknown"
)

// Environment describes the execution context the provider runs in.
type Environment struct {
	// SecureContext is true under HTTPS.
	SecureContext bool

	// Loopback is true on localhost, where camera access is allowed even
	// without HTTPS.
	Loopback bool

	// Mobile selects the mobile constraint profile (rear camera
	// preference).
	Mobile bool

	UserAgent string
	Screen    models.ScreenDimensions
}

// Constraints is the negotiation envelope passed to Provider.Open.
// Ideal values are preferences; Max values are hard caps. Zero values
// leave the dimension unconstrained.
type Constraints struct {
	Facing      models.CameraDirection
	IdealWidth  int
	IdealHeight int
	IdealFPS    int
	MaxWidth    int
	MaxHeight   int
	MaxFPS      int
}

// DefaultProfile returns the standard envelope: ideal 640x480 at 15fps,
// capped at 1280x720 at 30fps. Mobile environments prefer the rear
// camera; desktops express no facing preference.
func DefaultProfile(env Environment) Constraints {
	c := Constraints{
		IdealWidth:  640,
		IdealHeight: 480,
		IdealFPS:    15,
		MaxWidth:    1280,
		MaxHeight:   720,
		MaxFPS:      30,
	}
	if env.Mobile {
		c.Facing = models.DirectionRear
	}
	return c
}

// RelaxedProfile is the fallback after an overconstrained failure: any
// video device, no dimension or facing requirements.
func RelaxedProfile() Constraints {
	return Constraints{}
}

// WithFacing returns a copy of the constraints requesting a specific
// camera direction.
func (c Constraints) WithFacing(facing models.CameraDirection) Constraints {
	c.Facing = facing
	return c
}

// Provider is the platform camera seam.
type Provider interface {
	// Environment reports the execution context. It never fails.
	Environment() Environment

	// Supported reports whether a camera API exists at all.
	Supported() bool

	// Permission queries the permission state without prompting.
	Permission(ctx context.Context) (PermissionState, error)

	// Open acquires a track satisfying the constraints. Failures should
	// be *Error values; anything else is classified as KindUnknown.
	Open(ctx context.Context, c Constraints) (Track, error)
}

// Track is one live video source.
type Track interface {
	// Resolution is the negotiated capture size.
	Resolution() models.Resolution

	// Facing is the direction of the camera backing this track, or
	// DirectionUnknown when the platform cannot tell.
	Facing() models.CameraDirection

	// Capture encodes the current frame, typically as a JPEG data URI.
	Capture(ctx context.Context) (string, error)

	// Close releases the hardware handle. Every machine exit path closes
	// the track; a track is never reused after Close.
	Close() error
}
