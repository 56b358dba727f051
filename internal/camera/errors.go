// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

package camera

import (
	"errors"
	"fmt"
)

// Kind is the closed taxonomy of camera acquisition failures. Every
// failure surfaced by a Provider maps onto exactly one kind; anything
// unrecognized is KindUnknown.
type Kind string

const (
	// KindInsecureContext: the page is not served over HTTPS and the host
	// is not loopback, so the camera API is unavailable.
	KindInsecureContext Kind = "insecure_context"

	// KindUnsupportedBrowser: the platform exposes no camera API at all.
	KindUnsupportedBrowser Kind = "unsupported_browser"

	// KindPermissionDenied: the user (or policy) refused camera access.
	KindPermissionDenied Kind = "permission_denied"

	// KindNotFound: no camera device exists.
	KindNotFound Kind = "not_found"

	// KindNotReadable: a camera exists but the OS would not hand it over,
	// typically because another application holds it.
	KindNotReadable Kind = "not_readable"

	// KindOverconstrained: no device satisfies the requested constraints.
	// Acquisition retries once with the relaxed profile before giving up.
	KindOverconstrained Kind = "overconstrained"

	// KindSecurityError: the platform blocked access for a security
	// reason other than a plain permission prompt.
	KindSecurityError Kind = "security_error"

	// KindUnknown: everything else.
	KindUnknown Kind = "unknown"
)

// Error is a classified camera acquisition failure.
type Error struct {
	Kind  Kind
	Cause error
}

// NewError classifies cause under kind.
func NewError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("camera: %s", e.Kind)
	}
	return fmt.Sprintf("camera: %s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Message is the user-facing explanation for the failure.
func (e *Error) Message() string {
	switch e.Kind {
	case KindInsecureContext:
		return "Camera requires a secure (HTTPS) connection"
	case KindUnsupportedBrowser:
		return "This browser does not support camera access"
	case KindPermissionDenied:
		return "Camera permission was denied. Allow camera access and try again"
	case KindNotFound:
		return "No camera was found on this device"
	case KindNotReadable:
		return "The camera is already in use by another application"
	case KindOverconstrained:
		return "The camera does not support the requested settings"
	case KindSecurityError:
		return "Camera access was blocked for security reasons"
	default:
		return "Could not start the camera"
	}
}

// UserActionable reports whether the user can plausibly fix the failure
// themselves (grant permission, adjust browser settings) and should be
// offered a persistent retry affordance.
func (e *Error) UserActionable() bool {
	return e.Kind == KindPermissionDenied || e.Kind == KindSecurityError
}

// Classify maps an arbitrary error onto the taxonomy. Errors already
// carrying a Kind pass through; everything else is KindUnknown.
func Classify(err error) *Error {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr
	}
	return NewError(KindUnknown, err)
}
