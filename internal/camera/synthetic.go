// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

package camera

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	"github.com/camspan/camspan/internal/models"
)

// ErrTrackClosed is returned by Capture on a released track.
var ErrTrackClosed = errors.New("camera: track closed")

// SyntheticProvider is a Provider that renders moving-gradient JPEG
// frames instead of touching hardware. The agent uses it to stream
// without a camera; tests use it to drive the machine through every
// path, including injected failures.
type SyntheticProvider struct {
	// Env is reported by Environment. NewSyntheticProvider seeds a
	// secure mobile loopback context.
	Env Environment

	// Unsupported makes Supported report false.
	Unsupported bool

	// PermissionResult is returned by Permission; empty means granted.
	PermissionResult PermissionState

	// OpenError, when set, is consulted on every Open. Returning a
	// non-nil error fails that open.
	OpenError func(c Constraints) error

	mu        sync.Mutex
	opens     []Constraints
	lastTrack *syntheticTrack
}

// NewSyntheticProvider returns a provider for a typical mobile agent.
func NewSyntheticProvider() *SyntheticProvider {
	return &SyntheticProvider{
		Env: Environment{
			SecureContext: true,
			Loopback:      true,
			Mobile:        true,
			UserAgent:     "camspan-agent/1.0",
			Screen:        models.ScreenDimensions{Width: 360, Height: 800},
		},
	}
}

func (p *SyntheticProvider) Environment() Environment {
	return p.Env
}

func (p *SyntheticProvider) Supported() bool {
	return !p.Unsupported
}

func (p *SyntheticProvider) Permission(_ context.Context) (PermissionState, error) {
	if p.PermissionResult == "" {
		return PermissionGranted, nil
	}
	return p.PermissionResult, nil
}

// Open negotiates the ideal resolution (bounded by the caps) and returns
// a gradient-rendering track.
func (p *SyntheticProvider) Open(_ context.Context, c Constraints) (Track, error) {
	p.mu.Lock()
	p.opens = append(p.opens, c)
	p.mu.Unlock()

	if p.OpenError != nil {
		if err := p.OpenError(c); err != nil {
			return nil, err
		}
	}

	res := models.Resolution{Width: c.IdealWidth, Height: c.IdealHeight}
	if res.Width == 0 {
		res.Width = 320
	}
	if res.Height == 0 {
		res.Height = 240
	}
	if c.MaxWidth > 0 && res.Width > c.MaxWidth {
		res.Width = c.MaxWidth
	}
	if c.MaxHeight > 0 && res.Height > c.MaxHeight {
		res.Height = c.MaxHeight
	}

	facing := c.Facing
	if facing == "" {
		facing = models.DirectionUnknown
	}

	track := &syntheticTrack{res: res, facing: facing}
	p.mu.Lock()
	p.lastTrack = track
	p.mu.Unlock()
	return track, nil
}

// OpenCalls reports how many times Open was invoked.
func (p *SyntheticProvider) OpenCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.opens)
}

// OpenHistory returns the constraints of every Open in order.
func (p *SyntheticProvider) OpenHistory() []Constraints {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Constraints, len(p.opens))
	copy(out, p.opens)
	return out
}

// LastTrack returns the most recently opened track.
func (p *SyntheticProvider) LastTrack() Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastTrack == nil {
		return nil
	}
	return p.lastTrack
}

// syntheticTrack renders a gradient that drifts one step per captured
// frame, so consecutive frames differ.
type syntheticTrack struct {
	res    models.Resolution
	facing models.CameraDirection

	mu     sync.Mutex
	frame  int
	closed bool
}

func (t *syntheticTrack) Resolution() models.Resolution {
	return t.res
}

func (t *syntheticTrack) Facing() models.CameraDirection {
	return t.facing
}

func (t *syntheticTrack) Capture(_ context.Context) (string, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return "", ErrTrackClosed
	}
	offset := t.frame
	t.frame++
	t.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, t.res.Width, t.res.Height))
	for y := 0; y < t.res.Height; y++ {
		g := uint8(y * 255 / t.res.Height)
		for x := 0; x < t.res.Width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x*255/t.res.Width + offset) % 256),
				G: g,
				B: uint8(offset % 256),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 60}); err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (t *syntheticTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Closed reports whether the track was released.
func (t *syntheticTrack) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
