// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

package detection

import (
	"io"
	"sync"
	"testing"

	"github.com/camspan/camspan/internal/logging"
)

//nolint:gochecknoinits // quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "info", Format: "json", Output: io.Discard})
}

func TestSwitchInitialState(t *testing.T) {
	if !NewSwitch(true).Enabled() {
		t.Error("NewSwitch(true) starts disabled")
	}
	if NewSwitch(false).Enabled() {
		t.Error("NewSwitch(false) starts enabled")
	}
}

func TestToggleFlips(t *testing.T) {
	s := NewSwitch(true)
	if s.Toggle() {
		t.Error("Toggle from on should report off")
	}
	if s.Toggle() != true || !s.Enabled() {
		t.Error("second Toggle should restore on")
	}
}

func TestSetForcesState(t *testing.T) {
	s := NewSwitch(false)
	if !s.Set(true) || !s.Enabled() {
		t.Error("Set(true) did not enable")
	}
	// Setting the current state is a no-op, not a flip.
	if !s.Set(true) || !s.Enabled() {
		t.Error("Set(true) twice should stay enabled")
	}
}

func TestConcurrentToggleStaysConsistent(t *testing.T) {
	s := NewSwitch(false)
	const flips = 100

	var wg sync.WaitGroup
	for i := 0; i < flips; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Toggle()
		}()
	}
	wg.Wait()

	// An even number of toggles returns to the initial state.
	if s.Enabled() {
		t.Errorf("state = on after %d toggles from off", flips)
	}
}
