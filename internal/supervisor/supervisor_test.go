// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

package supervisor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/camspan/camspan/internal/logging"
)

//nolint:gochecknoinits // quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "info", Format: "json", Output: io.Discard})
}

// fakeServer blocks in ListenAndServe until Shutdown is called.
type fakeServer struct {
	listenErr error
	stopped   chan struct{}
	shutdowns int
}

func newFakeServer(listenErr error) *fakeServer {
	return &fakeServer{listenErr: listenErr, stopped: make(chan struct{})}
}

func (f *fakeServer) ListenAndServe() error {
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.stopped
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(_ context.Context) error {
	f.shutdowns++
	close(f.stopped)
	return nil
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	fake := newFakeServer(nil)
	svc := NewHTTPServerService(fake, "127.0.0.1:0", time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if fake.shutdowns != 1 {
		t.Errorf("shutdowns = %d, want 1", fake.shutdowns)
	}
}

func TestHTTPServiceListenFailure(t *testing.T) {
	fake := newFakeServer(errors.New("address in use"))
	svc := NewHTTPServerService(fake, "127.0.0.1:0", time.Second)

	err := svc.Serve(context.Background())
	if err == nil || fake.shutdowns != 0 {
		t.Errorf("Serve = %v, shutdowns = %d; want listen error and no shutdown", err, fake.shutdowns)
	}
}

func TestTreeConfigDefaults(t *testing.T) {
	cfg := TreeConfig{}
	cfg.applyDefaults()
	if cfg != DefaultTreeConfig() {
		t.Errorf("applyDefaults() = %+v, want %+v", cfg, DefaultTreeConfig())
	}

	// Explicit values survive.
	cfg = TreeConfig{FailureThreshold: 2, ShutdownTimeout: time.Second}
	cfg.applyDefaults()
	if cfg.FailureThreshold != 2 || cfg.ShutdownTimeout != time.Second {
		t.Errorf("explicit values overwritten: %+v", cfg)
	}
	if cfg.FailureDecay != 30.0 {
		t.Errorf("FailureDecay = %v, want default 30", cfg.FailureDecay)
	}
}

func TestTreeRunsAndStops(t *testing.T) {
	tree := NewTree(TreeConfig{})

	started := make(chan struct{})
	tree.AddMessagingService(&signalService{started: started})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tree.Serve(ctx) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("supervised service never started")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && err != context.Canceled {
			t.Errorf("tree Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}
}

// signalService closes started once and then waits for cancellation.
type signalService struct {
	started chan struct{}
	once    bool
}

func (s *signalService) Serve(ctx context.Context) error {
	if !s.once {
		s.once = true
		close(s.started)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *signalService) String() string { return "signal-service" }
