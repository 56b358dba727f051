// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

// Package main is a headless camera device agent. It drives the
// acquisition state machine with the synthetic provider and streams the
// rendered frames to a broker, which makes it useful for demos, load
// generation, and end-to-end checks without a browser or real camera.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/camspan/camspan/internal/camera"
	"github.com/camspan/camspan/internal/logging"
	"github.com/camspan/camspan/internal/models"
	"github.com/camspan/camspan/internal/protocol"
)

func main() {
	var (
		brokerURL   = flag.String("broker", "ws://127.0.0.1:5000", "broker base URL (ws:// or wss://)")
		deviceID    = flag.String("device-id", "", "device id (default camera_<random>)")
		interval    = flag.Duration("interval", camera.DefaultCaptureInterval, "frame capture interval")
		switchEvery = flag.Duration("switch-every", 0, "toggle the camera facing on this period (0 = never)")
		logLevel    = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	logging.Init(logging.Config{Level: *logLevel, Format: "console"})

	if *deviceID == "" {
		*deviceID = "camera_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}

	a, err := newAgent(*brokerURL, *deviceID, *interval)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to broker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Info().Msg("shutting down")
		cancel()
	}()

	if err := a.run(ctx, *switchEvery); err != nil && ctx.Err() == nil {
		logging.Fatal().Err(err).Msg("agent failed")
	}
	logging.Info().Msg("agent stopped")
}

// agent couples one websocket connection with one acquisition machine.
type agent struct {
	deviceID string
	provider *camera.SyntheticProvider
	machine  *camera.Machine

	writeMu sync.Mutex
	conn    *websocket.Conn

	registered chan protocol.RegistrationResponsePayload
	readDone   chan struct{}
}

func newAgent(brokerURL, deviceID string, interval time.Duration) (*agent, error) {
	conn, _, err := websocket.DefaultDialer.Dial(strings.TrimRight(brokerURL, "/")+"/ws/device", nil)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	a := &agent{
		deviceID:   deviceID,
		provider:   camera.NewSyntheticProvider(),
		conn:       conn,
		registered: make(chan protocol.RegistrationResponsePayload, 1),
		readDone:   make(chan struct{}),
	}
	a.machine = camera.NewMachine(a.provider, deviceID, camera.Events{
		OnFrame:         a.onFrame,
		OnStreamStarted: a.onStreamStarted,
		OnStreamStopped: a.onStreamStopped,
		OnError: func(cerr *camera.Error) {
			logging.Error().Str("kind", string(cerr.Kind)).Msg(cerr.Message())
		},
	}, camera.Options{CaptureInterval: interval})

	go a.readLoop()
	return a, nil
}

func (a *agent) run(ctx context.Context, switchEvery time.Duration) error {
	env := a.provider.Environment()
	if err := a.send(protocol.EventRegisterDevice, protocol.RegisterDevicePayload{
		DeviceID:   a.deviceID,
		DeviceType: "wireless_camera",
		UserAgent:  env.UserAgent,
		Screen:     env.Screen,
	}); err != nil {
		return err
	}

	select {
	case resp := <-a.registered:
		if !resp.Success {
			return fmt.Errorf("registration rejected: %s", resp.Message)
		}
		logging.Info().Str("device_id", a.deviceID).Msg("registered with broker")
	case <-time.After(10 * time.Second):
		return errors.New("registration timed out")
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := a.machine.Start(ctx); err != nil {
		return fmt.Errorf("start camera: %w", err)
	}

	var switchCh <-chan time.Time
	if switchEvery > 0 {
		ticker := time.NewTicker(switchEvery)
		defer ticker.Stop()
		switchCh = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return ctx.Err()
		case <-a.readDone:
			a.machine.Stop()
			return fmt.Errorf("connection to broker lost")
		case <-switchCh:
			if err := a.machine.SwitchCamera(ctx); err != nil {
				logging.Warn().Err(err).Msg("camera switch failed")
			}
		}
	}
}

// shutdown stops streaming and tells the broker before dropping the
// connection.
func (a *agent) shutdown() {
	a.machine.Stop()
	_ = a.send(protocol.EventUnregisterDevice, protocol.DeviceRefPayload{DeviceID: a.deviceID})
	_ = a.conn.Close()
}

func (a *agent) onFrame(frame models.FrameEnvelope) {
	err := a.send(protocol.EventCameraFrame, protocol.CameraFramePayload{
		DeviceID:  frame.DeviceID,
		FrameData: frame.FrameData,
		Timestamp: frame.Timestamp,
	})
	if err != nil {
		logging.Debug().Err(err).Msg("frame send failed")
	}
}

// onStreamStarted announces the negotiated camera state. Sent on every
// stream start including post-switch restarts, so the broker tracks the
// live direction and resolution without resetting frame counters.
func (a *agent) onStreamStarted(details camera.StreamDetails) {
	res := details.Resolution
	if err := a.send(protocol.EventStartStream, protocol.StartStreamPayload{
		DeviceID:        a.deviceID,
		CameraDirection: details.Facing,
		Resolution:      &res,
	}); err != nil {
		logging.Warn().Err(err).Msg("start_stream send failed")
	}
}

func (a *agent) onStreamStopped() {
	if err := a.send(protocol.EventStopStream, protocol.DeviceRefPayload{DeviceID: a.deviceID}); err != nil {
		logging.Debug().Err(err).Msg("stop_stream send failed")
	}
}

func (a *agent) send(eventType string, payload any) error {
	msg, err := protocol.NewMessage(eventType, payload)
	if err != nil {
		return err
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = a.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return a.conn.WriteJSON(msg)
}

// readLoop consumes broker responses for logging and registration
// confirmation.
func (a *agent) readLoop() {
	defer close(a.readDone)
	for {
		var msg protocol.Message
		if err := a.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case protocol.EventConnectionResponse:
			var p protocol.ConnectionResponsePayload
			if err := msg.Decode(&p); err == nil {
				logging.Info().Str("status", p.Status).Msg("broker greeting")
			}
		case protocol.EventRegistrationResponse:
			var p protocol.RegistrationResponsePayload
			if err := msg.Decode(&p); err == nil {
				select {
				case a.registered <- p:
				default:
				}
			}
		case protocol.EventStreamResponse:
			var p protocol.StreamResponsePayload
			if err := msg.Decode(&p); err == nil && !p.Success {
				logging.Warn().Str("message", p.Message).Msg("stream request refused")
			}
		case protocol.EventFrameError:
			var p protocol.FrameErrorPayload
			if err := msg.Decode(&p); err == nil {
				logging.Warn().Str("message", p.Message).Msg("frame rejected by broker")
			}
		default:
			logging.Debug().Str("event", msg.Type).Msg("ignoring broker event")
		}
	}
}
