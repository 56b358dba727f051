// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"INFO", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Timestamp: true, Output: &buf})
	defer Init(DefaultConfig())

	Info().Str("device_id", "camera_abc").Msg("device registered")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if entry["device_id"] != "camera_abc" {
		t.Errorf("device_id = %v, want camera_abc", entry["device_id"])
	}
	if entry["message"] != "device registered" {
		t.Errorf("message = %v, want 'device registered'", entry["message"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected timestamp field in output")
	}
}

func TestInitConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "console", Output: &buf})
	defer Init(DefaultConfig())

	Warn().Msg("console mode check")

	if !strings.Contains(buf.String(), "console mode check") {
		t.Errorf("console output missing message: %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "error", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Debug().Msg("should be suppressed")
	Info().Msg("should be suppressed")

	if buf.Len() != 0 {
		t.Errorf("expected no output below error level, got %q", buf.String())
	}

	Error().Msg("should pass")
	if buf.Len() == 0 {
		t.Error("expected error-level output")
	}
}

func TestSlogAdapterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	slogger := NewSlogLogger()
	slogger.Info("supervisor event",
		slog.String("service", "websocket-hub"),
		slog.Int("restarts", 2),
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("adapter output is not valid JSON: %v\n%s", err, buf.String())
	}
	if entry["service"] != "websocket-hub" {
		t.Errorf("service = %v, want websocket-hub", entry["service"])
	}
	if entry["restarts"] != float64(2) {
		t.Errorf("restarts = %v, want 2", entry["restarts"])
	}
	if entry["message"] != "supervisor event" {
		t.Errorf("message = %v", entry["message"])
	}
}

func TestSlogAdapterGroups(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	slogger := NewSlogLogger().WithGroup("stream").With(slog.String("device", "d1"))
	slogger.Warn("frame dropped")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("adapter output is not valid JSON: %v", err)
	}
	if entry["stream.device"] != "d1" {
		t.Errorf("stream.device = %v, want d1", entry["stream.device"])
	}
}
