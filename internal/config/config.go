// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

// Package config loads the broker configuration via Koanf v2 with layered
// sources: built-in defaults, an optional YAML file, then environment
// variables (highest priority).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root broker configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Websocket WebsocketConfig `koanf:"websocket"`
	Stream    StreamConfig    `koanf:"stream"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// CORSOrigins lists origins allowed on the REST surface.
	CORSOrigins []string `koanf:"cors_origins"`

	// Rate limiting for REST endpoints.
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"min=1"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`

	// MaxConnectionsPerIP caps simultaneous websocket upgrades from one
	// address. Devices on a shared NAT count against the same budget.
	MaxConnectionsPerIP int `koanf:"max_connections_per_ip" validate:"min=1"`
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WebsocketConfig configures both device and dashboard connections.
type WebsocketConfig struct {
	// SendQueueSize bounds each viewer's outbound queue. On overflow the
	// oldest queued event is dropped first; the broadcaster never blocks.
	SendQueueSize int `koanf:"send_queue_size" validate:"min=1"`

	// MaxMessageSize bounds a single inbound message. Camera frames arrive
	// as base64 data URIs, so this defaults well above typical JPEG sizes.
	MaxMessageSize int64 `koanf:"max_message_size" validate:"min=1024"`

	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	WriteTimeout     time.Duration `koanf:"write_timeout"`
	PongTimeout      time.Duration `koanf:"pong_timeout"`

	// AllowedOrigins checked during the websocket upgrade. "*" allows any
	// origin, matching the original deployment on a trusted LAN.
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// StreamConfig configures frame relay and stats broadcasting.
type StreamConfig struct {
	// StatsInterval is the server_stats broadcast period.
	StatsInterval time.Duration `koanf:"stats_interval"`

	// MaxFrameRate caps accepted frames per second per device.
	// 0 disables the cap. Over-budget frames are dropped, never queued.
	MaxFrameRate float64 `koanf:"max_frame_rate" validate:"min=0"`

	// MotionDetection is the initial state of the detection toggle.
	MotionDetection bool `koanf:"motion_detection"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// layered first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                5000,
			ReadTimeout:         30 * time.Second,
			WriteTimeout:        30 * time.Second,
			ShutdownTimeout:     10 * time.Second,
			CORSOrigins:         []string{"*"},
			RateLimitRequests:   100,
			RateLimitWindow:     time.Minute,
			MaxConnectionsPerIP: 5,
		},
		Websocket: WebsocketConfig{
			SendQueueSize:    256,
			MaxMessageSize:   4 << 20, // 4 MB
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     10 * time.Second,
			PongTimeout:      60 * time.Second,
			AllowedOrigins:   []string{"*"},
		},
		Stream: StreamConfig{
			StatsInterval:   30 * time.Second,
			MaxFrameRate:    0,
			MotionDetection: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cross-field and tag constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if c.Websocket.PongTimeout <= c.Websocket.WriteTimeout {
		return fmt.Errorf("config validation: websocket.pong_timeout (%s) must exceed websocket.write_timeout (%s)",
			c.Websocket.PongTimeout, c.Websocket.WriteTimeout)
	}
	if c.Stream.StatsInterval < time.Second {
		return fmt.Errorf("config validation: stream.stats_interval (%s) must be at least 1s", c.Stream.StatsInterval)
	}
	return nil
}
