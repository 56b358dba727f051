// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

// Package api exposes the broker over HTTP: the REST surface, the
// Prometheus endpoint, and the two websocket endpoints (device and
// dashboard). Device connections route events into the registry, relay
// and propagator; dashboard connections subscribe to the hub.
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/camspan/camspan/internal/alerts"
	"github.com/camspan/camspan/internal/config"
	"github.com/camspan/camspan/internal/detection"
	"github.com/camspan/camspan/internal/hub"
	"github.com/camspan/camspan/internal/metrics"
	"github.com/camspan/camspan/internal/protocol"
	"github.com/camspan/camspan/internal/registry"
	"github.com/camspan/camspan/internal/relay"
	"github.com/camspan/camspan/internal/stats"
)

// Server wires the HTTP surface to the broker components.
type Server struct {
	cfg        *config.Config
	registry   *registry.Registry
	hub        *hub.Hub
	relay      *relay.Relay
	propagator *alerts.Propagator
	stats      *stats.Aggregator
	motion     *detection.Switch

	// deviceConns maps device id to its live connection so a viewer's
	// disconnect_device command can force-close it.
	deviceConns sync.Map // string -> *hub.Client

	// ipConns counts live websocket connections per remote address.
	ipMu    sync.Mutex
	ipConns map[string]int
}

// NewServer creates the HTTP surface over the given broker components.
func NewServer(
	cfg *config.Config,
	reg *registry.Registry,
	h *hub.Hub,
	rel *relay.Relay,
	prop *alerts.Propagator,
	agg *stats.Aggregator,
	motion *detection.Switch,
) *Server {
	return &Server{
		cfg:        cfg,
		registry:   reg,
		hub:        h,
		relay:      rel,
		propagator: prop,
		stats:      agg,
		motion:     motion,
		ipConns:    make(map[string]int),
	}
}

// Router builds the chi router with the full middleware chain and all
// routes.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.Server.RateLimitRequests, s.cfg.Server.RateLimitWindow))
		r.Use(observeRequests)
		r.Get("/stats", s.handleStats)
		r.Get("/devices", s.handleDevices)
		r.Post("/motion/toggle", s.handleMotionToggle)
	})

	r.Get("/ws/device", s.handleDeviceSocket)
	r.Get("/ws/dashboard", s.handleDashboardSocket)

	return r
}

// observeRequests records Prometheus counters and latency per route
// pattern.
func observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = r.URL.Path
		}
		metrics.ObserveAPIRequest(r.Method, endpoint, ww.Status(), time.Since(start))
	})
}

// clientOptions translates the websocket config into per-connection
// client tuning.
func (s *Server) clientOptions() hub.ClientOptions {
	return hub.ClientOptions{
		SendQueueSize:  s.cfg.Websocket.SendQueueSize,
		WriteTimeout:   s.cfg.Websocket.WriteTimeout,
		PongTimeout:    s.cfg.Websocket.PongTimeout,
		MaxMessageSize: s.cfg.Websocket.MaxMessageSize,
	}
}

// deviceSnapshot renders a device_update for every live session in
// deterministic order.
func (s *Server) deviceSnapshot() []protocol.Message {
	sessions := s.registry.Snapshot()
	msgs := make([]protocol.Message, 0, len(sessions)+2)
	for _, session := range sessions {
		msgs = append(msgs, protocol.MustMessage(protocol.EventDeviceUpdate, session))
	}
	return msgs
}

// joinSnapshot is what a joining viewer receives before any live event:
// every live device, the detection flag, and a stats baseline.
func (s *Server) joinSnapshot() []protocol.Message {
	msgs := s.deviceSnapshot()
	msgs = append(msgs, protocol.MustMessage(protocol.EventMotionDetectionStatus,
		protocol.MotionDetectionStatusPayload{Enabled: s.motion.Enabled()}))
	msgs = append(msgs, protocol.MustMessage(protocol.EventServerStats, s.stats.Current()))
	return msgs
}
