// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

package api

import (
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/camspan/camspan/internal/logging"
	"github.com/camspan/camspan/internal/models"
	"github.com/camspan/camspan/internal/protocol"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// statsResponse is the REST view of the live counters: the broadcast
// shape plus deployment details a dashboard page needs once.
type statsResponse struct {
	models.ServerStats
	DashboardViewers int    `json:"dashboard_viewers"`
	MotionDetection  bool   `json:"motion_detection"`
	ServerHost       string `json:"server_host"`
	ServerPort       int    `json:"server_port"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		ServerStats:      s.stats.Current(),
		DashboardViewers: s.hub.ViewerCount(),
		MotionDetection:  s.motion.Enabled(),
		ServerHost:       s.cfg.Server.Host,
		ServerPort:       s.cfg.Server.Port,
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

func (s *Server) handleMotionToggle(w http.ResponseWriter, _ *http.Request) {
	enabled := s.motion.Toggle()
	s.hub.Broadcast(protocol.MustMessage(protocol.EventMotionDetectionStatus,
		protocol.MotionDetectionStatusPayload{Enabled: enabled}))
	writeJSON(w, http.StatusOK, protocol.MotionDetectionStatusPayload{Enabled: enabled})
}
