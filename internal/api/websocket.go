// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

package api

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/camspan/camspan/internal/logging"
	"github.com/camspan/camspan/internal/protocol"
)

// newUpgrader builds the websocket upgrader shared by both endpoints.
func (s *Server) newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		HandshakeTimeout: s.cfg.Websocket.HandshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		CheckOrigin:      s.checkOrigin,
	}
}

// checkOrigin validates the Origin header against the configured allow
// list. Requests without an Origin header (non-browser agents) are
// accepted; browsers always send one.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.Websocket.AllowedOrigins {
		if allowed == "*" {
			return true
		}
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	// Same-host origins are always fine regardless of the allow list.
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	logging.Warn().Str("origin", origin).Msg("websocket origin rejected")
	return false
}

// clientIP extracts the remote address without the port. RealIP
// middleware has already resolved proxy headers upstream.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// acquireConn reserves a connection slot for ip. Returns false when the
// per-IP budget is exhausted.
func (s *Server) acquireConn(ip string) bool {
	s.ipMu.Lock()
	defer s.ipMu.Unlock()
	if s.ipConns[ip] >= s.cfg.Server.MaxConnectionsPerIP {
		return false
	}
	s.ipConns[ip]++
	return true
}

func (s *Server) releaseConn(ip string) {
	s.ipMu.Lock()
	defer s.ipMu.Unlock()
	if s.ipConns[ip] <= 1 {
		delete(s.ipConns, ip)
		return
	}
	s.ipConns[ip]--
}

// upgrade performs the connection-slot check and the websocket upgrade.
// The returned release func must be called when the connection ends.
func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, func(), bool) {
	ip := clientIP(r)
	if !s.acquireConn(ip) {
		logging.Warn().Str("remote_ip", ip).Msg("per-ip websocket connection limit reached")
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return nil, nil, false
	}

	upgrader := s.newUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.releaseConn(ip)
		logging.Warn().Err(err).Str("remote_ip", ip).Msg("websocket upgrade failed")
		return nil, nil, false
	}
	return conn, func() { s.releaseConn(ip) }, true
}

// greeting is sent on every freshly accepted connection, device or
// dashboard.
func greeting() protocol.Message {
	return protocol.MustMessage(protocol.EventConnectionResponse, protocol.ConnectionResponsePayload{
		Status:     "connected",
		ServerTime: time.Now().UTC(),
		Message:    "connected to camspan broker",
	})
}
