// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

// Package metrics provides Prometheus instrumentation for the broker:
// session lifecycle, frame relay throughput, alert propagation, viewer
// fan-out, and the REST surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session Registry
	ConnectedDevices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "camspan_connected_devices",
			Help: "Current number of registered device sessions",
		},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "camspan_active_streams",
			Help: "Current number of device sessions in streaming state",
		},
	)

	DeviceRegistrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camspan_device_registrations_total",
			Help: "Total device registration attempts",
		},
		[]string{"outcome"}, // "accepted", "rejected"
	)

	// Frame Relay
	FramesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "camspan_frames_processed_total",
			Help: "Total frames accepted and relayed to viewers",
		},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camspan_frames_dropped_total",
			Help: "Total frames dropped before relay",
		},
		[]string{"reason"}, // "unknown_session", "not_streaming", "rate_limited", "malformed"
	)

	FrameBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "camspan_frame_bytes",
			Help:    "Size of accepted frame payloads in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8), // 1KiB .. 16MiB
		},
	)

	// Alert Propagator
	MotionAlerts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "camspan_motion_alerts_total",
			Help: "Total motion alerts received from the detection collaborator",
		},
	)

	// Viewer fan-out
	DashboardViewers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "camspan_dashboard_viewers",
			Help: "Current number of subscribed dashboard viewers",
		},
	)

	ViewerEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "camspan_viewer_events_dropped_total",
			Help: "Events evicted from viewer send queues on overflow (oldest first)",
		},
	)

	BroadcastsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camspan_broadcasts_total",
			Help: "Events enqueued for delivery to viewers, by event type",
		},
		[]string{"event"},
	)

	// REST surface
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camspan_api_requests_total",
			Help: "Total REST API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "camspan_api_request_duration_seconds",
			Help:    "REST API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "endpoint"},
	)
)

// ObserveAPIRequest records one completed REST request.
func ObserveAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
