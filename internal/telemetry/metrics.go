/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "palmcards"

var (
	// APIRequestsTotal counts HTTP requests by method, route and status.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// APIRequestDuration tracks HTTP latency.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	// APIActiveConnections is the number of in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "api_active_connections",
			Help:      "In-flight HTTP requests",
		},
	)

	// APIWebSocketConnections is the number of open websockets.
	APIWebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "api_websocket_connections",
			Help:      "Open websocket connections",
		},
	)

	// NotionRequestsTotal counts Notion API calls by operation and outcome.
	NotionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notion_requests_total",
			Help:      "Total Notion API requests",
		},
		[]string{"operation", "status"},
	)

	// NotionRequestDuration tracks Notion API latency.
	NotionRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notion_request_duration_seconds",
			Help:      "Notion API request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	// NotionBreakerState is 0 closed, 1 half-open, 2 open.
	NotionBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notion_circuit_breaker_state",
			Help:      "Notion circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)

	// CacheRequestsTotal counts catalog cache lookups by result.
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Catalog cache lookups",
		},
		[]string{"result"},
	)

	// PlaybackTransitionsTotal counts sequencer state transitions.
	PlaybackTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_transitions_total",
			Help:      "Sequencer state transitions",
		},
		[]string{"state"},
	)

	// PlaybackFaultsTotal counts tracks that failed and were skipped.
	PlaybackFaultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_faults_total",
			Help:      "Playback failures handled by advancing",
		},
		[]string{"kind"},
	)

	// PlaybackSkipsTotal counts cards skipped because they had no audio.
	PlaybackSkipsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_skips_total",
			Help:      "Cards skipped for missing primary audio",
		},
	)

	// PlayerSessionsActive is the number of live player sessions.
	PlayerSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "player_sessions_active",
			Help:      "Active player sessions",
		},
	)

	// MirrorUploadsTotal counts audio objects copied to object storage.
	MirrorUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_uploads_total",
			Help:      "Audio files mirrored to object storage",
		},
		[]string{"result"},
	)
)

// Handler exposes metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
