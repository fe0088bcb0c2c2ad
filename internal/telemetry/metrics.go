/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Relay metrics
var (
	RelayRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_tv_relay_running",
		Help: "1 while the relay encoder process is alive.",
	})
	RelayRestartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grimnir_tv_relay_restarts_total",
		Help: "Relay restarts scheduled after an unexpected exit.",
	})
	RelayConsecutiveFailures = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_tv_relay_consecutive_failures",
		Help: "Relay exits in a row that happened shortly after start.",
	})
	RelayAlertsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grimnir_tv_relay_alerts_total",
		Help: "Times the relay crossed the consecutive failure threshold.",
	})
	RelayFPS = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_tv_relay_fps",
		Help: "Last frames-per-second value reported by the relay.",
	})
	RelaySpeed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_tv_relay_speed",
		Help: "Last realtime speed factor reported by the relay.",
	})
	RelayDropFrames = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_tv_relay_drop_frames",
		Help: "Dropped frames reported by the current relay process.",
	})
)

// Pusher and scheduler metrics
var (
	PusherRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_tv_pusher_runs_total",
		Help: "Per-track pusher runs by result (ok, exit_error, spawn_error).",
	}, []string{"result"})
	PushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "grimnir_tv_push_duration_seconds",
		Help:    "Wall time of a pusher run.",
		Buckets: []float64{1, 10, 30, 60, 120, 180, 240, 300, 420, 600, 900},
	})
	SchedulerIterationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_tv_scheduler_iterations_total",
		Help: "Playout loop iterations by outcome.",
	}, []string{"outcome"})
	SchedulerTracksSinceIdent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_tv_scheduler_tracks_since_ident",
		Help: "Non-ident tracks selected since the last ident.",
	})
	SelectorPicksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_tv_selector_picks_total",
		Help: "Track selections by kind (ident, track, none).",
	}, []string{"kind"})
	SettingsRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_tv_settings_refresh_total",
		Help: "Settings cache refreshes by result.",
	}, []string{"result"})
)

// Ingest, event bus and API metrics
var (
	IngestVideosTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_tv_ingest_videos_total",
		Help: "Videos processed by the importer by result.",
	}, []string{"result"})
	EventBusPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_tv_eventbus_published_total",
		Help: "Events forwarded to an external bus.",
	}, []string{"backend"})
	EventBusErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_tv_eventbus_errors_total",
		Help: "Failed event bus operations.",
	}, []string{"backend", "op"})
	DatabaseQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grimnir_tv_database_query_duration_seconds",
		Help:    "Database operation latency by operation and table.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})
	DatabaseErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_tv_database_errors_total",
		Help: "Failed database operations. Not-found lookups are excluded.",
	}, []string{"operation"})
	DatabaseConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_tv_database_connections_active",
		Help: "Open database connections.",
	})
	APIRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_tv_api_requests_total",
		Help: "Ops listener requests.",
	}, []string{"method", "endpoint", "status"})
	APIRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grimnir_tv_api_request_duration_seconds",
		Help:    "Ops listener request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})
	APIActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_tv_api_active_connections",
		Help: "In-flight ops listener requests.",
	})
	APIWebSocketConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_tv_api_websocket_connections",
		Help: "Open live stats websocket connections.",
	})
)

// Leader election metrics
var (
	LeaderElectionStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_tv_leader_election_status",
		Help: "1 while this instance holds the playout lease.",
	})
	LeaderElectionChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_tv_leader_election_changes_total",
		Help: "Lease transitions by event (acquired, lost, released).",
	}, []string{"event"})
)

func init() {
	prometheus.MustRegister(
		RelayRunning,
		RelayRestartsTotal,
		RelayConsecutiveFailures,
		RelayAlertsTotal,
		RelayFPS,
		RelaySpeed,
		RelayDropFrames,
		PusherRunsTotal,
		PushDuration,
		SchedulerIterationsTotal,
		SchedulerTracksSinceIdent,
		SelectorPicksTotal,
		SettingsRefreshTotal,
		IngestVideosTotal,
		EventBusPublishedTotal,
		EventBusErrorsTotal,
		DatabaseQueryDuration,
		DatabaseErrorsTotal,
		DatabaseConnectionsActive,
		APIRequestsTotal,
		APIRequestDuration,
		APIActiveConnections,
		APIWebSocketConnections,
		LeaderElectionStatus,
		LeaderElectionChanges,
	)
}

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
