/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every nocturne collector. It is separate from the default
// registry so tests can create engines repeatedly without duplicate
// registration panics.
var Registry = prometheus.NewRegistry()

var (
	// CrossfadesTotal counts finished crossfades by outcome
	// (completed, rolled_back, cancelled, failed).
	CrossfadesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nocturne_crossfades_total",
			Help: "Crossfades by outcome",
		},
		[]string{"outcome"},
	)

	// CrossfadeDuration observes the effective fade length of started crossfades.
	CrossfadeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nocturne_crossfade_duration_seconds",
			Help:    "Effective crossfade length",
			Buckets: []float64{0, 0.5, 1, 2, 3, 5, 8, 12, 20},
		},
	)

	// TrackLoadFailures counts load failures by kind (not_found, corrupt_format, timeout).
	TrackLoadFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nocturne_track_load_failures_total",
			Help: "Track load failures by kind",
		},
		[]string{"kind"},
	)

	SkippedTracks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nocturne_skipped_tracks_total",
			Help: "Tracks skipped because they failed to load",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nocturne_queue_depth",
			Help: "Pending control requests",
		},
	)

	InvariantViolations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nocturne_invariant_violations_total",
			Help: "Dual-channel consistency violations detected and repaired",
		},
	)

	// OrchestratorState is 1 for the current crossfade state and 0 otherwise.
	OrchestratorState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nocturne_orchestrator_state",
			Help: "Current crossfade orchestrator state",
		},
		[]string{"state"},
	)

	OverlayActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nocturne_overlay_active",
			Help: "Whether the overlay bed is playing",
		},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nocturne_events_dropped_total",
			Help: "Events dropped because a subscriber fell behind",
		},
		[]string{"type"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nocturne_api_request_duration_seconds",
			Help:    "Control API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nocturne_api_requests_total",
			Help: "Control API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nocturne_api_active_connections",
			Help: "In-flight control API requests",
		},
	)

	// Session store
	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nocturne_database_query_duration_seconds",
			Help:    "Session store query latency",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"operation", "table"},
	)

	DatabaseErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nocturne_database_errors_total",
			Help: "Session store query errors",
		},
		[]string{"operation"},
	)

	DatabaseConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nocturne_database_connections_active",
			Help: "Open session store connections",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		CrossfadesTotal,
		CrossfadeDuration,
		TrackLoadFailures,
		SkippedTracks,
		QueueDepth,
		InvariantViolations,
		OrchestratorState,
		OverlayActive,
		EventsDropped,
		APIRequestDuration,
		APIRequestsTotal,
		APIActiveConnections,
		DatabaseQueryDuration,
		DatabaseErrorsTotal,
		DatabaseConnectionsActive,
	)
}

// SetOrchestratorState marks state as the current orchestrator state.
func SetOrchestratorState(state string) {
	OrchestratorState.Reset()
	OrchestratorState.WithLabelValues(state).Set(1)
}

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
