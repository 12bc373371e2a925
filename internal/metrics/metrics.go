// Package metrics provides Prometheus instrumentation for the drift
// engines and their surfaces. Counters cover message flow and gate
// decisions, gauges cover live connections, and histograms track
// snapshot latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of live WebSocket
	// stream connections.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "drift_ws_connections",
		Help: "Current number of live WebSocket stream connections",
	})

	// SendsTotal counts sendMessage calls, labeled by chat kind and
	// outcome: "ok" or the rejection code.
	SendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drift_sends_total",
		Help: "Total sendMessage calls by chat kind and outcome",
	}, []string{"kind", "outcome"})

	// GateDenialsTotal counts gated operations rejected, labeled by
	// rejection code.
	GateDenialsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drift_gate_denials_total",
		Help: "Total gated operations rejected, by rejection code",
	}, []string{"code"})

	// RateLimitHitsTotal counts HTTP requests dropped by the per-IP
	// limiter before reaching a handler.
	RateLimitHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drift_rate_limit_hits_total",
		Help: "Total HTTP requests dropped by the per-IP limiter",
	})

	// MatchesCreatedTotal counts mutual-like matches created.
	MatchesCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drift_matches_created_total",
		Help: "Total mutual-like matches created",
	})

	// SweptMessagesTotal counts cruise messages dropped by the
	// retention sweep.
	SweptMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drift_swept_messages_total",
		Help: "Total cruise messages dropped by the retention sweep",
	})

	// PersistedEventsTotal counts engine events written through to the
	// store, labeled by event kind.
	PersistedEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drift_persisted_events_total",
		Help: "Total engine events written through to the store",
	}, []string{"kind"})

	// SnapshotDuration records full-snapshot save latency in seconds.
	SnapshotDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "drift_snapshot_duration_seconds",
		Help:    "Full snapshot save latency in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		SendsTotal,
		GateDenialsTotal,
		RateLimitHitsTotal,
		MatchesCreatedTotal,
		SweptMessagesTotal,
		PersistedEventsTotal,
		SnapshotDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
