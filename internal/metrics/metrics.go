// Package metrics holds the Prometheus collectors of the viewer service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Backend client metrics
	BackendRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "water_backend_requests_total",
		Help: "Requests sent to the analysis backend",
	}, []string{"endpoint", "outcome"})

	BackendRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "water_backend_request_duration_seconds",
		Help:    "Latency of analysis backend requests",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	}, []string{"endpoint"})

	// Viewer state machine metrics
	RefreshDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "water_refresh_decisions_total",
		Help: "Refresh requests by decision",
	}, []string{"decision"})

	DiscardedResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "water_discarded_results_total",
		Help: "Backend results dropped because a newer request or a cancel superseded them",
	}, []string{"kind"})

	ExportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "water_exports_total",
		Help: "Per-region export requests by path and outcome",
	}, []string{"path", "outcome"})

	// Session metrics
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "water_active_sessions",
		Help: "Current number of open viewer sessions",
	})
)

// ObserveBackend records one backend request. It matches the waterclient OnRequest hook.
func ObserveBackend(endpoint string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	BackendRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	BackendRequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// Outcome maps an error to a label value.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
