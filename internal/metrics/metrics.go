// Package metrics holds the application Prometheus collectors. HTTP request
// metrics come from echoprometheus; these cover what happens behind a handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpsertRows counts bulk upsert rows by resource and outcome (inserted, updated, failed).
	UpsertRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmeve_upsert_rows_total",
			Help: "Bulk upsert rows by resource and outcome",
		},
		[]string{"resource", "outcome"},
	)

	// UpstreamCalls counts SSO/ESI calls by step and result (ok, error, open).
	UpstreamCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmeve_upstream_calls_total",
			Help: "Calls to the game SSO and API by step and result",
		},
		[]string{"step", "result"},
	)

	// StatusRecomputes counts status aggregate recomputations.
	StatusRecomputes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lmeve_status_recomputes_total",
			Help: "Status aggregate recomputations",
		},
	)

	// CircuitBreakerState tracks the ESI breaker (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lmeve_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// ObserveUpsert records the tallies of one bulk upsert.
func ObserveUpsert(resource string, inserted, updated, failed int) {
	UpsertRows.WithLabelValues(resource, "inserted").Add(float64(inserted))
	UpsertRows.WithLabelValues(resource, "updated").Add(float64(updated))
	UpsertRows.WithLabelValues(resource, "failed").Add(float64(failed))
}
