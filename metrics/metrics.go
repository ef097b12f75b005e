// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Classifier metrics
var (
	// ClassifierOpsTotal counts classifier operations by operation and status
	ClassifierOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storebayes_classifier_operations_total",
			Help: "Total classifier operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// ClassifierOpDuration tracks classifier operation latency in seconds
	ClassifierOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storebayes_classifier_operation_duration_seconds",
			Help:    "Classifier operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)

	// TokensProcessed counts tokens that survived normalization, by operation
	TokensProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storebayes_tokens_processed_total",
			Help: "Tokens processed after normalization by operation",
		},
		[]string{"operation"},
	)
)

// Store metrics
var (
	// StoreOpsTotal counts backend commands by backend, command and status
	StoreOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storebayes_store_operations_total",
			Help: "Total counting store commands by backend, command and status",
		},
		[]string{"backend", "command", "status"},
	)

	// StoreOpDuration tracks backend command latency in seconds
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storebayes_store_operation_duration_seconds",
			Help:    "Counting store command duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"backend", "command"},
	)

	// StoreConnectionErrors counts failed backend dials
	StoreConnectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storebayes_store_connection_errors_total",
			Help: "Total counting store connection errors",
		},
		[]string{"backend"},
	)

	// CircuitBreakerState tracks breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storebayes_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)

	// CircuitBreakerStateChanges counts breaker transitions by new state
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storebayes_circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)
)

// Status returns the status label for an operation outcome.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
