package resilience

import (
	"github.com/go-i2p/respool/lib/metrics"
)

// Circuit breaker and limiter metrics, labeled by circuit name.
var (
	// CircuitState is the current state of each circuit.
	// 0 = closed, 1 = open, 2 = half-open
	CircuitState = metrics.NewGaugeVec(
		"respool_circuit_state",
		"Current state of the circuit breaker (0=closed, 1=open, 2=half-open)",
		"circuit",
	)

	// CircuitTripsTotal counts how often each circuit opened.
	CircuitTripsTotal = metrics.NewCounterVec(
		"respool_circuit_trips_total",
		"Total number of times the circuit opened",
		"circuit",
	)

	// CircuitSuccessesTotal counts calls that succeeded through a circuit.
	CircuitSuccessesTotal = metrics.NewCounterVec(
		"respool_circuit_successes_total",
		"Total successful calls through the circuit",
		"circuit",
	)

	// CircuitFailuresTotal counts calls that failed through a circuit.
	CircuitFailuresTotal = metrics.NewCounterVec(
		"respool_circuit_failures_total",
		"Total failed calls through the circuit",
		"circuit",
	)

	// CircuitRejectionsTotal counts calls rejected by an open circuit.
	CircuitRejectionsTotal = metrics.NewCounterVec(
		"respool_circuit_rejections_total",
		"Total calls rejected by the open circuit",
		"circuit",
	)

	// CreateThrottledTotal counts creations refused by the rate limiter.
	CreateThrottledTotal = metrics.NewCounterVec(
		"respool_create_throttled_total",
		"Total resource creations refused by the rate limiter",
		"circuit",
	)
)
