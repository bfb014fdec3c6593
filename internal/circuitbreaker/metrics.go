package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "opsagent_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "service"},
	)

	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsagent_circuit_breaker_requests_total",
			Help: "Requests seen by circuit breakers by state and result",
		},
		[]string{"name", "service", "state", "result"},
	)

	stateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsagent_circuit_breaker_state_changes_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "service", "from_state", "to_state"},
	)
)
