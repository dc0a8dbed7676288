package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamflow_circuit_breaker_status",
		Help: "Circuit breaker state as an integer (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	circuitBreakerTripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamflow_circuit_breaker_trips_total",
		Help: "Total number of times a circuit breaker tripped open",
	}, []string{"name", "reason"})
)

// SetCircuitBreakerState records a circuit breaker's current state.
func SetCircuitBreakerState(name string, state int) {
	circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordCircuitBreakerTrip increments the trip counter for a breaker.
func RecordCircuitBreakerTrip(name, reason string) {
	circuitBreakerTripsTotal.WithLabelValues(name, reason).Inc()
}
