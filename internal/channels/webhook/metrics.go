package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

var breakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "alerting",
		Subsystem: "webhook",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per webhook host (0=closed, 1=half-open, 2=open)",
	},
	[]string{"host"},
)

func recordBreakerState(host string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateClosed:
		v = 0
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	breakerState.WithLabelValues(host).Set(v)
}
