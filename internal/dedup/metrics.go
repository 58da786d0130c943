package dedup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "alerting"

var (
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "decisions_total",
			Help:      "Dedup decisions by outcome",
		},
		[]string{"decision"},
	)

	trackedKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "tracked_keys",
			Help:      "Keys held by the in-memory dedup tracker after the last sweep",
		},
	)
)

func recordDecision(deliver bool) {
	if deliver {
		decisionsTotal.WithLabelValues("deliver").Inc()
		return
	}
	decisionsTotal.WithLabelValues("suppress").Inc()
}
