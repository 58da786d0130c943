package delivery

import (
	"time"

	"github.com/bissquit/incident-alerts/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "alerting"

var (
	recordsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "records",
			Help:      "Delivery records by status",
		},
		[]string{"status"},
	)

	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Delivery attempts by channel type and outcome",
		},
		[]string{"channel_type", "outcome"},
	)

	attemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "attempt_duration_seconds",
			Help:      "Channel adapter call duration",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel_type"},
	)

	submittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "submitted_total",
			Help:      "Delivery records submitted by channel type",
		},
		[]string{"channel_type"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "scheduled",
			Help:      "Records waiting in the retry queue",
		},
	)
)

const (
	outcomeDelivered = "delivered"
	outcomeRetry     = "retry"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
)

func recordAttempt(channelType domain.ChannelType, outcome string, d time.Duration) {
	attemptsTotal.WithLabelValues(string(channelType), outcome).Inc()
	if outcome != outcomeSkipped {
		attemptDuration.WithLabelValues(string(channelType)).Observe(d.Seconds())
	}
}

func recordSubmitted(channelType domain.ChannelType) {
	submittedTotal.WithLabelValues(string(channelType)).Inc()
}

// RecordStatusCounts updates the records gauge from store counts.
func RecordStatusCounts(counts map[domain.DeliveryStatus]int) {
	for _, s := range []domain.DeliveryStatus{
		domain.DeliveryStatusPending,
		domain.DeliveryStatusDelivered,
		domain.DeliveryStatusFailedPermanent,
		domain.DeliveryStatusCancelled,
	} {
		recordsByStatus.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}
