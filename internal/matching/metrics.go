package matching

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "alerting"

const (
	eventResultMatched = "matched"
	eventResultNoMatch = "no_match"
	eventResultStale   = "stale"
	eventResultInvalid = "invalid"
	eventResultError   = "error"
)

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "events_total",
			Help:      "Incident events handled by result",
		},
		[]string{"result"},
	)

	ruleMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "rule_matches_total",
			Help:      "Confirmed rule matches by outcome",
		},
		[]string{"outcome"},
	)

	indexRules = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "rules",
			Help:      "Rules in the served index snapshot by lookup path",
		},
		[]string{"path"},
	)

	indexRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "refresh_total",
			Help:      "Rule index refreshes by status",
		},
		[]string{"status"},
	)
)

func recordEvent(result string) {
	eventsTotal.WithLabelValues(result).Inc()
}

func recordMatches(res Result) {
	ruleMatchesTotal.WithLabelValues("enqueued").Add(float64(res.Enqueued))
	ruleMatchesTotal.WithLabelValues("suppressed").Add(float64(res.Suppressed))
}

func recordIndexRefresh(ok bool) {
	if ok {
		indexRefreshTotal.WithLabelValues("success").Inc()
		return
	}
	indexRefreshTotal.WithLabelValues("error").Inc()
}

func recordIndexSize(total, unindexed int) {
	indexRules.WithLabelValues("keyed").Set(float64(total - unindexed))
	indexRules.WithLabelValues("scan").Set(float64(unindexed))
}
