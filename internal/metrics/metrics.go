package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usagegate_requests_total",
			Help: "Governance decisions by outcome",
		},
		[]string{"decision"}, // allowed|rate_limited|quota_exceeded|excluded
	)

	UsageRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usagegate_usage_records_total",
			Help: "Usage record lifecycle counter",
		},
		[]string{"result"}, // queued|dropped|flushed|failed
	)

	StoreFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usagegate_store_failures_total",
			Help: "Counter/quota store failures that triggered fail-open",
		},
		[]string{"op"}, // ratelimit|quota
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		RequestsTotal,
		UsageRecordsTotal,
		StoreFailuresTotal,
	)
}
