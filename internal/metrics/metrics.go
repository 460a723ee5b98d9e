// Package metrics defines the Prometheus collectors the service exports on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TokenRefreshes counts refresh attempts by outcome:
	// success, refresh_failed, persist_failed, lost_race.
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "insights",
		Name:      "token_refreshes_total",
		Help:      "OAuth access-token refresh attempts by outcome.",
	}, []string{"outcome"})

	// IntentResults counts classification results by source:
	// analyzed, cached, default, rate_limited, analysis_error.
	IntentResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "insights",
		Name:      "intent_results_total",
		Help:      "Query-intent results returned, by source.",
	}, []string{"source"})

	// IntentCalls counts requests sent to the generative-language endpoint.
	IntentCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "insights",
		Name:      "intent_endpoint_calls_total",
		Help:      "Calls made to the classification endpoint, by mode.",
	}, []string{"mode"})

	// ReportCache counts report lookups by result: hit, miss, stale.
	ReportCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "insights",
		Name:      "report_cache_lookups_total",
		Help:      "Report cache lookups by result.",
	}, []string{"result"})

	// UpstreamDuration observes Google API latency by api.
	UpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "insights",
		Name:      "upstream_request_seconds",
		Help:      "Latency of upstream API calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"api"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
