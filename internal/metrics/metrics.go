// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_http_requests_total",
		Help: "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inkwell_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	assistantRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_assistant_runs_total",
		Help: "Assistant pipeline runs by outcome.",
	}, []string{"outcome"})

	embeddingCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_embedding_calls_total",
		Help: "Embedding API calls by outcome.",
	}, []string{"outcome"})

	creditsSpent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inkwell_credits_spent_total",
		Help: "Credits consumed by assistant runs.",
	})
)

// ObserveHTTPRequest records one served request. The route label is the
// pattern, not the raw path, to keep cardinality bounded.
func ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// AssistantRun records one pipeline run; outcome is ok, error or
// insufficient_credits.
func AssistantRun(outcome string) {
	assistantRuns.WithLabelValues(outcome).Inc()
}

// EmbeddingCall records one embeddings API call; outcome is ok or error.
func EmbeddingCall(outcome string) {
	embeddingCalls.WithLabelValues(outcome).Inc()
}

// CreditSpent records one consumed credit.
func CreditSpent() {
	creditsSpent.Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
