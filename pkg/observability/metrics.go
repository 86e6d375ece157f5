// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the polygate gateway.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and
	// detected wire format.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polygate_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "vendor"},
	)

	// RequestDuration records HTTP request duration in seconds by method and
	// detected wire format.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polygate_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "vendor"},
	)

	// StreamingConnections tracks the number of active streaming connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polygate_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// ConversionErrorsTotal counts requests rejected during decoding, by
	// wire format.
	ConversionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polygate_conversion_errors_total",
			Help: "Request decode failures",
		},
		[]string{"vendor"},
	)

	// ProviderRequestsTotal counts requests sent to backend LLM providers.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polygate_provider_requests_total",
			Help: "Provider requests",
		},
		[]string{"provider", "model", "status"},
	)

	// ProviderLatency records backend provider latency in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polygate_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model"},
	)

	// ProviderTokensTotal counts tokens processed by direction (input/output).
	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polygate_provider_tokens_total",
			Help: "Token count",
		},
		[]string{"provider", "model", "direction"},
	)

	// PollAttemptsTotal counts status polls issued against job-based backends.
	PollAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polygate_poll_attempts_total",
			Help: "Job status polls",
		},
		[]string{"provider"},
	)

	// PollOutcomesTotal counts poll job outcomes (complete, failed, timed_out).
	PollOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polygate_poll_outcomes_total",
			Help: "Poll job outcomes",
		},
		[]string{"provider", "outcome"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polygate_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		ConversionErrorsTotal,
		ProviderRequestsTotal,
		ProviderLatency,
		ProviderTokensTotal,
		PollAttemptsTotal,
		PollOutcomesTotal,
		RateLimitRejectedTotal,
	)
}

// ObserveProvider records a completed provider invocation.
func ObserveProvider(provider, model string, success bool, seconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	ProviderRequestsTotal.WithLabelValues(provider, model, status).Inc()
	ProviderLatency.WithLabelValues(provider, model).Observe(seconds)
}

// ObserveTokens records token usage for a provider invocation.
func ObserveTokens(provider, model string, input, output int) {
	if input > 0 {
		ProviderTokensTotal.WithLabelValues(provider, model, "input").Add(float64(input))
	}
	if output > 0 {
		ProviderTokensTotal.WithLabelValues(provider, model, "output").Add(float64(output))
	}
}
