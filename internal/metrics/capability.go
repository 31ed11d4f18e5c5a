package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		capabilityCalls,
		capabilityLatencyMs,
		capabilityPromptTokens,
		limiterRejections,
	)
}

var (
	capabilityCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capability_calls_total",
			Help: "Extraction capability calls by provider and outcome code (ok on success).",
		},
		[]string{"provider", "outcome"},
	)

	capabilityLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "capability_call_latency_ms",
			Help:    "Extraction capability latency distribution in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 16000, 32000, 60000},
		},
		[]string{"provider", "model"},
	)

	capabilityPromptTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capability_prompt_tokens_total",
			Help: "Estimated prompt tokens sent per provider/model.",
		},
		[]string{"provider", "model"},
	)

	limiterRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capability_limiter_rejections_total",
			Help: "Calls delayed by the shared rate limiter, by limiter backend.",
		},
		[]string{"backend"},
	)
)

// ObserveCapabilityCall records one capability call. outcome is "ok" or the
// classified error code.
func ObserveCapabilityCall(provider, model, outcome string, latencyMs int64) {
	capabilityCalls.WithLabelValues(norm(provider), norm(outcome)).Inc()
	capabilityLatencyMs.WithLabelValues(norm(provider), norm(model)).Observe(float64(latencyMs))
}

func AddPromptTokens(provider, model string, n int) {
	capabilityPromptTokens.WithLabelValues(norm(provider), norm(model)).Add(float64(n))
}

func LimiterRejected(backend string) {
	limiterRejections.WithLabelValues(norm(backend)).Inc()
}
