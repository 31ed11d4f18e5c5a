package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		jobsFinished,
		jobRetries,
		jobsEnqueued,
		stageLatencyMs,
		recordsAdminRequired,
	)
}

var (
	jobsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Jobs enqueued by document kind.",
		},
		[]string{"kind"},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_finished_total",
			Help: "Jobs reaching a terminal status, by status and error code.",
		},
		[]string{"status", "code"},
	)

	jobRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_retries_total",
			Help: "Failed attempts re-queued with backoff, by error code.",
		},
		[]string{"code"},
	)

	stageLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_latency_ms",
			Help:    "Pipeline stage latency distribution in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 15000, 60000},
		},
		[]string{"stage"},
	)

	recordsAdminRequired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "records_admin_required_total",
			Help: "Normalized records flagged for manual review.",
		},
	)
)

func JobEnqueued(kind string) {
	jobsEnqueued.WithLabelValues(norm(kind)).Inc()
}

// JobFinished counts a terminal transition; code is empty on success.
func JobFinished(status, code string) {
	if code == "" {
		code = "none"
	}
	jobsFinished.WithLabelValues(norm(status), norm(code)).Inc()
}

func JobRetried(code string) {
	jobRetries.WithLabelValues(norm(code)).Inc()
}

func ObserveStage(stage string, latencyMs int64) {
	stageLatencyMs.WithLabelValues(norm(stage)).Observe(float64(latencyMs))
}

func AdminRequired() {
	recordsAdminRequired.Inc()
}
