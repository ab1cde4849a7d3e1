package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	remoteRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat2bench_remote_requests_total",
			Help: "Total number of chat2data requests by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
	remoteRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat2bench_remote_request_duration_seconds",
			Help:    "chat2data request latency by operation.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	jobPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat2bench_job_polls_total",
			Help: "Total number of job status polls by observed status.",
		},
		[]string{"status"},
	)
	jobWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat2bench_job_wait_seconds",
			Help:    "Time spent waiting for a job to reach a final state.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		},
		[]string{"state"},
	)
	retryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat2bench_retry_attempts_total",
			Help: "Total number of retried attempts by operation.",
		},
		[]string{"operation"},
	)
	casesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat2bench_cases_total",
			Help: "Total number of benchmark cases by result status.",
		},
		[]string{"status"},
	)
	caseDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat2bench_case_duration_seconds",
			Help:    "End to end latency of a single benchmark case.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		},
	)
	snapshotUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat2bench_snapshot_uploads_total",
			Help: "Total number of database snapshot uploads by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		remoteRequestsTotal,
		remoteRequestDurationSeconds,
		jobPollsTotal,
		jobWaitSeconds,
		retryAttemptsTotal,
		casesTotal,
		caseDurationSeconds,
		snapshotUploadsTotal,
	)
}

func ObserveRemoteRequest(operation, outcome string, elapsed time.Duration) {
	remoteRequestsTotal.WithLabelValues(operation, outcome).Inc()
	remoteRequestDurationSeconds.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func ObserveJobPoll(status string) {
	jobPollsTotal.WithLabelValues(status).Inc()
}

func ObserveJobWait(state string, elapsed time.Duration) {
	jobWaitSeconds.WithLabelValues(state).Observe(elapsed.Seconds())
}

func IncrementRetry(operation string) {
	retryAttemptsTotal.WithLabelValues(operation).Inc()
}

func ObserveCase(status string, elapsed time.Duration) {
	casesTotal.WithLabelValues(status).Inc()
	caseDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveSnapshotUpload(outcome string) {
	snapshotUploadsTotal.WithLabelValues(outcome).Inc()
}
