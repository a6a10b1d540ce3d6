package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tour-API Metrics
var (
	// Upload grants issued / rejected
	GrantsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "h3",
			Subsystem: "tour_api",
			Name:      "grants_total",
			Help:      "Upload grants issued or rejected",
		},
		[]string{"status"},
	)

	// Processing jobs by terminal outcome
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "h3",
			Subsystem: "tour_api",
			Name:      "jobs_total",
			Help:      "Processing jobs reaching a terminal state",
		},
		[]string{"outcome"},
	)

	// Webhook callbacks by result
	WebhookResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "h3",
			Subsystem: "tour_api",
			Name:      "webhook_results_total",
			Help:      "Processor webhook callbacks by verification/processing result",
		},
		[]string{"result"},
	)

	// Sweep actions
	SweepActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "h3",
			Subsystem: "tour_api",
			Name:      "sweep_actions_total",
			Help:      "Rows affected by background sweeps",
		},
		[]string{"sweep"},
	)

	// S3 operations counter
	S3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "h3",
			Subsystem: "tour_api",
			Name:      "s3_operations_total",
			Help:      "Total S3 operations",
		},
		[]string{"operation", "status"},
	)

	// S3 operation duration
	S3Duration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "h3",
			Subsystem: "tour_api",
			Name:      "s3_duration_seconds",
			Help:      "S3 operation duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"operation"},
	)

	// Presign URL duration
	PresignDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "h3",
			Subsystem: "tour_api",
			Name:      "presign_duration_seconds",
			Help:      "Presigned URL generation duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	// Published tour files written by the processor
	PublishedFilesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "h3",
			Subsystem: "tour_api",
			Name:      "published_files_total",
			Help:      "Files republished to the public prefix",
		},
	)
)

// RecordGrant records an upload grant decision
func RecordGrant(status string) {
	GrantsTotal.WithLabelValues(status).Inc()
}

// RecordJobOutcome records a job reaching a terminal state
func RecordJobOutcome(outcome string) {
	JobsTotal.WithLabelValues(outcome).Inc()
}

// RecordWebhookResult records a webhook callback result
func RecordWebhookResult(result string) {
	WebhookResultsTotal.WithLabelValues(result).Inc()
}

// RecordSweep records rows affected by a background sweep
func RecordSweep(sweep string, affected int64) {
	if affected > 0 {
		SweepActionsTotal.WithLabelValues(sweep).Add(float64(affected))
	}
}

// RecordS3Operation records an S3 operation
func RecordS3Operation(operation, status string, durationSec float64) {
	S3OperationsTotal.WithLabelValues(operation, status).Inc()
	S3Duration.WithLabelValues(operation).Observe(durationSec)
}

// RecordPresign records presigned URL generation
func RecordPresign(durationSec float64) {
	PresignDuration.Observe(durationSec)
}
