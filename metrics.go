package outbound

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_jobs_processed_total",
			Help: "Total number of jobs processed, by type and result",
		},
		[]string{"type", "result"},
	)

	jobRetriesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_job_retries_total",
			Help: "Total number of job retries scheduled",
		},
		[]string{"type"},
	)

	jobsDeadLetteredCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_jobs_dead_lettered_total",
			Help: "Total number of jobs that exhausted their retry attempts",
		},
		[]string{"type"},
	)

	recipientsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_recipients_total",
			Help: "Per-recipient send outcomes, by channel and result",
		},
		[]string{"channel", "result"},
	)

	sendDurationHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outbound_send_duration_seconds",
			Help:    "Duration of individual provider send calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)
)
