// Package metrics declares the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mailqueue"

// Delivery engine metrics
var (
	MessagesEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_enqueued_total",
			Help:      "Messages accepted for delivery",
		},
		[]string{"kind"}, // template, raw
	)

	EnqueueRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueue_rejected_total",
			Help:      "Enqueue requests rejected before anything was stored",
		},
		[]string{"reason"}, // validation, suppressed, template, missing_vars
	)

	IdempotentHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotent_hits_total",
			Help:      "Enqueue requests answered with an existing message",
		},
	)

	DeliveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Backend delivery attempts",
		},
		[]string{"provider", "outcome"}, // sent, retrying, failed
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Duration of backend send calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Message status transitions",
		},
		[]string{"from", "to"},
	)
)

// Scheduler metrics
var (
	DueDispatchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "due_dispatched_total",
			Help:      "Due messages handed to the dispatch queue",
		},
	)

	StaleRecoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_recovered_total",
			Help:      "SENDING messages returned to RETRYING by the stale sweep",
		},
	)

	CleanupDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_deleted_total",
			Help:      "SENT messages removed by retention",
		},
	)

	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs",
		},
		[]string{"job", "result"}, // ok, error, skipped
	)
)

// Suppression metrics
var (
	SuppressionsAddedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suppressions_added_total",
			Help:      "Addresses added to the suppression list",
		},
		[]string{"reason", "provider"},
	)
)

// SMTP ingress metrics
var (
	SMTPConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "smtp_connections_total",
			Help:      "Total number of SMTP connections",
		},
		[]string{"status"}, // accepted, rejected
	)

	SMTPActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "smtp_active_sessions",
			Help:      "Number of currently active SMTP sessions",
		},
	)

	SMTPAuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "smtp_auth_attempts_total",
			Help:      "Total number of SMTP authentication attempts",
		},
		[]string{"result"}, // success, failure
	)
)

// API metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Duration of API requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	APIAuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_auth_failures_total",
			Help:      "Total number of API authentication failures",
		},
	)
)

// Queue metrics
var (
	QueueJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_jobs_total",
			Help:      "Dispatch jobs by queue operation",
		},
		[]string{"op"}, // enqueued, processed, failed, dead_lettered, reprocessed
	)

	QueueProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_job_processing_duration_seconds",
			Help:      "Duration of dispatch job handling",
			Buckets:   prometheus.DefBuckets,
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Due messages found by the last dispatch sweep",
		},
	)
)
