package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ratelimiter"

var (
	// ChecksTotal counts admission decisions by algorithm and outcome.
	ChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checks_total",
		Help:      "Admission decisions by algorithm and outcome.",
	}, []string{"algorithm", "outcome"})

	// CheckErrors counts checks that failed before a decision was reached.
	CheckErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "check_errors_total",
		Help:      "Checks that failed before producing a decision.",
	}, []string{"reason"})

	// StoreOpDuration records atomic store round-trip latency.
	StoreOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "store_op_duration_seconds",
		Help:      "Atomic store round-trip latency in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"op"})

	// StoreErrors counts failed store operations.
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_errors_total",
		Help:      "Failed store operations.",
	}, []string{"op"})

	// RuleOps counts rule CRUD operations.
	RuleOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rule_ops_total",
		Help:      "Rule CRUD operation counts.",
	}, []string{"op", "status"})

	// RuleCacheLookups counts rule cache hits and misses.
	RuleCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rule_cache_lookups_total",
		Help:      "Rule cache lookups by result.",
	}, []string{"result"})

	// WebhookJobsEnqueued counts notification jobs placed into the worker channel.
	WebhookJobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_jobs_enqueued_total",
		Help:      "Notification jobs placed into the worker channel.",
	})

	// WebhookJobsDropped counts notification jobs discarded without delivery.
	WebhookJobsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_jobs_dropped_total",
		Help:      "Notification jobs discarded without a delivery attempt.",
	}, []string{"reason"})

	// WebhookJobsProcessed counts notification worker completions.
	WebhookJobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_jobs_processed_total",
		Help:      "Notification worker completions.",
	}, []string{"status"})

	// WebhookQueueDepth tracks the current notification channel length.
	WebhookQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "webhook_queue_depth",
		Help:      "Current notification job channel buffer depth.",
	})

	// WebhookDeliveryDuration records webhook POST latency.
	WebhookDeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "webhook_delivery_duration_seconds",
		Help:      "Webhook POST latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	})

	// StoreKeysPruned counts expired records removed by the janitor.
	StoreKeysPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_keys_pruned_total",
		Help:      "Expired store records removed by the janitor.",
	})
)
