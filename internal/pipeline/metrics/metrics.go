package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsProcessed tracks items processed per partition
	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweeper_items_processed_total",
			Help: "Total number of items processed",
		},
		[]string{"partition"},
	)

	// ItemsSkipped tracks items skipped by the idempotency check
	ItemsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweeper_items_skipped_total",
			Help: "Total number of items skipped as already processed",
		},
		[]string{"partition"},
	)

	// ItemErrors tracks absorbed item-level errors per partition
	ItemErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweeper_item_errors_total",
			Help: "Total number of item-level errors absorbed by the batch loop",
		},
		[]string{"partition"},
	)

	// BatchesCompleted tracks fully processed batches per partition
	BatchesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweeper_batches_completed_total",
			Help: "Total number of batches completed",
		},
		[]string{"partition"},
	)

	// HealHandoffs tracks healing restarts
	HealHandoffs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sweeper_heal_handoffs_total",
			Help: "Total number of heal snapshot-and-restart handoffs",
		},
	)

	// CooldownsTriggered tracks behavior-engine cooldowns by reason
	CooldownsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweeper_cooldowns_total",
			Help: "Total number of behavior cooldowns triggered",
		},
		[]string{"reason"},
	)

	// QueueDepth tracks tasks waiting on the interaction queue
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sweeper_queue_depth",
			Help: "Number of tasks waiting for the shared session",
		},
	)

	// QueueWaitSeconds tracks time spent waiting for the session
	QueueWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweeper_queue_wait_seconds",
			Help:    "Time tasks spend queued before the session is free",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RunDuration tracks end-to-end run durations
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweeper_run_duration_seconds",
			Help:    "End-to-end run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
	)
)
