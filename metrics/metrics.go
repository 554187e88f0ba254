package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_events_ingested_total",
			Help: "Total number of FIM events ingested",
		},
		[]string{"variant"},
	)

	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_events_processed_total",
			Help: "Total number of FIM events run through a handler chain",
		},
		[]string{"operation", "component"},
	)

	ClassificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_classification_failures_total",
			Help: "Total number of events rejected during classification",
		},
		[]string{"variant"},
	)

	EventsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_events_skipped_total",
			Help: "Total number of integrity_clear events for untracked components",
		},
	)

	ChainDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_chain_duration_seconds",
			Help:    "Time taken to run a handler chain",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_publish_errors_total",
			Help: "Total number of failed publish calls",
		},
		[]string{"connector"},
	)

	DocumentsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_documents_published_total",
			Help: "Total number of documents accepted by a connector",
		},
		[]string{"connector", "operation"},
	)

	ConnectorFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_connector_flushes_total",
			Help: "Total number of batch flushes by connector and result",
		},
		[]string{"connector", "result"},
	)

	DuplicatesSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_duplicates_suppressed_total",
			Help: "Total number of documents dropped as exact duplicates",
		},
		[]string{"connector"},
	)

	// Worker pool
	WorkerPoolActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvester_worker_pool_active_workers",
			Help: "Number of running workers, -1 after a shutdown timeout",
		},
		[]string{"pool"},
	)

	WorkerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvester_worker_pool_queue_size",
			Help: "Number of tasks waiting in the worker pool queue",
		},
		[]string{"pool"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_worker_pool_tasks_processed_total",
			Help: "Total number of tasks completed by the worker pool",
		},
		[]string{"pool"},
	)

	GoroutinePanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_goroutine_panics_total",
			Help: "Total number of recovered goroutine panics",
		},
		[]string{"goroutine"},
	)

	CircuitBreakerOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvester_circuit_breaker_open",
			Help: "1 while the connector circuit breaker is open",
		},
		[]string{"connector"},
	)

	// Ingest
	IngestRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_ingest_rejected_total",
			Help: "Total number of HTTP submissions rejected before processing",
		},
		[]string{"endpoint", "reason"},
	)

	DeadLetterEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_dead_letter_events_total",
			Help: "Total number of events written to the dead letter queue",
		},
		[]string{"reason"},
	)

	DeadLetterInsertFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_dead_letter_insert_failures_total",
			Help: "Total number of dead letter insertion failures",
		},
	)
)
