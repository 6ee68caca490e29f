package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semaforo_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "semaforo_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "semaforo_http_request_size_bytes",
			Help:    "HTTP request body size in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		},
		[]string{"method", "endpoint"},
	)

	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "semaforo_http_response_size_bytes",
			Help:    "HTTP response body size in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		},
		[]string{"method", "endpoint"},
	)

	// Propagation metrics
	UsageUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semaforo_usage_updates_total",
			Help: "Aircraft usage updates by outcome",
		},
		[]string{"outcome"}, // outcome: ok, not_found, invalid, conflict, storage_error
	)

	ComponentUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semaforo_component_updates_total",
			Help: "Component propagation results by outcome",
		},
		[]string{"outcome"}, // outcome: updated, skipped, failed
	)

	BandCrossingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semaforo_band_crossings_total",
			Help: "Components that crossed into a more severe band, by new level",
		},
		[]string{"level"},
	)

	PropagationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "semaforo_propagation_duration_seconds",
			Help:    "Time taken by one usage update including propagation",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	PropagationComponents = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "semaforo_propagation_components",
			Help:    "Number of components touched by one propagation",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		},
	)

	LockWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "semaforo_aircraft_lock_wait_seconds",
			Help:    "Time spent waiting for the per-aircraft lock",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	// Audit pipeline metrics
	AuditQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "semaforo_audit_queue_size",
			Help: "Current size of the audit event queue",
		},
	)

	AuditQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "semaforo_audit_queue_capacity",
			Help: "Capacity of the audit event queue",
		},
	)

	AuditDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "semaforo_audit_dropped_total",
			Help: "Audit events dropped because the queue was full",
		},
	)

	WorkerProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "semaforo_audit_worker_processed_total",
			Help: "Total number of audit events published by workers",
		},
	)

	WorkerFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "semaforo_audit_worker_failed_total",
			Help: "Total number of audit events failed in workers",
		},
	)

	WorkerBatchPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "semaforo_audit_worker_batch_publish_duration_seconds",
			Help:    "Time taken to publish a batch of audit events",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// Kafka producer metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semaforo_kafka_publish_total",
			Help: "Total number of messages published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "semaforo_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "semaforo_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	KafkaBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "semaforo_kafka_bytes_written_total",
			Help: "Total bytes written to Kafka",
		},
	)

	// Storage metrics
	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "semaforo_storage_operation_duration_seconds",
			Help:    "Latency of record store operations",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"backend", "operation"},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semaforo_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
