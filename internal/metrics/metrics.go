package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leakwatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leakwatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Collection loop metrics
	TicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leakwatch_collector_ticks_total",
			Help: "Total number of collection ticks started",
		},
	)

	ReadFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leakwatch_collector_read_failures_total",
			Help: "Total number of ticks skipped because the reading source failed",
		},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leakwatch_collector_tick_duration_seconds",
			Help:    "Time spent in one tick, excluding the interval sleep",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 30},
		},
	)

	MetricValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "leakwatch_metric_value",
			Help: "Last observed value per metric",
		},
		[]string{"metric"},
	)

	// Log store metrics
	StoreAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leakwatch_store_appends_total",
			Help: "Total number of log store appends",
		},
		[]string{"status"}, // status: success, failed
	)

	StoreAppendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leakwatch_store_append_duration_seconds",
			Help:    "Time taken to append and sync one record",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	StoreBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leakwatch_store_bytes_written_total",
			Help: "Total bytes appended to the log store",
		},
	)

	// Alerting metrics
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leakwatch_alerts_total",
			Help: "Total number of threshold breaches detected",
		},
		[]string{"metric"},
	)

	DeliveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leakwatch_delivery_attempts_total",
			Help: "Total number of alert delivery attempts",
		},
		[]string{"outcome"}, // outcome: sent, transport_error, permanent_error
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leakwatch_deliveries_total",
			Help: "Total number of alerts that reached a final delivery state",
		},
		[]string{"status"}, // status: sent, failed
	)

	DeliveryRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leakwatch_delivery_retries_total",
			Help: "Total number of alert delivery retries",
		},
	)

	// Snapshot mirror metrics
	MirrorQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leakwatch_mirror_queue_size",
			Help: "Current size of the mirror queue",
		},
	)

	MirrorDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leakwatch_mirror_dropped_total",
			Help: "Snapshots not mirrored because the queue was full",
		},
	)

	MirrorProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leakwatch_mirror_processed_total",
			Help: "Total number of snapshots published by mirror workers",
		},
	)

	MirrorFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leakwatch_mirror_failed_total",
			Help: "Total number of snapshots the mirror failed to publish",
		},
	)

	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leakwatch_kafka_publish_total",
			Help: "Total number of messages published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leakwatch_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leakwatch_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leakwatch_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
