// Package metrics exposes the Prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReadingsReceived counts inbound telemetry messages.
	ReadingsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healthradar_readings_received_total",
			Help: "Total number of telemetry messages received",
		},
	)

	// ParseFailures counts messages that could not be parsed at all.
	ParseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healthradar_parse_failures_total",
			Help: "Total number of unparseable telemetry messages",
		},
	)

	// AnomaliesDetected counts produced anomaly records by kind.
	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthradar_anomalies_detected_total",
			Help: "Total number of anomaly records produced",
		},
		[]string{"kind", "severity"},
	)

	// IngestDuration tracks per-message pipeline latency.
	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "healthradar_ingest_duration_seconds",
			Help:    "Time spent processing one telemetry message",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// SinkWriteRetries counts retried anomaly batch writes.
	SinkWriteRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healthradar_sink_write_retries_total",
			Help: "Total number of retried anomaly batch writes",
		},
	)

	// SinkWriteFailures counts batches that exhausted their retries.
	SinkWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healthradar_sink_write_failures_total",
			Help: "Total number of anomaly batches dropped after retry exhaustion",
		},
	)

	// StorageDegraded is 1 while the sink is in degraded mode.
	StorageDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "healthradar_storage_degraded",
			Help: "Whether the anomaly sink is currently degraded (1) or healthy (0)",
		},
	)

	// KnownDevices tracks registry size.
	KnownDevices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "healthradar_known_devices",
			Help: "Number of devices in the registry",
		},
	)

	// FloodedReadings counts readings accepted while their device was in
	// a breached flood window.
	FloodedReadings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healthradar_flooded_readings_total",
			Help: "Total number of readings received from devices in flooding state",
		},
	)

	// SweepsCompleted counts liveness sweeper runs.
	SweepsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healthradar_sweeps_completed_total",
			Help: "Total number of completed liveness sweeps",
		},
	)
)
