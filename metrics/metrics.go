package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sensor readings
	SensorValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "icecold_sensor_value",
			Help: "Latest value recorded for a sensor metric",
		},
		[]string{"sensor", "metric"},
	)

	SensorPhase = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "icecold_sensor_phase",
			Help: "Alerting phase per sensor (0 normal, 1 above, -1 below)",
		},
		[]string{"sensor"},
	)

	// Poll loop
	PollCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "icecold_poll_cycles_total",
			Help: "Total number of completed poll cycles",
		},
	)

	PollCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "icecold_poll_cycle_duration_seconds",
			Help:    "Time taken to sample and evaluate every sensor once",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	AcquisitionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icecold_acquisition_failures_total",
			Help: "Total number of failed sensor samples",
		},
		[]string{"sensor"},
	)

	// Alerts
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icecold_alerts_total",
			Help: "Total number of alert events produced",
		},
		[]string{"sensor", "kind"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icecold_notifications_total",
			Help: "Total number of notifications by delivery status",
		},
		[]string{"channel", "status"}, // status: sent, failed
	)

	// Telemetry
	SinkFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icecold_sink_failures_total",
			Help: "Total number of failed telemetry writes",
		},
		[]string{"sink"},
	)

	BatchFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "icecold_batch_flush_duration_seconds",
			Help:    "Time taken to flush a telemetry batch",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	BatchBufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "icecold_batch_buffer_size",
			Help: "Measurements waiting in the telemetry batch buffer",
		},
	)

	// Configuration editor
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icecold_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)
