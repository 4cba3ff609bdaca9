package services

import (
	"context"

	"icecold/metrics"
	"icecold/models"

	"go.uber.org/multierr"
)

// TelemetrySink records named metric values for dashboards
type TelemetrySink interface {
	Name() string
	Record(ctx context.Context, m models.Measurement) error
}

// EventPublisher forwards alert events to downstream consumers, best-effort
type EventPublisher interface {
	PublishAlert(ctx context.Context, event *models.AlertEvent) error
}

// MultiSink fans a measurement out to several sinks.
// Every sink is tried; failures come back as SinkFailure values combined with multierr.
type MultiSink struct {
	sinks []TelemetrySink
}

func NewMultiSink(sinks ...TelemetrySink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Name() string { return "multi" }

// Add registers another sink
func (m *MultiSink) Add(sink TelemetrySink) {
	m.sinks = append(m.sinks, sink)
}

// Len returns the number of registered sinks
func (m *MultiSink) Len() int {
	return len(m.sinks)
}

func (m *MultiSink) Record(ctx context.Context, measurement models.Measurement) error {
	var errs error
	for _, sink := range m.sinks {
		if err := sink.Record(ctx, measurement); err != nil {
			metrics.SinkFailuresTotal.WithLabelValues(sink.Name()).Inc()
			errs = multierr.Append(errs, &SinkFailure{
				Sink:   sink.Name(),
				Sensor: measurement.SensorName,
				Err:    err,
			})
		}
	}
	return errs
}

// PrometheusSink exposes the latest value of every sensor metric as a gauge
type PrometheusSink struct{}

func NewPrometheusSink() *PrometheusSink {
	return &PrometheusSink{}
}

func (p *PrometheusSink) Name() string { return "prometheus" }

func (p *PrometheusSink) Record(_ context.Context, m models.Measurement) error {
	metrics.SensorValue.WithLabelValues(m.SensorName, m.Metric).Set(m.Value)
	return nil
}
