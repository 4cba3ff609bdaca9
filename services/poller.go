package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"icecold/metrics"
	"icecold/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PollerConfig holds the collaborators of a Poller. Sink, Events and Health are optional.
type PollerConfig struct {
	Sensors       []models.SensorSpec
	Interval      time.Duration
	SampleTimeout time.Duration
	NotifyTimeout time.Duration
	SinkTimeout   time.Duration
	Destination   string

	Source    SensorSource
	Sink      TelemetrySink
	Channel   NotificationChannel
	Formatter *AlertFormatter
	Events    []EventPublisher
	Health    *SourceHealthMonitor
	Logger    *zap.Logger

	// Now is used for event timestamps; defaults to time.Now
	Now func() time.Time
}

// Poller samples every sensor once per interval and dispatches alert events.
// It is the only writer of sensor state.
type Poller struct {
	cfg    PollerConfig
	logger *zap.Logger

	mu     sync.RWMutex
	states map[string]models.SensorState
}

// NewPoller creates a poller with every sensor in the Normal phase
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if len(cfg.Sensors) == 0 {
		return nil, errors.New("poller needs at least one sensor")
	}
	if cfg.Source == nil {
		return nil, errors.New("poller needs a sensor source")
	}
	if cfg.Channel == nil {
		return nil, errors.New("poller needs a notification channel")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("invalid poll interval %s", cfg.Interval)
	}
	if cfg.Formatter == nil {
		cfg.Formatter = NewAlertFormatter(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	states := make(map[string]models.SensorState, len(cfg.Sensors))
	for _, spec := range cfg.Sensors {
		if _, dup := states[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate sensor %q", spec.Name)
		}
		states[spec.Name] = models.NewSensorState()
		metrics.SensorPhase.WithLabelValues(spec.Name).Set(0)
	}

	return &Poller{
		cfg:    cfg,
		logger: cfg.Logger,
		states: states,
	}, nil
}

// Run polls until ctx is cancelled
func (p *Poller) Run(ctx context.Context) error {
	return p.RunCycles(ctx, 0)
}

// RunCycles runs n poll cycles, or forever when n <= 0. It does not sleep after
// the last cycle of a bounded run.
func (p *Poller) RunCycles(ctx context.Context, n int) error {
	p.logger.Info("Poller started",
		zap.Int("sensors", len(p.cfg.Sensors)),
		zap.Duration("interval", p.cfg.Interval))

	for i := 1; n <= 0 || i <= n; i++ {
		if err := ctx.Err(); err != nil {
			p.logger.Info("Poller stopped")
			return err
		}

		p.Cycle(ctx)

		if n > 0 && i == n {
			break
		}

		timer := time.NewTimer(p.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info("Poller stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}

	return nil
}

// Cycle samples and evaluates every sensor once, in configured order.
// A failure on one sensor never stops the others.
func (p *Poller) Cycle(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.PollCyclesTotal.Inc()
		metrics.PollCycleDuration.Observe(time.Since(start).Seconds())
	}()

	for _, spec := range p.cfg.Sensors {
		if err := p.pollSensor(ctx, spec); err != nil {
			var acq *AcquisitionFailure
			if errors.As(err, &acq) {
				metrics.AcquisitionFailuresTotal.WithLabelValues(spec.Name).Inc()
			}
			p.logger.Error("Skipping sensor this cycle",
				zap.String("sensor", spec.Name),
				zap.Error(err))
		}
	}
}

func (p *Poller) pollSensor(ctx context.Context, spec models.SensorSpec) error {
	reading, err := p.sample(ctx, spec)
	if err != nil {
		p.recordFailure(ctx, spec.Name, err)
		return err
	}
	p.recordSuccess(ctx, spec.Name, reading.ObservedAt)

	p.logger.Info("Reading",
		zap.String("sensor", spec.Name),
		zap.Float64("temperature_f", reading.TemperatureF),
		zap.Float64("humidity_pct", reading.HumidityPct))

	if p.cfg.Sink != nil {
		for _, m := range reading.Measurements() {
			if err := p.record(ctx, m); err != nil {
				p.logger.Warn("Telemetry write failed",
					zap.String("sensor", spec.Name),
					zap.String("metric", m.Metric),
					zap.Error(err))
			}
		}
	}

	p.mu.Lock()
	state, event := Evaluate(p.states[spec.Name], reading, spec)
	p.states[spec.Name] = state
	p.mu.Unlock()

	metrics.SensorPhase.WithLabelValues(spec.Name).Set(phaseValue(state.Phase))

	if event != nil {
		p.dispatch(ctx, event)
	}
	return nil
}

func (p *Poller) record(ctx context.Context, m models.Measurement) error {
	sinkCtx, cancel := withTimeout(ctx, p.cfg.SinkTimeout)
	defer cancel()
	return p.cfg.Sink.Record(sinkCtx, m)
}

func (p *Poller) publish(ctx context.Context, publisher EventPublisher, event *models.AlertEvent) error {
	publishCtx, cancel := withTimeout(ctx, p.cfg.SinkTimeout)
	defer cancel()
	return publisher.PublishAlert(publishCtx, event)
}

// withTimeout bounds ctx by d; d <= 0 leaves it unbounded
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// sample bounds the source call and rejects readings the evaluator cannot compare
func (p *Poller) sample(ctx context.Context, spec models.SensorSpec) (models.Reading, error) {
	sampleCtx, cancel := withTimeout(ctx, p.cfg.SampleTimeout)
	defer cancel()

	reading, err := p.cfg.Source.Sample(sampleCtx, spec)
	if err != nil {
		return models.Reading{}, &AcquisitionFailure{Sensor: spec.Name, Err: err}
	}
	if math.IsNaN(reading.TemperatureF) || math.IsInf(reading.TemperatureF, 0) {
		return models.Reading{}, &AcquisitionFailure{
			Sensor: spec.Name,
			Err:    fmt.Errorf("%w: temperature %v", ErrInvalidReading, reading.TemperatureF),
		}
	}

	if reading.SensorName == "" {
		reading.SensorName = spec.Name
	}
	if reading.ObservedAt.IsZero() {
		reading.ObservedAt = p.cfg.Now()
	}
	return reading, nil
}

func (p *Poller) dispatch(ctx context.Context, event *models.AlertEvent) {
	event.ID = uuid.NewString()
	event.CreatedAt = p.cfg.Now()

	metrics.AlertsTotal.WithLabelValues(event.SensorName, string(event.Kind)).Inc()

	p.logger.Warn("Alert event",
		zap.String("id", event.ID),
		zap.String("sensor", event.SensorName),
		zap.String("kind", string(event.Kind)),
		zap.Float64("threshold", event.Threshold),
		zap.Float64("temperature_f", event.Reading.TemperatureF))

	if err := p.notify(ctx, p.cfg.Formatter.Format(event)); err != nil {
		p.logger.Error("Alert dropped",
			zap.String("id", event.ID),
			zap.String("sensor", event.SensorName),
			zap.Error(err))
	} else {
		p.logger.Info("Alert sent",
			zap.String("id", event.ID),
			zap.String("sensor", event.SensorName))
	}

	for _, publisher := range p.cfg.Events {
		if err := p.publish(ctx, publisher, event); err != nil {
			p.logger.Warn("Failed to publish alert event",
				zap.String("id", event.ID),
				zap.Error(err))
		}
	}
}

// notify sends one message through the channel, bounded by NotifyTimeout
func (p *Poller) notify(ctx context.Context, message string) error {
	notifyCtx, cancel := withTimeout(ctx, p.cfg.NotifyTimeout)
	defer cancel()

	channel := p.cfg.Channel.Name()
	if err := p.cfg.Channel.Send(notifyCtx, p.cfg.Destination, message); err != nil {
		metrics.NotificationsTotal.WithLabelValues(channel, "failed").Inc()
		return &NotificationFailure{
			Channel:     channel,
			Destination: p.cfg.Destination,
			Err:         err,
		}
	}

	metrics.NotificationsTotal.WithLabelValues(channel, "sent").Inc()
	return nil
}

func (p *Poller) recordFailure(ctx context.Context, name string, err error) {
	if p.cfg.Health == nil {
		return
	}
	if notice, ok := p.cfg.Health.RecordFailure(name, err, p.cfg.Now()); ok {
		p.sendNotice(ctx, notice)
	}
}

func (p *Poller) recordSuccess(ctx context.Context, name string, at time.Time) {
	if p.cfg.Health == nil {
		return
	}
	if notice, ok := p.cfg.Health.RecordSuccess(name, at); ok {
		p.sendNotice(ctx, notice)
	}
}

func (p *Poller) sendNotice(ctx context.Context, notice string) {
	if err := p.notify(ctx, p.cfg.Formatter.FormatText(notice)); err != nil {
		p.logger.Error("Failed to send sensor health notice", zap.Error(err))
	}
}

// SendStartupMessage announces which sensors are being monitored
func (p *Poller) SendStartupMessage(ctx context.Context) error {
	names := make([]string, 0, len(p.cfg.Sensors))
	for _, spec := range p.cfg.Sensors {
		names = append(names, spec.Name)
	}
	message := fmt.Sprintf("Monitoring started for: %s\n", strings.Join(names, ", "))
	return p.notify(ctx, p.cfg.Formatter.FormatText(message))
}

// State returns the current state of one sensor
func (p *Poller) State(name string) (models.SensorState, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	state, ok := p.states[name]
	return state, ok
}

// States returns a copy of every sensor state
func (p *Poller) States() map[string]models.SensorState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]models.SensorState, len(p.states))
	for name, state := range p.states {
		out[name] = state
	}
	return out
}

// Specs returns the configured sensors in polling order
func (p *Poller) Specs() []models.SensorSpec {
	return append([]models.SensorSpec(nil), p.cfg.Sensors...)
}

// SourceHealth returns the acquisition health of every sensor seen so far
func (p *Poller) SourceHealth() []models.SourceHealth {
	if p.cfg.Health == nil {
		return nil
	}
	return p.cfg.Health.Snapshot()
}

func phaseValue(phase models.Phase) float64 {
	switch phase {
	case models.PhaseAboveAlerting:
		return 1
	case models.PhaseBelowAlerting:
		return -1
	default:
		return 0
	}
}
