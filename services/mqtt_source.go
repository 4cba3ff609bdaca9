package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"icecold/config"
	"icecold/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTReading is the payload published by networked sensor nodes.
// Either temperature_f or temperature_c must be present.
type MQTTReading struct {
	SensorName   string    `json:"sensor_name"`
	TemperatureF *float64  `json:"temperature_f,omitempty"`
	TemperatureC *float64  `json:"temperature_c,omitempty"`
	HumidityPct  float64   `json:"humidity_pct"`
	ObservedAt   time.Time `json:"observed_at"`
}

// MQTTSource keeps the latest reading published for each sensor.
// Each reading is handed out once; without a fresh publish the next sample fails.
type MQTTSource struct {
	client mqtt.Client
	topic  string
	maxAge time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	latest map[string]models.Reading
}

// NewMQTTSource connects to the broker and subscribes to the readings topic
func NewMQTTSource(cfg *config.Config, logger *zap.Logger) (*MQTTSource, error) {
	s := newMQTTSource(cfg.MQTTTopic, cfg.MQTTMaxAge, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.MQTTBroker))
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetUsername(cfg.MQTTUsername)
	opts.SetPassword(cfg.MQTTPassword)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	// Subscriptions are not kept by the broker for clean sessions, so subscribe on every connect
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))
		token := client.Subscribe(s.topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			if err := s.handleMessage(msg.Topic(), msg.Payload()); err != nil {
				logger.Warn("Discarding MQTT reading",
					zap.String("topic", msg.Topic()),
					zap.Error(err))
			}
		})
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			logger.Error("Failed to subscribe to readings topic",
				zap.String("topic", s.topic),
				zap.Error(token.Error()))
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	})

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return nil, fmt.Errorf("timeout connecting to MQTT broker %s", cfg.MQTTBroker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("error connecting to MQTT broker: %w", err)
	}

	return s, nil
}

func newMQTTSource(topic string, maxAge time.Duration, logger *zap.Logger) *MQTTSource {
	return &MQTTSource{
		topic:  topic,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
		latest: make(map[string]models.Reading),
	}
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// handleMessage decodes a published reading and stores it as the latest for its sensor
func (s *MQTTSource) handleMessage(topic string, payload []byte) error {
	var msg MQTTReading
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal reading: %w", err)
	}

	name := msg.SensorName
	if name == "" {
		// fall back to the last topic level, e.g. icecold/readings/freezer
		name = topic[strings.LastIndex(topic, "/")+1:]
	}
	if name == "" {
		return fmt.Errorf("%w: missing sensor name", ErrInvalidReading)
	}

	var tempF float64
	switch {
	case msg.TemperatureF != nil:
		tempF = *msg.TemperatureF
	case msg.TemperatureC != nil:
		tempF = models.CelsiusToFahrenheit(*msg.TemperatureC)
	default:
		return fmt.Errorf("%w: missing temperature", ErrInvalidReading)
	}

	observedAt := msg.ObservedAt
	if observedAt.IsZero() {
		observedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := config.SensorKey(name)
	if prev, ok := s.latest[key]; ok && observedAt.Before(prev.ObservedAt) {
		return nil // out-of-order delivery
	}
	s.latest[key] = models.Reading{
		SensorName:   name,
		TemperatureF: tempF,
		HumidityPct:  math.Round(msg.HumidityPct*10) / 10,
		ObservedAt:   observedAt,
	}

	s.logger.Debug("Received MQTT reading",
		zap.String("sensor", name),
		zap.Float64("temperature_f", tempF),
		zap.Time("observed_at", observedAt))
	return nil
}

// Sample returns the newest unconsumed reading for the sensor
func (s *MQTTSource) Sample(ctx context.Context, spec models.SensorSpec) (models.Reading, error) {
	if err := ctx.Err(); err != nil {
		return models.Reading{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := config.SensorKey(spec.Name)
	reading, ok := s.latest[key]
	if !ok {
		return models.Reading{}, ErrNoReading
	}
	delete(s.latest, key)

	if s.maxAge > 0 && s.now().Sub(reading.ObservedAt) > s.maxAge {
		return models.Reading{}, fmt.Errorf("%w: observed at %s", ErrStaleReading, reading.ObservedAt.Format(time.RFC3339))
	}

	reading.SensorName = spec.Name
	return reading, nil
}

// Close disconnects from the broker
func (s *MQTTSource) Close() error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}
