package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"icecold/config"
	"icecold/models"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaSink streams measurements and alert events to a Kafka topic, keyed by sensor
type KafkaSink struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// kafkaMessage wraps payloads so consumers can tell measurements from alerts
type kafkaMessage struct {
	Type        string              `json:"type"` // measurement or alert
	Measurement *models.Measurement `json:"measurement,omitempty"`
	Alert       *models.AlertEvent  `json:"alert,omitempty"`
}

func NewKafkaSink(cfg *config.Config, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.KafkaTopic == "" {
		return nil, errors.New("topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafka.Hash{}, // Partition by sensor
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
	}

	logger.Info("Kafka sink configured",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaTopic))

	return &KafkaSink{writer: writer, logger: logger}, nil
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Record(ctx context.Context, m models.Measurement) error {
	return k.write(ctx, m.SensorName, m.ObservedAt, kafkaMessage{Type: "measurement", Measurement: &m})
}

func (k *KafkaSink) PublishAlert(ctx context.Context, event *models.AlertEvent) error {
	return k.write(ctx, event.SensorName, event.CreatedAt, kafkaMessage{Type: "alert", Alert: event})
}

func (k *KafkaSink) write(ctx context.Context, sensor string, at time.Time, msg kafkaMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(config.SensorKey(sensor)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(msg.Type)},
		},
		Time: at,
	})
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
