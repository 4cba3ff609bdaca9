package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"icecold/config"
	"icecold/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var errRabbitMQUnavailable = errors.New("rabbitmq channel unavailable")

// RabbitMQService publishes measurements and alert events to a topic exchange.
// Routing keys: telemetry.<SENSOR_KEY> and alerts.<kind>.
type RabbitMQService struct {
	url       string
	exchange  string
	logger    *zap.Logger
	mu        sync.RWMutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	isClosing atomic.Bool
}

// NewRabbitMQService creates a new RabbitMQ service instance
func NewRabbitMQService(cfg *config.Config, logger *zap.Logger) (*RabbitMQService, error) {
	service := &RabbitMQService{
		url:      cfg.RabbitMQURL,
		exchange: cfg.RabbitMQExchange,
		logger:   logger,
	}

	if err := service.connect(); err != nil {
		return nil, err
	}

	return service, nil
}

func (r *RabbitMQService) Name() string { return "rabbitmq" }

// connect establishes connection to RabbitMQ and declares the exchange
func (r *RabbitMQService) connect() error {
	var (
		conn *amqp.Connection
		err  error
	)

	r.logger.Info("Connecting to RabbitMQ", zap.String("exchange", r.exchange))

	maxRetries := 5
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err = amqp.Dial(r.url)
		if err == nil {
			break
		}

		r.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		r.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.channel = channel
	r.mu.Unlock()

	r.logger.Info("Connected to RabbitMQ", zap.String("exchange", r.exchange))

	go r.handleReconnect(conn)

	return nil
}

// handleReconnect reconnects when the broker drops the connection
func (r *RabbitMQService) handleReconnect(conn *amqp.Connection) {
	closeErr, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if r.isClosing.Load() || !ok {
		r.logger.Info("RabbitMQ connection closed gracefully")
		return
	}

	r.logger.Error("RabbitMQ connection lost", zap.Error(closeErr))

	r.mu.Lock()
	r.channel = nil
	r.mu.Unlock()

	for !r.isClosing.Load() {
		r.logger.Info("Attempting to reconnect to RabbitMQ...")
		err := r.connect()
		if err == nil {
			return
		}
		r.logger.Error("Failed to reconnect", zap.Error(err))
		time.Sleep(5 * time.Second)
	}
}

// Record publishes a measurement
func (r *RabbitMQService) Record(ctx context.Context, m models.Measurement) error {
	return r.publish(ctx, "telemetry."+strings.ToLower(config.SensorKey(m.SensorName)), m)
}

// PublishAlert publishes an alert event
func (r *RabbitMQService) PublishAlert(ctx context.Context, event *models.AlertEvent) error {
	return r.publish(ctx, "alerts."+string(event.Kind), event)
}

func (r *RabbitMQService) publish(ctx context.Context, routingKey string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	r.mu.RLock()
	channel := r.channel
	r.mu.RUnlock()
	if channel == nil {
		return errRabbitMQUnavailable
	}

	err = channel.PublishWithContext(ctx,
		r.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	r.logger.Debug("Published to RabbitMQ", zap.String("routing_key", routingKey))
	return nil
}

// Close gracefully closes RabbitMQ connection
func (r *RabbitMQService) Close() error {
	r.isClosing.Store(true)

	r.logger.Info("Closing RabbitMQ connection")

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.logger.Error("Error closing channel", zap.Error(err))
		}
	}

	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			r.logger.Error("Error closing connection", zap.Error(err))
			return err
		}
	}

	r.logger.Info("RabbitMQ connection closed")
	return nil
}
