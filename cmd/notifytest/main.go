package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"icecold/config"
	"icecold/models"
	"icecold/services"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	sensorName = flag.String("sensor", "", "Sensor to use (default: first configured sensor)")
	kind       = flag.String("kind", string(models.AlertRaiseHigh), "Alert kind: raise_high, raise_low or clear")
	publish    = flag.Bool("publish", false, "Also publish the event to RabbitMQ (RABBITMQ_URL)")
)

// syntheticEvent builds an event just past the relevant threshold
func syntheticEvent(spec models.SensorSpec, kind models.AlertKind, now time.Time) (*models.AlertEvent, error) {
	event := &models.AlertEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		SensorName: spec.Name,
		Threshold:  spec.UpperThreshold,
		CreatedAt:  now,
	}

	temperature := spec.UpperThreshold + 2
	switch kind {
	case models.AlertRaiseHigh:
	case models.AlertRaiseLow:
		if !spec.HasLower() {
			return nil, fmt.Errorf("sensor %s has no lower threshold", spec.Name)
		}
		event.Threshold = *spec.LowerThreshold
		temperature = *spec.LowerThreshold - 2
	case models.AlertClear:
		temperature = spec.UpperThreshold - 2
	default:
		return nil, fmt.Errorf("unknown alert kind %q", kind)
	}

	event.Reading = models.Reading{
		SensorName:   spec.Name,
		TemperatureF: temperature,
		HumidityPct:  45.0,
		ObservedAt:   now,
	}
	return event, nil
}

func main() {
	flag.Parse()

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	spec := cfg.Sensors[0]
	if *sensorName != "" {
		found := false
		for _, s := range cfg.Sensors {
			if s.Name == *sensorName {
				spec, found = s, true
				break
			}
		}
		if !found {
			logger.Fatal("Sensor is not configured", zap.String("sensor", *sensorName))
		}
	}

	event, err := syntheticEvent(spec, models.AlertKind(*kind), time.Now())
	if err != nil {
		logger.Fatal("Failed to build test event", zap.Error(err))
	}

	channel, err := services.NewNotificationChannel(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize notification channel", zap.Error(err))
	}

	message := services.NewAlertFormatter(cfg.Recipients).Format(event)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.NotifyTimeout)
	defer cancel()

	logger.Info("Sending test notification",
		zap.String("channel", channel.Name()),
		zap.String("destination", cfg.NotificationDestination),
		zap.String("sensor", spec.Name),
		zap.String("kind", string(event.Kind)))

	if err := channel.Send(ctx, cfg.NotificationDestination, message); err != nil {
		logger.Fatal("Failed to send test notification", zap.Error(err))
	}
	logger.Info("Test notification sent", zap.String("message", message))

	if *publish {
		if cfg.RabbitMQURL == "" {
			logger.Fatal("RABBITMQ_URL is not set")
		}
		rabbitMQService, err := services.NewRabbitMQService(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer rabbitMQService.Close()

		if err := rabbitMQService.PublishAlert(ctx, event); err != nil {
			logger.Fatal("Failed to publish test event", zap.Error(err))
		}
		logger.Info("Test event published",
			zap.String("exchange", cfg.RabbitMQExchange),
			zap.String("id", event.ID))
	}
}
