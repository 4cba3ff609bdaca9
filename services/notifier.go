package services

import (
	"context"

	"icecold/config"

	"go.uber.org/zap"
)

// NotificationChannel delivers a text message to a destination.
// Callers do not retry; a channel may apply its own retry or rate limiting.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, destination, message string) error
}

// LogChannel writes notifications to the service log, for deployments without a chat integration
type LogChannel struct {
	logger *zap.Logger
}

func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Name() string { return "log" }

func (l *LogChannel) Send(_ context.Context, destination, message string) error {
	l.logger.Warn("Notification",
		zap.String("destination", destination),
		zap.String("message", message))
	return nil
}

// NewNotificationChannel builds the channel selected by NOTIFICATION_CHANNEL
func NewNotificationChannel(cfg *config.Config, logger *zap.Logger) (NotificationChannel, error) {
	logger = logger.With(zap.String("channel", cfg.NotificationChannel))

	switch cfg.NotificationChannel {
	case config.ChannelSlack:
		return NewSlackChannel(cfg.SlackAPIToken, logger), nil
	case config.ChannelTelegram:
		return NewTelegramChannel(cfg.TelegramBotToken, logger)
	case config.ChannelWebhook:
		return NewWebhookChannel(cfg.WebhookURL, logger), nil
	default:
		return NewLogChannel(logger), nil
	}
}
