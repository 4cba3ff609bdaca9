package services

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackChannel posts notifications to a Slack channel
type SlackChannel struct {
	client *slack.Client
	logger *zap.Logger
}

func NewSlackChannel(token string, logger *zap.Logger) *SlackChannel {
	return &SlackChannel{
		client: slack.New(token),
		logger: logger,
	}
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Send(ctx context.Context, destination, message string) error {
	channelID, timestamp, err := s.client.PostMessageContext(ctx, destination, slack.MsgOptionText(message, false))
	if err != nil {
		return fmt.Errorf("error posting message to Slack: %w", err)
	}

	s.logger.Debug("Posted Slack message",
		zap.String("channel_id", channelID),
		zap.String("timestamp", timestamp))
	return nil
}
