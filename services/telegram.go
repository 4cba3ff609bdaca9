package services

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// telegramRequestTimeout caps every bot API request, including sends abandoned by ctx
const telegramRequestTimeout = 30 * time.Second

// TelegramChannel sends notifications through a Telegram bot.
// The destination is the numeric chat ID.
type TelegramChannel struct {
	bot    *tgbotapi.BotAPI
	logger *zap.Logger
}

func NewTelegramChannel(token string, logger *zap.Logger) (*TelegramChannel, error) {
	return newTelegramChannel(token, tgbotapi.APIEndpoint, &http.Client{Timeout: telegramRequestTimeout}, logger)
}

func newTelegramChannel(token, endpoint string, client tgbotapi.HTTPClient, logger *zap.Logger) (*TelegramChannel, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	tc := &TelegramChannel{
		bot:    bot,
		logger: logger,
	}

	if err := tc.testConnection(); err != nil {
		logger.Error("Telegram connection test failed", zap.Error(err))
		return nil, fmt.Errorf("telegram connection test failed: %w", err)
	}

	return tc, nil
}

// testConnection tests Telegram connection with retry logic
func (tc *TelegramChannel) testConnection() error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		tc.logger.Info("Testing Telegram connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		_, err := tc.bot.GetMe()
		if err == nil {
			tc.logger.Info("Telegram connection successful")
			return nil
		}

		tc.logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

func (tc *TelegramChannel) Name() string { return "telegram" }

// Send delivers a plain text message. The bot API has no context support,
// so the call runs in a goroutine and ctx only bounds how long we wait.
func (tc *TelegramChannel) Send(ctx context.Context, destination, message string) error {
	chatID, err := strconv.ParseInt(destination, 10, 64)
	if err != nil {
		return fmt.Errorf("error parsing chat ID: %w", err)
	}

	msg := tgbotapi.NewMessage(chatID, message)
	msg.DisableWebPagePreview = true

	done := make(chan error, 1)
	go func() {
		_, err := tc.bot.Send(msg)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("error sending telegram message: %w", err)
		}
	}

	tc.logger.Debug("Sent Telegram message", zap.Int64("chat_id", chatID))
	return nil
}
