package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookChannel posts notifications as JSON to an HTTP endpoint
type WebhookChannel struct {
	logger     *zap.Logger
	url        string
	httpClient *http.Client
}

// WebhookPayload is the body sent to the webhook endpoint
type WebhookPayload struct {
	Destination string    `json:"destination,omitempty"`
	Text        string    `json:"text"`
	SentAt      time.Time `json:"sent_at"`
}

func NewWebhookChannel(url string, logger *zap.Logger) *WebhookChannel {
	return &WebhookChannel{
		logger: logger,
		url:    url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) Send(ctx context.Context, destination, message string) error {
	payload := WebhookPayload{
		Destination: destination,
		Text:        message,
		SentAt:      time.Now().UTC(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "icecold-monitor/1.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		w.logger.Debug("Webhook notification sent",
			zap.String("url", w.url),
			zap.Int("status_code", resp.StatusCode))
		return nil
	}

	return fmt.Errorf("webhook returned error: %s", resp.Status)
}
