// Package notify delivers operational alerts to an external webhook.
// Delivery is fire-and-forget: a down notification endpoint must never
// slow down or fail a failover path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/spotguard/spotguard/internal/config"
)

// Notifier sends one alert
type Notifier interface {
	Send(ctx context.Context, subject, message string, fields map[string]interface{})
}

// Webhook posts alerts as JSON to a configured URL
type Webhook struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhook creates a webhook notifier
func NewWebhook(cfg config.NotifyConfig, logger *zap.Logger) *Webhook {
	return &Webhook{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Send posts the alert in the background
func (w *Webhook) Send(_ context.Context, subject, message string, fields map[string]interface{}) {
	payload := map[string]interface{}{
		"subject": subject,
		"message": message,
		"fields":  fields,
		"sent_at": time.Now().UTC().Format(time.RFC3339),
	}

	go func() {
		body, err := json.Marshal(payload)
		if err != nil {
			w.logger.Error("encode notification", zap.Error(err))
			return
		}

		resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(body))
		if err != nil {
			w.logger.Warn("notification delivery failed", zap.String("subject", subject), zap.Error(err))
			return
		}
		resp.Body.Close()

		if resp.StatusCode >= 300 {
			w.logger.Warn("notification rejected",
				zap.String("subject", subject),
				zap.Int("status", resp.StatusCode))
		}
	}()
}

// Noop discards alerts. Used when no notification URL is configured.
type Noop struct{}

// Send does nothing
func (Noop) Send(context.Context, string, string, map[string]interface{}) {}

// FromConfig returns a webhook notifier, or Noop when no URL is set
func FromConfig(cfg config.NotifyConfig, logger *zap.Logger) Notifier {
	if cfg.URL == "" {
		return Noop{}
	}
	return NewWebhook(cfg, logger)
}
