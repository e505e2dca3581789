// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/garrison/internal/models"
)

// WebhookNotifier POSTs each alert as a JSON document to a configured
// endpoint. Any 2xx response counts as delivered.
type WebhookNotifier struct {
	client  *http.Client
	url     string
	headers map[string]string
}

// webhookPayload is the wire shape delivered to the endpoint.
type webhookPayload struct {
	Event  string        `json:"event"`
	Alert  *models.Alert `json:"alert"`
	SentAt time.Time     `json:"sent_at"`
}

// NewWebhookNotifier creates a webhook notifier. headers are attached to
// every request, typically for authentication.
func NewWebhookNotifier(url string, headers map[string]string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		client:  &http.Client{Timeout: timeout},
		url:     url,
		headers: headers,
	}
}

// Name identifies the notifier in logs and metrics.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// Notify delivers one alert.
func (w *WebhookNotifier) Notify(ctx context.Context, alert *models.Alert) error {
	body, err := json.Marshal(webhookPayload{
		Event:  "garrison.alert",
		Alert:  alert,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
