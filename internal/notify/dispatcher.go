// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

// Package notify delivers store-generated alerts to operators. Alerts flow
// through an in-process Watermill pub/sub channel: the ingestion side
// publishes without blocking on delivery, and a dispatcher goroutine fans
// messages out to the configured notifiers. Delivery is best-effort; the
// alert row in the store is the durable record.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tomtom215/garrison/internal/logging"
	"github.com/tomtom215/garrison/internal/metrics"
	"github.com/tomtom215/garrison/internal/models"
)

// alertTopic is the single pub/sub topic alerts travel on.
const alertTopic = "alerts"

// Notifier is one alert delivery channel.
type Notifier interface {
	// Notify delivers a single alert. Errors are logged and counted, not
	// retried.
	Notify(ctx context.Context, alert *models.Alert) error

	// Name identifies the notifier in logs and metrics.
	Name() string
}

// Dispatcher owns the alert channel and the fan-out loop.
type Dispatcher struct {
	pubsub    *gochannel.GoChannel
	notifiers []Notifier
	limiter   *rate.Limiter
}

// NewDispatcher creates a dispatcher fanning out to the given notifiers.
// minSpacing throttles deliveries so an alert storm (e.g. a batch import of
// months of logs) cannot flood a webhook endpoint.
func NewDispatcher(notifiers []Notifier, minSpacing time.Duration) *Dispatcher {
	if minSpacing <= 0 {
		minSpacing = 100 * time.Millisecond
	}
	return &Dispatcher{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 1024,
		}, watermill.NewStdLogger(false, false)),
		notifiers: notifiers,
		limiter:   rate.NewLimiter(rate.Every(minSpacing), 1),
	}
}

// Publish enqueues alerts for delivery. Safe to call from any goroutine;
// returns once the messages are buffered, not delivered.
func (d *Dispatcher) Publish(alerts []models.Alert) error {
	for i := range alerts {
		payload, err := json.Marshal(&alerts[i])
		if err != nil {
			return fmt.Errorf("failed to marshal alert %d: %w", alerts[i].ID, err)
		}
		msg := message.NewMessage(uuid.NewString(), payload)
		if err := d.pubsub.Publish(alertTopic, msg); err != nil {
			return fmt.Errorf("failed to publish alert %d: %w", alerts[i].ID, err)
		}
		metrics.AlertsPublished.Inc()
	}
	return nil
}

// Serve consumes the alert channel and fans each alert out to every
// notifier, until the context is canceled. Satisfies suture.Service.
func (d *Dispatcher) Serve(ctx context.Context) error {
	messages, err := d.pubsub.Subscribe(ctx, alertTopic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to alert topic: %w", err)
	}

	logging.Info().Int("notifiers", len(d.notifiers)).Msg("Alert dispatcher started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			d.deliver(ctx, msg)
			msg.Ack()
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg *message.Message) {
	var alert models.Alert
	if err := json.Unmarshal(msg.Payload, &alert); err != nil {
		logging.Error().Err(err).Str("message_uuid", msg.UUID).Msg("Failed to decode alert message")
		return
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return
	}

	for _, n := range d.notifiers {
		if err := n.Notify(ctx, &alert); err != nil {
			metrics.NotifyFailures.WithLabelValues(n.Name()).Inc()
			logging.Warn().
				Err(err).
				Str("notifier", n.Name()).
				Int64("alert_id", alert.ID).
				Str("alert_type", string(alert.Type)).
				Msg("Alert delivery failed")
		}
	}
}

// Close shuts the pub/sub channel down. Pending undelivered messages are
// dropped; the store still holds every alert.
func (d *Dispatcher) Close() error {
	return d.pubsub.Close()
}
