package webhooks

import (
	"context"
	"encoding/json"
	"fmt"

	"rbus/internal/metrics"
	"rbus/internal/model"
	"rbus/internal/store"
)

// Publisher queues admin notifications as signed webhooks; the Worker delivers them.
type Publisher struct {
	Store     store.Outbox
	URL       string
	Secret    string
	Recipient string
}

func NewPublisher(s store.Outbox, url, secret, recipient string) *Publisher {
	return &Publisher{Store: s, URL: url, Secret: secret, Recipient: recipient}
}

// Notify enqueues one delivery to the admin webhook URL.
func (p *Publisher) Notify(ctx context.Context, kind model.TripEvent, trip model.Trip, owner model.User) error {
	body, err := json.Marshal(model.NewAdminNotification(kind, trip, owner, p.Recipient))
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if _, err := p.Store.EnqueueWebhook(ctx, string(kind), p.URL, p.Secret, body); err != nil {
		metrics.Notifications.WithLabelValues("webhook", "error").Inc()
		return fmt.Errorf("enqueue notification: %w", err)
	}
	metrics.Notifications.WithLabelValues("webhook", "queued").Inc()
	return nil
}
