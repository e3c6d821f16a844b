package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"rbus/internal/metrics"
	"rbus/internal/model"
)

type publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// TripNotifier publishes admin notifications to AdminExchange.
type TripNotifier struct {
	mq        publisher
	recipient string
	log       *slog.Logger
}

func NewTripNotifier(p publisher, recipient string, log *slog.Logger) *TripNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &TripNotifier{mq: p, recipient: recipient, log: log}
}

func (n *TripNotifier) Notify(ctx context.Context, kind model.TripEvent, trip model.Trip, owner model.User) error {
	body, err := json.Marshal(model.NewAdminNotification(kind, trip, owner, n.recipient))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := n.mq.Publish(ctx, AdminExchange, string(kind), body); err != nil {
		metrics.Notifications.WithLabelValues("amqp", "error").Inc()
		return fmt.Errorf("publish to rabbitmq: %w", err)
	}
	metrics.Notifications.WithLabelValues("amqp", "published").Inc()
	n.log.Debug("admin notification published", "trip", trip.ID, "routing_key", string(kind))
	return nil
}
