package mq

import (
	"context"
	"fmt"
)

const (
	// AdminExchange carries admin notifications; the routing key is the trip event type.
	AdminExchange = "admin_topic"
	// AdminQueue collects every trip notification for the mailer.
	AdminQueue = "admin.trip_notifications"
)

// SetupTopology declares the admin exchange and its queue binding.
func SetupTopology(_ context.Context, mq *RabbitMQ) error {
	ch := mq.Channel()
	if ch == nil {
		return errNoChannel
	}
	if err := ch.ExchangeDeclare(
		AdminExchange, // name
		"topic",       // type
		true,          // durable
		false,         // auto-deleted
		false,         // internal
		false,         // no-wait
		nil,           // args
	); err != nil {
		return fmt.Errorf("declare %s: %w", AdminExchange, err)
	}
	if _, err := ch.QueueDeclare(AdminQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", AdminQueue, err)
	}
	if err := ch.QueueBind(AdminQueue, "trip.*", AdminExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", AdminQueue, err)
	}
	return nil
}
