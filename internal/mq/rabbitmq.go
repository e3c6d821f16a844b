// Package mq publishes admin notifications to RabbitMQ.
package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQ holds one connection and publishing channel.
type RabbitMQ struct {
	url    string
	conn   *amqp.Connection
	ch     *amqp.Channel
	log    *slog.Logger
	mu     sync.RWMutex
	closed bool
}

// Dial connects with retries, backing off by 1.5x up to 30s per attempt.
func Dial(ctx context.Context, url string, maxRetries int, log *slog.Logger) (*RabbitMQ, error) {
	if log == nil {
		log = slog.Default()
	}
	if maxRetries <= 0 {
		maxRetries = 10
	}
	mq := &RabbitMQ{url: url, log: log}
	retryDelay := time.Second
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err = mq.connect(); err == nil {
			log.Info("rabbitmq connected", "attempt", attempt)
			return mq, nil
		}
		log.Warn("rabbitmq connection attempt failed", "attempt", attempt, "max_retries", maxRetries, "retry_in", retryDelay, "err", err)
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
		retryDelay = time.Duration(float64(retryDelay) * 1.5)
		if retryDelay > 30*time.Second {
			retryDelay = 30 * time.Second
		}
	}
	return nil, fmt.Errorf("connect rabbitmq after %d attempts: %w", maxRetries, err)
}

func (mq *RabbitMQ) connect() error {
	conn, err := amqp.Dial(mq.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	mq.mu.Lock()
	mq.conn = conn
	mq.ch = ch
	mq.mu.Unlock()
	return nil
}

func (mq *RabbitMQ) Channel() *amqp.Channel {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	return mq.ch
}

var errNoChannel = errors.New("rabbitmq channel not available")

// Publish sends a persistent JSON message to exchange.
func (mq *RabbitMQ) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	ch := mq.Channel()
	if ch == nil {
		return errNoChannel
	}
	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return ch.PublishWithContext(publishCtx, exchange, routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// Ping reports whether the connection is still open.
func (mq *RabbitMQ) Ping(context.Context) error {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	if mq.conn == nil || mq.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

func (mq *RabbitMQ) Close() {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	if mq.closed {
		return
	}
	mq.closed = true
	if mq.ch != nil {
		_ = mq.ch.Close()
	}
	if mq.conn != nil {
		_ = mq.conn.Close()
	}
	mq.log.Info("rabbitmq closed")
}
