// Package queue carries render requests from the API to workers over RabbitMQ.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/depthflow/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Message asks a worker to render one job. The job row holds everything else.
type Message struct {
	JobID uuid.UUID `json:"job_id"`
}

// Publisher enqueues render requests.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

const dialAttempts = 5

// Connect dials the broker, retrying with exponential backoff.
func Connect(ctx context.Context, url string) (*amqp.Connection, error) {
	operation := func() (*amqp.Connection, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			slog.Warn("rabbitmq dial failed, retrying", "error", err)
			return nil, err
		}
		return conn, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second
	conn, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(dialAttempts))
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	return conn, nil
}

// declare sets up a durable direct exchange and a durable queue bound to it.
func declare(ch *amqp.Channel, cfg config.QueueConfig) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}
	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", cfg.Queue, err)
	}
	return nil
}
