package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kiranshivaraju/depthflow/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one message. Returning an error requeues the message; returning nil acks it.
// Job failures that were already recorded should return nil.
type Handler func(ctx context.Context, msg Message) error

// Consumer feeds deliveries to a fixed pool of workers.
type Consumer struct {
	conn       *amqp.Connection
	cfg        config.QueueConfig
	numWorkers int
}

func NewConsumer(conn *amqp.Connection, cfg config.QueueConfig, numWorkers int) *Consumer {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Consumer{conn: conn, cfg: cfg, numWorkers: numWorkers}
}

// Consume blocks until ctx is cancelled or the delivery channel closes. Handlers receive ctx, so
// in-flight handlers observe the cancellation; Consume waits for them to return before it does.
func (c *Consumer) Consume(ctx context.Context, handle Handler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := declare(ch, c.cfg); err != nil {
		return err
	}
	if err := ch.Qos(c.numWorkers, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}

	jobs := make(chan amqp.Delivery, c.numWorkers)
	var wg sync.WaitGroup
	for i := 1; i <= c.numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.deliver(ctx, workerID, d, handle)
			}
		}(i)
	}

	slog.Info("consumer started", "queue", c.cfg.Queue, "workers", c.numWorkers)
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				close(jobs)
				wg.Wait()
				return nil
			}
			jobs <- d
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, workerID int, d amqp.Delivery, handle Handler) {
	var msg Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		slog.Error("dropping malformed message", "worker", workerID, "error", err)
		if err := d.Ack(false); err != nil {
			slog.Error("failed to acknowledge message", "error", err)
		}
		return
	}

	if err := handle(ctx, msg); err != nil {
		slog.Error("failed to handle message, requeueing", "worker", workerID, "job_id", msg.JobID, "error", err)
		if err := d.Nack(false, true); err != nil {
			slog.Error("failed to nack message", "error", err)
		}
		return
	}
	if err := d.Ack(false); err != nil {
		slog.Error("failed to acknowledge message", "job_id", msg.JobID, "error", err)
	}
}
