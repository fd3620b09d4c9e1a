package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/depthflow/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitPublisher publishes persistent JSON messages. A channel is not safe for concurrent
// publishing, so calls are serialized.
type RabbitPublisher struct {
	mu         sync.Mutex
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

var _ Publisher = (*RabbitPublisher)(nil)

func NewRabbitPublisher(conn *amqp.Connection, cfg config.QueueConfig) (*RabbitPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declare(ch, cfg); err != nil {
		ch.Close()
		return nil, err
	}

	return &RabbitPublisher{
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
	}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		p.routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.JobID.String(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish job %s: %w", msg.JobID, err)
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	return p.channel.Close()
}
