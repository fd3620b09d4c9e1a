package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kiranshivaraju/depthflow/pkg/models"
	"github.com/nats-io/nats.go"
)

// NATS publishes events on a subject for other services to consume.
type NATS struct {
	conn    *nats.Conn
	subject string
}

var _ Notifier = (*NATS)(nil)

func NewNATS(url, subject string) (*NATS, error) {
	nc, err := nats.Connect(url, nats.Name("depthflow"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATS{conn: nc, subject: subject}, nil
}

func (n *NATS) Notify(_ context.Context, job *models.Job) error {
	data, err := json.Marshal(NewEvent(job))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", n.subject, err)
	}
	return nil
}

func (n *NATS) Close() {
	n.conn.Close()
}
