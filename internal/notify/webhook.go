package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/kiranshivaraju/depthflow/pkg/models"
)

const (
	webhookAttempts = 3
	webhookTimeout  = 10 * time.Second
)

// Webhook POSTs the event to the job's webhook URL, if it has one.
type Webhook struct {
	client *http.Client
	// InitialInterval is the first retry delay.
	InitialInterval time.Duration
}

var _ Notifier = (*Webhook)(nil)

func NewWebhook() *Webhook {
	return &Webhook{
		client:          &http.Client{Timeout: webhookTimeout},
		InitialInterval: 500 * time.Millisecond,
	}
}

func (w *Webhook) Notify(ctx context.Context, job *models.Job) error {
	if job.WebhookURL == nil || *job.WebhookURL == "" {
		return nil
	}
	body, err := json.Marshal(NewEvent(job))
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	operation := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, *job.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "depthflow-webhook/1")

		resp, err := w.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return struct{}{}, fmt.Errorf("webhook returned %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return struct{}{}, backoff.Permanent(fmt.Errorf("webhook returned %d", resp.StatusCode))
		}
		return struct{}{}, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.InitialInterval
	if _, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(webhookAttempts)); err != nil {
		return fmt.Errorf("deliver webhook for job %s: %w", job.ID, err)
	}
	return nil
}
