// Package notify tells interested parties that a job reached a terminal state.
// Delivery is best effort: failures are logged and never change the job.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/depthflow/pkg/models"
)

// Event is the payload sent for a finished job.
type Event struct {
	TaskID       uuid.UUID  `json:"task_id"`
	Status       string     `json:"status"`
	Message      string     `json:"message"`
	ResultURL    *string    `json:"result_url,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ResultPath is the API path a finished job's artifact is served from.
func ResultPath(id uuid.UUID) string {
	return "/api/v1/result/" + id.String()
}

// NewEvent builds the event for job.
func NewEvent(job *models.Job) Event {
	ev := Event{
		TaskID:       job.ID,
		Status:       job.Status,
		Message:      job.Message,
		ErrorMessage: job.Error,
		CompletedAt:  job.CompletedAt,
	}
	if job.Status == models.JobStatusCompleted {
		u := ResultPath(job.ID)
		ev.ResultURL = &u
	}
	return ev
}

// Notifier delivers a terminal job event.
type Notifier interface {
	Notify(ctx context.Context, job *models.Job) error
}

// Multi fans an event out to several notifiers. Every notifier is tried; errors are logged.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, job *models.Job) error {
	for _, n := range m {
		if err := n.Notify(ctx, job); err != nil {
			slog.Warn("notification failed", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, *models.Job) error { return nil }
