// Package models contains shared data models used across the DepthFlow API codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job tracks one image-to-animation conversion. The API returns its id on POST /api/v1/process;
// the client polls GET /api/v1/task/{task_id} until status is completed or failed.
type Job struct {
	ID          uuid.UUID  `db:"id"           json:"id"`
	Status      string     `db:"status"       json:"status"`
	Progress    int        `db:"progress"     json:"progress"`
	Message     string     `db:"message"      json:"message"`
	Params      Params     `db:"params"       json:"parameters"`
	InputRef    string     `db:"input_ref"    json:"-"`
	InputName   string     `db:"input_name"   json:"input_name"`
	ResultRef   *string    `db:"result_ref"   json:"-"`
	Error       *string    `db:"error"        json:"error_message,omitempty"`
	WebhookURL  *string    `db:"webhook_url"  json:"-"`
	WorkerID    *string    `db:"worker_id"    json:"-"`
	StartedAt   *time.Time `db:"started_at"   json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
}

// IsTerminal reports whether the job can no longer change state.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// JobCounts is a snapshot of how many jobs sit in each status.
type JobCounts struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
