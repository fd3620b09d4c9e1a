package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/depthflow/internal/api/response"
	"github.com/kiranshivaraju/depthflow/internal/notify"
	"github.com/kiranshivaraju/depthflow/internal/service"
	"github.com/kiranshivaraju/depthflow/pkg/models"
)

// JobGetter reads job state.
type JobGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

type taskResponse struct {
	TaskID       uuid.UUID     `json:"task_id"`
	Status       string        `json:"status"`
	Progress     int           `json:"progress"`
	Message      string        `json:"message"`
	ResultURL    *string       `json:"result_url"`
	ErrorMessage *string       `json:"error_message"`
	Parameters   models.Params `json:"parameters"`
	InputName    string        `json:"input_name"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

func newTaskResponse(j *models.Job) taskResponse {
	resp := taskResponse{
		TaskID:       j.ID,
		Status:       j.Status,
		Progress:     j.Progress,
		Message:      j.Message,
		ErrorMessage: j.Error,
		Parameters:   j.Params,
		InputName:    j.InputName,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
	if j.Status == models.JobStatusCompleted {
		u := notify.ResultPath(j.ID)
		resp.ResultURL = &u
	}
	return resp
}

// NewTaskHandler returns an http.HandlerFunc for GET /api/v1/task/{task_id}.
func NewTaskHandler(svc JobGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := taskID(r)
		if !ok {
			writeError(w, r, service.ErrNotFound)
			return
		}

		job, err := svc.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, newTaskResponse(job))
	}
}

// taskID parses the task_id URL parameter. A malformed id cannot name a task.
func taskID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "task_id"))
	return id, err == nil
}
