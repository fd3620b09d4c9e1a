package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/depthflow/internal/api/response"
	"github.com/kiranshivaraju/depthflow/internal/service"
	"github.com/kiranshivaraju/depthflow/pkg/models"
)

// Multipart parts beyond this size spill to temporary files.
const multipartMemory = 8 << 20

// Submitter accepts uploads for rendering.
type Submitter interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*models.Job, error)
}

type processRequest struct {
	Parameters json.RawMessage `json:"parameters"`
	WebhookURL string          `json:"webhook_url"`
}

type taskCreatedResponse struct {
	TaskID    uuid.UUID `json:"task_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProcessHandler returns an http.HandlerFunc for POST /api/v1/process.
//
// The body is multipart with the image in "file". Parameters come either as a JSON "request"
// field holding {"parameters": {...}, "webhook_url": "..."}, or as separate "parameters" (JSON)
// and "webhook_url" fields. Omitted parameters take their defaults.
func NewProcessHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, r, err)
				return
			}
			response.Error(w, http.StatusBadRequest, service.CodeInvalidRequest,
				"Request must be multipart/form-data", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			response.Error(w, http.StatusBadRequest, service.CodeInvalidRequest, "file is required", nil)
			return
		}
		defer file.Close()

		params, webhook, err := parseProcessRequest(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		job, err := svc.Submit(r.Context(), service.SubmitRequest{
			Image:      file,
			Filename:   header.Filename,
			Params:     params,
			WebhookURL: webhook,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.Accepted(w, taskCreatedResponse{
			TaskID:    job.ID,
			Status:    job.Status,
			CreatedAt: job.CreatedAt,
			UpdatedAt: job.UpdatedAt,
		})
	}
}

func parseProcessRequest(r *http.Request) (models.Params, string, error) {
	var req processRequest
	if raw := r.FormValue("request"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return models.Params{}, "", &service.ValidationError{
				Code:    service.CodeInvalidRequest,
				Message: "request must be a valid JSON object",
			}
		}
	} else {
		if raw := r.FormValue("parameters"); raw != "" {
			req.Parameters = json.RawMessage(raw)
		}
		req.WebhookURL = r.FormValue("webhook_url")
	}

	params := models.DefaultParams()
	if len(req.Parameters) > 0 && string(req.Parameters) != "null" {
		if err := json.Unmarshal(req.Parameters, &params); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				return models.Params{}, "", &service.ValidationError{
					Code:    service.CodeInvalidParameters,
					Message: "invalid processing parameters",
					Details: []models.FieldError{{Field: typeErr.Field, Message: "has the wrong type"}},
				}
			}
			return models.Params{}, "", &service.ValidationError{
				Code:    service.CodeInvalidRequest,
				Message: "parameters must be a valid JSON object",
			}
		}
	}
	return params, req.WebhookURL, nil
}
