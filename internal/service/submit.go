package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/depthflow/internal/blob"
	"github.com/kiranshivaraju/depthflow/internal/queue"
	"github.com/kiranshivaraju/depthflow/pkg/models"
)

const (
	MinImageDimension = 100
	MaxImageDimension = 8192
)

var allowedExtensions = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
}

var allowedMIME = []string{"image/jpeg", "image/png"}

// SubmitRequest is an upload plus the parameters to render it with.
type SubmitRequest struct {
	Image      io.Reader
	Filename   string
	Params     models.Params
	WebhookURL string
}

// Submit validates an upload, stores it and queues it for rendering. It returns as soon as the
// job is recorded; rendering happens on a worker. Nothing is stored when validation fails.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	data, err := io.ReadAll(io.LimitReader(req.Image, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, invalid(CodeFileTooLarge,
			fmt.Sprintf("file exceeds the %s limit", humanize.IBytes(uint64(s.cfg.MaxUploadBytes))),
			map[string]any{"max_bytes": s.cfg.MaxUploadBytes})
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(req.Filename), "."))
	if !allowedExtensions[ext] {
		return nil, invalid(CodeInvalidFileFormat, "supported formats are jpg, jpeg and png",
			map[string]any{"filename": req.Filename})
	}

	mime, err := validateImage(data)
	if err != nil {
		return nil, err
	}

	if errs := req.Params.Validate(); len(errs) > 0 {
		return nil, invalid(CodeInvalidParameters, "invalid processing parameters", errs)
	}

	var webhook *string
	if req.WebhookURL != "" {
		if !validWebhookURL(req.WebhookURL) {
			return nil, invalid(CodeInvalidParameters, "invalid processing parameters",
				[]models.FieldError{{Field: "webhook_url", Message: "must be an absolute http or https URL"}})
		}
		webhook = &req.WebhookURL
	}

	id := uuid.New()
	key := blob.UploadKey(id.String(), ext)
	if err := s.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), mime); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:         id,
		Status:     models.JobStatusPending,
		Progress:   0,
		Message:    "queued",
		Params:     req.Params,
		InputRef:   key,
		InputName:  filepath.Base(req.Filename),
		WebhookURL: webhook,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), key); derr != nil {
			slog.Warn("failed to remove orphaned upload", "key", key, "error", derr)
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.publisher.Publish(ctx, queue.Message{JobID: id}); err != nil {
		// The reaper picks up pending jobs that were never delivered.
		slog.Error("failed to enqueue job", "job_id", id, "error", err)
	}

	slog.Info("job submitted", "job_id", id, "input_name", job.InputName,
		"size", humanize.IBytes(uint64(len(data))), "format", job.Params.OutputFormat)
	return job, nil
}

// validateImage sniffs the payload and checks its pixel dimensions. It returns the detected MIME type.
func validateImage(data []byte) (string, error) {
	mt := mimetype.Detect(data)
	if !mimetype.EqualsAny(mt.String(), allowedMIME...) {
		return "", invalid(CodeInvalidImage, "file content is not a JPEG or PNG image",
			map[string]any{"detected": mt.String()})
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", invalid(CodeInvalidImage, "image could not be decoded", nil)
	}
	if cfg.Width < MinImageDimension || cfg.Height < MinImageDimension ||
		cfg.Width > MaxImageDimension || cfg.Height > MaxImageDimension {
		return "", invalid(CodeInvalidImage,
			fmt.Sprintf("image dimensions must be between %d and %d pixels", MinImageDimension, MaxImageDimension),
			map[string]any{"width": cfg.Width, "height": cfg.Height})
	}
	return mt.String(), nil
}

func validWebhookURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
