package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/depthflow/internal/blob"
	"github.com/kiranshivaraju/depthflow/internal/cache"
	"github.com/kiranshivaraju/depthflow/internal/store"
	"github.com/kiranshivaraju/depthflow/pkg/models"
)

// Terminal jobs never change, so their snapshots can live in the cache for a while.
const snapshotTTL = time.Hour

// Get returns the current state of a job.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	if job := s.cachedJob(ctx, id); job != nil {
		return job, nil
	}

	job, err := s.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	if job.IsTerminal() {
		s.cacheJob(ctx, job)
	}
	return job, nil
}

func (s *Service) cachedJob(ctx context.Context, id uuid.UUID) *models.Job {
	if s.cache == nil {
		return nil
	}
	data, ok, err := s.cache.Get(ctx, cache.JobSnapshotKey(id))
	if err != nil {
		slog.Warn("job cache read failed", "job_id", id, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	var snap jobSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Warn("discarding corrupt job snapshot", "job_id", id, "error", err)
		return nil
	}
	job := snap.job()
	return &job
}

func (s *Service) cacheJob(ctx context.Context, job *models.Job) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(newJobSnapshot(job))
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cache.JobSnapshotKey(job.ID), data, snapshotTTL); err != nil {
		slog.Warn("job cache write failed", "job_id", job.ID, "error", err)
	}
}

// jobSnapshot keeps the fields the public Job JSON hides.
type jobSnapshot struct {
	models.Job
	InputRef  string  `json:"input_ref"`
	ResultRef *string `json:"result_ref,omitempty"`
}

func newJobSnapshot(j *models.Job) jobSnapshot {
	return jobSnapshot{Job: *j, InputRef: j.InputRef, ResultRef: j.ResultRef}
}

func (s jobSnapshot) job() models.Job {
	j := s.Job
	j.InputRef = s.InputRef
	j.ResultRef = s.ResultRef
	return j
}

// Artifact is an open rendered result. The caller must Close it.
type Artifact struct {
	blob.Object
	Size        int64
	ContentType string
	Filename    string
	ModTime     time.Time
}

// OpenResult opens the artifact of a completed job. Jobs in any other state, failed included,
// return ErrNotReady.
func (s *Service) OpenResult(ctx context.Context, id uuid.UUID) (*Artifact, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusCompleted || job.ResultRef == nil {
		return nil, ErrNotReady
	}

	obj, info, err := s.blobs.Open(ctx, *job.ResultRef)
	if err != nil {
		return nil, fmt.Errorf("open result %s: %w", *job.ResultRef, err)
	}

	format := job.Params.OutputFormat
	contentType := models.ContentType(format)
	if contentType == "application/octet-stream" && info.ContentType != "" {
		contentType = info.ContentType
	}
	return &Artifact{
		Object:      obj,
		Size:        info.Size,
		ContentType: contentType,
		Filename:    fmt.Sprintf("depthflow_%s.%s", job.ID, format),
		ModTime:     info.ModTime,
	}, nil
}
