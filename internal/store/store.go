package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/depthflow/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidTransition is returned when a status change would move a job backwards or out of
// a terminal state. Callers treat it as "someone else already decided this job's fate".
var ErrInvalidTransition = errors.New("invalid job status transition")

// ErrStaleUpdate is returned when a progress write arrives after a later write or after the
// job stopped running. The write is dropped.
var ErrStaleUpdate = errors.New("stale job update ignored")

// Store is the data access interface. All database operations go through here.
// It is the single owner of job state; every process reads and writes jobs through it.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
	UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int, message string) error
	TouchPendingJob(ctx context.Context, id uuid.UUID, message string) error
	ListStaleJobs(ctx context.Context, status string, olderThan time.Time, limit int) ([]*models.Job, error)
	CountJobsByStatus(ctx context.Context) (models.JobCounts, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

var validTransitions = map[string][]string{
	models.JobStatusPending: {models.JobStatusRunning},
	models.JobStatusRunning: {models.JobStatusCompleted, models.JobStatusFailed},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to string) bool {
	return slices.Contains(validTransitions[from], to)
}

// predecessors returns every status that may legally move to the given status.
func predecessors(to string) []string {
	var from []string
	for f, targets := range validTransitions {
		if slices.Contains(targets, to) {
			from = append(from, f)
		}
	}
	slices.Sort(from)
	return from
}

// JobUpdateParams collects the optional fields of a status change.
type JobUpdateParams struct {
	Message   *string
	ResultRef *string
	Error     *string
	WorkerID  *string
}

type JobUpdateOption func(*JobUpdateParams)

// ApplyJobUpdateOptions folds opts into a JobUpdateParams and checks that the fields required by
// the target status are present: completed needs a result reference and failed needs an error.
func ApplyJobUpdateOptions(status string, opts ...JobUpdateOption) (*JobUpdateParams, error) {
	p := &JobUpdateParams{}
	for _, opt := range opts {
		opt(p)
	}

	switch status {
	case models.JobStatusCompleted:
		if p.ResultRef == nil || *p.ResultRef == "" {
			return nil, errors.New("completed job requires a result reference")
		}
		p.Error = nil
	case models.JobStatusFailed:
		if p.Error == nil || *p.Error == "" {
			return nil, errors.New("failed job requires an error message")
		}
		p.ResultRef = nil
	default:
		p.ResultRef = nil
		p.Error = nil
	}
	return p, nil
}

func WithMessage(msg string) JobUpdateOption {
	return func(p *JobUpdateParams) {
		p.Message = &msg
	}
}

func WithResultRef(ref string) JobUpdateOption {
	return func(p *JobUpdateParams) {
		p.ResultRef = &ref
	}
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *JobUpdateParams) {
		p.Error = &msg
	}
}

func WithWorkerID(id string) JobUpdateOption {
	return func(p *JobUpdateParams) {
		p.WorkerID = &id
	}
}
