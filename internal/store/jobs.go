package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/depthflow/pkg/models"
)

// ClaimJob moves a pending job to running for workerID and returns the claimed job.
// ErrInvalidTransition means another worker already owns it or it is finished.
func ClaimJob(ctx context.Context, s Store, id uuid.UUID, workerID string) (*models.Job, error) {
	if err := s.UpdateJobStatus(ctx, id, models.JobStatusRunning,
		WithWorkerID(workerID), WithMessage("processing started")); err != nil {
		return nil, err
	}
	return s.GetJob(ctx, id)
}

// CompleteJob marks a running job completed with its artifact reference.
func CompleteJob(ctx context.Context, s Store, id uuid.UUID, resultRef string) error {
	return s.UpdateJobStatus(ctx, id, models.JobStatusCompleted,
		WithResultRef(resultRef), WithMessage("animation ready"))
}

// FailJob marks a running job failed. errMsg is shown to clients.
func FailJob(ctx context.Context, s Store, id uuid.UUID, errMsg string) error {
	return s.UpdateJobStatus(ctx, id, models.JobStatusFailed,
		WithErrorMessage(errMsg), WithMessage("processing failed"))
}
