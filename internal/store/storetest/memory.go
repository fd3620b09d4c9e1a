// Package storetest provides an in-memory store.Store with the same transition and progress
// rules as the Postgres implementation. It is safe for concurrent use.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/depthflow/internal/store"
	"github.com/kiranshivaraju/depthflow/pkg/models"
)

var _ store.Store = (*MemoryStore)(nil)

type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
	keys map[uuid.UUID]*models.APIKey

	// PingErr, when set, is returned from Ping.
	PingErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*models.Job),
		keys: make(map[uuid.UUID]*models.APIKey),
	}
}

func (m *MemoryStore) Ping(_ context.Context) error { return m.PingErr }

func cloneJob(j *models.Job) *models.Job {
	c := *j
	if j.Params.Resolution != nil {
		r := *j.Params.Resolution
		c.Params.Resolution = &r
	}
	return &c
}

func (m *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return store.ErrDuplicateKey
	}
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *MemoryStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	params, err := store.ApplyJobUpdateOptions(status, opts...)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if !store.CanTransition(j.Status, status) {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, j.Status, status)
	}

	now := time.Now().UTC()
	j.Status = status
	j.UpdatedAt = now
	switch status {
	case models.JobStatusRunning:
		j.StartedAt = &now
		j.WorkerID = params.WorkerID
	case models.JobStatusCompleted:
		j.CompletedAt = &now
		j.Progress = 100
		j.ResultRef = params.ResultRef
	case models.JobStatusFailed:
		j.CompletedAt = &now
		j.Error = params.Error
	}
	if params.Message != nil {
		j.Message = *params.Message
	}
	return nil
}

func (m *MemoryStore) UpdateJobProgress(_ context.Context, id uuid.UUID, progress int, message string) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("progress %d out of range", progress)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != models.JobStatusRunning || progress < j.Progress {
		return store.ErrStaleUpdate
	}
	j.Progress = progress
	j.Message = message
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) TouchPendingJob(_ context.Context, id uuid.UUID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != models.JobStatusPending {
		return store.ErrStaleUpdate
	}
	j.Message = message
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListStaleJobs(_ context.Context, status string, olderThan time.Time, limit int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Job
	for _, j := range m.jobs {
		if j.Status == status && j.UpdatedAt.Before(olderThan) {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CountJobsByStatus(_ context.Context) (models.JobCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var c models.JobCounts
	for _, j := range m.jobs {
		switch j.Status {
		case models.JobStatusPending:
			c.Pending++
		case models.JobStatusRunning:
			c.Running++
		case models.JobStatusCompleted:
			c.Completed++
		case models.JobStatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

// SetUpdatedAt backdates a job so reaper tests can make it look stale.
func (m *MemoryStore) SetUpdatedAt(id uuid.UUID, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.UpdatedAt = t
	}
}

func (m *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

func (m *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key.ID]; ok {
		return store.ErrDuplicateKey
	}
	c := *key
	m.keys[key.ID] = &c
	return nil
}

func (m *MemoryStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.keys {
		if k.DeletedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok || k.DeletedAt != nil {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	return nil
}
