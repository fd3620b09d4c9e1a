// Package service holds the job API's business operations: accepting uploads, reporting job
// state, serving finished artifacts and summarizing system load. HTTP handlers are thin wrappers
// around it.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/depthflow/internal/blob"
	"github.com/kiranshivaraju/depthflow/internal/queue"
	"github.com/kiranshivaraju/depthflow/internal/store"
)

var (
	ErrNotFound = errors.New("task not found")
	ErrNotReady = errors.New("task not ready")
)

// Validation error codes returned to clients.
const (
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeInvalidFileFormat = "INVALID_FILE_FORMAT"
	CodeInvalidImage      = "INVALID_IMAGE"
	CodeInvalidParameters = "INVALID_PARAMETERS"
	CodeInvalidRequest    = "INVALID_REQUEST"
)

// ValidationError rejects a request before any state is created.
type ValidationError struct {
	Code    string
	Message string
	Details any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invalid(code, msg string, details any) *ValidationError {
	return &ValidationError{Code: code, Message: msg, Details: details}
}

// Cache is the subset of the Redis cache the service reads and writes. It may be nil.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	ActiveSlots(ctx context.Context, pool string) (int, error)
}

// RendererStatus reports which renderers this host can reach.
type RendererStatus interface {
	Availability(ctx context.Context) map[string]bool
}

type Config struct {
	MaxUploadBytes int64
	MaxConcurrent  int
	// StorageDir is sampled for disk usage when set.
	StorageDir string
}

type Service struct {
	store     store.Store
	blobs     blob.Store
	publisher queue.Publisher
	cache     Cache
	renderers RendererStatus
	cfg       Config

	hostStats func(ctx context.Context, dir string) SystemStats
}

func New(s store.Store, b blob.Store, p queue.Publisher, c Cache, r RendererStatus, cfg Config) *Service {
	return &Service{
		store:     s,
		blobs:     b,
		publisher: p,
		cache:     c,
		renderers: r,
		cfg:       cfg,
		hostStats: sampleHost,
	}
}
