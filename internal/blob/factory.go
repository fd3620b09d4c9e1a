package blob

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/depthflow/internal/config"
)

// New returns the Store selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "s3":
		return NewMinioStore(ctx, cfg.S3)
	case "local":
		return NewLocalStore(cfg.LocalDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
