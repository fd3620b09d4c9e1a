package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// RenderPool is the slot pool that caps concurrent renders across all workers.
const RenderPool = "render"

func JobSnapshotKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func SlotPoolKey(pool string) string {
	return fmt.Sprintf("slots:%s", pool)
}
