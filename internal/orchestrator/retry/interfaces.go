package retry

import (
	"context"
	"time"

	"github.com/AltairaLabs/agentvine/internal/types"
)

// LeaseStorage defines the storage operations needed for lease reaping
type LeaseStorage interface {
	ExpireLeases(ctx context.Context, now time.Time, limit int) ([]*types.WorkItem, error)
}

// ReleaseHandler is notified of every item the reaper released, whether it
// went back to its tier or into the dead-letter set
type ReleaseHandler func(ctx context.Context, item *types.WorkItem)
