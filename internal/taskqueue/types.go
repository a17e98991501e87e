package taskqueue

import (
	"context"
	"errors"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
	"github.com/AltairaLabs/agentvine/internal/types"
)

// ErrStaleOperation is returned by Complete and Fail when the item is not
// currently leased by the caller. The call is a no-op; callers log it.
var ErrStaleOperation = errors.New("stale operation")

// ErrInvalidWorkItem is returned by Enqueue for items that cannot be queued
var ErrInvalidWorkItem = errors.New("invalid work item")

// DeadLetterSink is the operator channel dead-lettered items are surfaced on.
// Report is called exactly once per dead-lettered item.
type DeadLetterSink interface {
	Report(ctx context.Context, item *types.WorkItem)
}

// DeadLetterFunc adapts a function to DeadLetterSink
type DeadLetterFunc func(ctx context.Context, item *types.WorkItem)

// Report calls f(ctx, item)
func (f DeadLetterFunc) Report(ctx context.Context, item *types.WorkItem) { f(ctx, item) }

// QueueStats is an alias to the storage package type
type QueueStats = storage.QueueStats
