package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/config"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/metrics"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/retry"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
	"github.com/AltairaLabs/agentvine/internal/types"
)

// Options holds the optional collaborators of a TaskQueue
type Options struct {
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	DeadLetters DeadLetterSink
	Tasks       storage.TaskContextWriter
}

// TaskQueue is the work distribution service: priority-ordered atomic claim,
// lease-timeout requeue and retry/dead-letter policy over a WorkQueueStorage
type TaskQueue struct {
	storage     storage.WorkQueueStorage
	cfg         config.Source
	logger      *slog.Logger
	metrics     *metrics.Metrics
	deadLetters DeadLetterSink
	tasks       storage.TaskContextWriter
	reaper      *retry.Reaper
	now         func() time.Time

	// Background worker control
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTaskQueue creates a new work distribution service
func NewTaskQueue(store storage.WorkQueueStorage, cfg config.Source, opts Options) *TaskQueue {
	if cfg == nil {
		cfg = config.Static(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tq := &TaskQueue{
		storage:     store,
		cfg:         cfg,
		logger:      logger,
		metrics:     opts.Metrics,
		deadLetters: opts.DeadLetters,
		tasks:       opts.Tasks,
		now:         time.Now,
	}
	tq.reaper = retry.NewReaper(store, cfg, tq.onLeaseExpired, logger)
	return tq
}

// Enqueue adds a work item to its priority tier. Missing ids, enqueue time
// and retry budget are filled in.
func (tq *TaskQueue) Enqueue(ctx context.Context, item *types.WorkItem) (*types.WorkItem, error) {
	return tq.EnqueueTask(ctx, item, nil)
}

// EnqueueTask is Enqueue that also records the item's task context, so that
// session reuse and routing see the task's type and priority. A nil task
// records nothing.
func (tq *TaskQueue) EnqueueTask(ctx context.Context, item *types.WorkItem, task *types.TaskContext) (*types.WorkItem, error) {
	if item == nil {
		return nil, fmt.Errorf("%w: item is nil", ErrInvalidWorkItem)
	}

	tier, err := types.ParsePriority(string(item.Priority))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkItem, err)
	}

	stored := item.Clone()
	stored.Priority = tier
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.EnqueuedAt.IsZero() {
		stored.EnqueuedAt = tq.now()
	}
	if stored.AvailableAt.IsZero() {
		stored.AvailableAt = stored.EnqueuedAt
	}
	switch {
	case stored.MaxRetries == types.NoRetries:
		stored.MaxRetries = 0
	case stored.MaxRetries == 0:
		stored.MaxRetries = tq.cfg.Current().Queue.MaxRetries
	case stored.MaxRetries < 0:
		return nil, fmt.Errorf("%w: max_retries %d", ErrInvalidWorkItem, stored.MaxRetries)
	}
	stored.RetryCount = 0

	if task != nil {
		if err := tq.recordTask(ctx, stored.TaskID, task); err != nil {
			return nil, err
		}
	}

	if err := tq.storage.Enqueue(ctx, stored); err != nil {
		return nil, fmt.Errorf("failed to enqueue work item: %w", err)
	}

	tq.logger.Info("Work item enqueued",
		"item_id", stored.ID,
		"task_id", stored.TaskID,
		"priority", stored.Priority,
		"max_retries", stored.MaxRetries,
	)
	return stored, nil
}

func (tq *TaskQueue) recordTask(ctx context.Context, taskID string, task *types.TaskContext) error {
	if taskID == "" {
		return fmt.Errorf("%w: task context without task_id", ErrInvalidWorkItem)
	}
	if tq.tasks == nil {
		tq.logger.Warn("Dropping task context, no task store configured", "task_id", taskID)
		return nil
	}
	if task.Priority != "" && !task.Priority.Valid() {
		return fmt.Errorf("%w: unknown task priority %q", ErrInvalidWorkItem, task.Priority)
	}
	if err := tq.tasks.PutTaskContext(ctx, taskID, task); err != nil {
		return fmt.Errorf("failed to record task context: %w", err)
	}
	tq.logger.Debug("Task context recorded",
		"task_id", taskID,
		"task_type", task.Type,
		"task_priority", task.Priority,
	)
	return nil
}

// Claim returns the oldest eligible item of the highest non-empty tier,
// leased to workerID. Returns nil, nil when nothing is eligible.
func (tq *TaskQueue) Claim(ctx context.Context, workerID string, capabilities []string) (*types.WorkItem, error) {
	now := tq.now()
	deadline := now.Add(tq.cfg.Current().Queue.LeaseTimeout)

	for _, tier := range types.ClaimOrder {
		item, err := tq.storage.ClaimNext(ctx, storage.ClaimRequest{
			Tier:         tier,
			WorkerID:     workerID,
			Capabilities: capabilities,
			Now:          now,
			Deadline:     deadline,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to claim from %s: %w", tier, err)
		}
		if item == nil {
			continue
		}

		tq.metrics.IncClaim(string(tier))
		tq.logger.Info("Work item claimed",
			"item_id", item.ID,
			"worker_id", workerID,
			"priority", tier,
			"retry_count", item.RetryCount,
			"lease_deadline", deadline,
		)
		return item, nil
	}

	tq.logger.Debug("No work available", "worker_id", workerID)
	return nil, nil
}

// Complete marks a leased item completed and releases the lease
func (tq *TaskQueue) Complete(ctx context.Context, itemID, workerID string, result json.RawMessage) error {
	item, err := tq.storage.Complete(ctx, itemID, workerID, result, tq.now())
	if err != nil {
		return tq.transitionError("complete", itemID, workerID, err)
	}

	tq.metrics.IncCompletion()
	tq.logger.Info("Work item completed",
		"item_id", item.ID,
		"worker_id", workerID,
		"retry_count", item.RetryCount,
	)
	return nil
}

// Fail releases a leased item. It is requeued with retry_count+1 after the
// policy's backoff, or dead-lettered once the budget is exhausted.
func (tq *TaskQueue) Fail(ctx context.Context, itemID, workerID, reason string) error {
	now := tq.now()
	availableAt := now
	if current, err := tq.storage.Get(ctx, itemID); err == nil && current != nil {
		policy := retry.PolicyFromConfig(tq.cfg.Current().Queue)
		availableAt = now.Add(policy.CalculateDelay(current.RetryCount + 1))
	}

	item, err := tq.storage.Release(ctx, itemID, workerID, reason, availableAt)
	if err != nil {
		return tq.transitionError("fail", itemID, workerID, err)
	}

	tq.metrics.IncFailure()
	tq.afterRelease(ctx, item, "failed")
	return nil
}

// Get returns an item by id. Returns nil, nil if unknown.
func (tq *TaskQueue) Get(ctx context.Context, itemID string) (*types.WorkItem, error) {
	return tq.storage.Get(ctx, itemID)
}

// DeadLetters lists items that exhausted their retry budget
func (tq *TaskQueue) DeadLetters(ctx context.Context) ([]*types.WorkItem, error) {
	return tq.storage.ListByStatus(ctx, types.WorkDeadLettered)
}

// Stats returns per-tier queue statistics
func (tq *TaskQueue) Stats(ctx context.Context) (*QueueStats, error) {
	return tq.storage.Stats(ctx, tq.now())
}

// ReapExpiredLeases runs one lease sweep immediately
func (tq *TaskQueue) ReapExpiredLeases(ctx context.Context) (int, error) {
	return tq.reaper.Sweep(ctx)
}

func (tq *TaskQueue) onLeaseExpired(ctx context.Context, item *types.WorkItem) {
	tq.afterRelease(ctx, item, "lease_expired")
}

func (tq *TaskQueue) afterRelease(ctx context.Context, item *types.WorkItem, reason string) {
	if item.Status != types.WorkDeadLettered {
		tq.metrics.IncRequeue(reason)
		tq.logger.Info("Work item requeued",
			"item_id", item.ID,
			"reason", reason,
			"retry_count", item.RetryCount,
			"max_retries", item.MaxRetries,
			"available_at", item.AvailableAt,
		)
		return
	}

	tq.metrics.IncDeadLetter()
	tq.logger.Warn("Work item dead-lettered",
		"item_id", item.ID,
		"task_id", item.TaskID,
		"reason", reason,
		"retry_count", item.RetryCount,
		"last_error", item.LastError,
	)
	if tq.deadLetters != nil {
		tq.deadLetters.Report(ctx, item)
	}
}

func (tq *TaskQueue) transitionError(op, itemID, workerID string, err error) error {
	if errors.Is(err, storage.ErrNotLeased) || errors.Is(err, storage.ErrNotFound) {
		tq.metrics.IncStaleOperation(op)
		tq.logger.Warn("Stale work item operation",
			"op", op,
			"item_id", itemID,
			"worker_id", workerID,
			"error", err,
		)
		return fmt.Errorf("%w: %s %s: %v", ErrStaleOperation, op, itemID, err)
	}
	return fmt.Errorf("failed to %s work item %s: %w", op, itemID, err)
}
