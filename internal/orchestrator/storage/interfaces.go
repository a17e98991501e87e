package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/AltairaLabs/agentvine/internal/types"
)

// Errors shared by storage backends
var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrNotLeased is returned when a lease-guarded transition loses its compare-and-set
	ErrNotLeased = errors.New("work item is not leased by this owner")
	// ErrAlreadyExists is returned when enqueuing a duplicate id
	ErrAlreadyExists = errors.New("already exists")
)

// QueueStats provides statistics about the work queue
type QueueStats struct {
	PendingByTier map[types.Priority]int // Queued items per tier, including ones waiting on retry backoff
	Leased        int                    // Items currently leased
	Completed     int                    // Items completed
	DeadLettered  int                    // Items that exhausted their retry budget
	OldestPending time.Duration          // Age of the oldest queued item
}

// ClaimRequest describes one atomic claim attempt against a single tier
type ClaimRequest struct {
	Tier         types.Priority
	WorkerID     string
	Capabilities []string
	Now          time.Time
	Deadline     time.Time
}

// WorkQueueStorage defines the interface for pluggable work queue backends.
// Every state transition is a compare-and-set; callers never lock.
type WorkQueueStorage interface {
	// Enqueue adds an item to its tier. Storage assigns the sequence number.
	// Returns ErrAlreadyExists for a duplicate id
	Enqueue(ctx context.Context, item *types.WorkItem) error

	// ClaimNext atomically leases the oldest eligible queued item of the tier.
	// Returns nil, nil if no item is eligible
	ClaimNext(ctx context.Context, req ClaimRequest) (*types.WorkItem, error)

	// Complete marks a leased item completed and releases the lease.
	// An empty owner matches any lease holder.
	// Returns ErrNotLeased if the item is not leased by owner, ErrNotFound if unknown
	Complete(ctx context.Context, id, owner string, result json.RawMessage, now time.Time) (*types.WorkItem, error)

	// Release returns a leased item to its tier with RetryCount+1, available from
	// availableAt. When the incremented count exceeds MaxRetries the item is
	// dead-lettered instead. Returns the updated item
	Release(ctx context.Context, id, owner, reason string, availableAt time.Time) (*types.WorkItem, error)

	// ExpireLeases releases up to limit items whose lease deadline is before now,
	// with the same budget rule as Release. Returns the updated items
	ExpireLeases(ctx context.Context, now time.Time, limit int) ([]*types.WorkItem, error)

	// Get retrieves a specific item by ID
	// Returns nil, nil if item not found
	Get(ctx context.Context, id string) (*types.WorkItem, error)

	// ListByStatus returns items in the given status ordered by sequence
	ListByStatus(ctx context.Context, status types.WorkStatus) ([]*types.WorkItem, error)

	// Stats returns statistics about the queue
	Stats(ctx context.Context, now time.Time) (*QueueStats, error)
}

// SessionFilter narrows session listings. Zero values match everything
type SessionFilter struct {
	WorkerID string
	State    types.SessionState
}

// SessionStorage defines the interface for session arena backends.
// It is only ever mutated through the session registry.
type SessionStorage interface {
	// Create stores a new session
	// Returns ErrAlreadyExists for a duplicate id
	Create(ctx context.Context, session *types.Session) error

	// Get retrieves a session by ID
	// Returns nil, nil if session not found
	Get(ctx context.Context, id string) (*types.Session, error)

	// Update applies fn to the stored session atomically and returns the result.
	// If fn returns an error nothing is written
	// Returns ErrNotFound if the session does not exist
	Update(ctx context.Context, id string, fn func(*types.Session) error) (*types.Session, error)

	// CurrentForWorker returns the worker's non-terminated session
	// Returns nil, nil if the worker has none
	CurrentForWorker(ctx context.Context, workerID string) (*types.Session, error)

	// List returns sessions matching the filter ordered by creation time
	List(ctx context.Context, filter SessionFilter) ([]*types.Session, error)

	// Delete removes a session permanently
	Delete(ctx context.Context, id string) error
}

// WorkerHeartbeat is the last liveness report received from a worker
type WorkerHeartbeat struct {
	WorkerID      string
	SessionID     string
	Metrics       map[string]float64
	FirstSeen     time.Time
	LastHeartbeat time.Time
}

// WorkerLivenessStorage records worker heartbeats for operators
type WorkerLivenessStorage interface {
	// RecordHeartbeat upserts a worker's liveness report.
	// FirstSeen is preserved for known workers
	RecordHeartbeat(ctx context.Context, hb *WorkerHeartbeat) error

	// GetWorker retrieves a worker by ID
	// Returns nil, nil if worker not found
	GetWorker(ctx context.Context, workerID string) (*WorkerHeartbeat, error)

	// ListWorkers returns all known workers
	ListWorkers(ctx context.Context) ([]*WorkerHeartbeat, error)

	// ListStaleWorkers returns workers that haven't sent heartbeat within timeout
	ListStaleWorkers(ctx context.Context, timeout time.Duration) ([]*WorkerHeartbeat, error)

	// RemoveWorker forgets a worker. No error if already removed
	RemoveWorker(ctx context.Context, workerID string) error
}

// TaskContextStore is the read-only view of the external task store
type TaskContextStore interface {
	// GetTaskContext returns the routing-relevant fields of a task
	// Returns ErrNotFound if the task is unknown
	GetTaskContext(ctx context.Context, taskID string) (*types.TaskContext, error)
}

// TaskContextWriter records the task context announced alongside enqueued work
type TaskContextWriter interface {
	// PutTaskContext records or replaces a task's context
	PutTaskContext(ctx context.Context, taskID string, tc *types.TaskContext) error
}
