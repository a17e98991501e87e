package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
	"github.com/AltairaLabs/agentvine/internal/types"
)

var (
	errItemNil     = errors.New("work item cannot be nil")
	errItemIDEmpty = errors.New("work item ID cannot be empty")
)

// InMemoryWorkQueueStorage implements WorkQueueStorage using in-memory maps.
// A claim pops and leases under one critical section.
type InMemoryWorkQueueStorage struct {
	mu       sync.Mutex
	items    map[string]*types.WorkItem  // itemID -> item
	tiers    map[types.Priority][]string // tier -> queued itemIDs ordered by sequence
	sequence uint64
	maxSize  int // Maximum non-terminal items
}

// NewInMemoryWorkQueueStorage creates a new in-memory work queue storage
func NewInMemoryWorkQueueStorage(maxSize int) *InMemoryWorkQueueStorage {
	if maxSize <= 0 {
		maxSize = 100000 // Default: 100k items
	}

	return &InMemoryWorkQueueStorage{
		items:   make(map[string]*types.WorkItem),
		tiers:   make(map[types.Priority][]string),
		maxSize: maxSize,
	}
}

// Enqueue adds an item to its tier
func (s *InMemoryWorkQueueStorage) Enqueue(ctx context.Context, item *types.WorkItem) error {
	if item == nil {
		return errItemNil
	}
	if item.ID == "" {
		return errItemIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.ID]; exists {
		return fmt.Errorf("work item %s: %w", item.ID, storage.ErrAlreadyExists)
	}
	if s.liveCount() >= s.maxSize {
		return fmt.Errorf("queue full: max %d items", s.maxSize)
	}

	s.sequence++
	stored := item.Clone()
	stored.Sequence = s.sequence
	stored.Status = types.WorkQueued
	stored.LeaseOwner = ""
	stored.LeaseDeadline = nil
	s.items[stored.ID] = stored
	s.tiers[stored.Priority] = append(s.tiers[stored.Priority], stored.ID)

	item.Sequence = stored.Sequence
	item.Status = stored.Status
	return nil
}

// ClaimNext leases the oldest eligible queued item of a tier
func (s *InMemoryWorkQueueStorage) ClaimNext(ctx context.Context, req storage.ClaimRequest) (*types.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.tiers[req.Tier]
	for i, id := range queue {
		item := s.items[id]
		if item == nil || item.Status != types.WorkQueued {
			continue
		}
		if item.AvailableAt.After(req.Now) || !item.Eligible(req.Capabilities) {
			continue
		}

		s.tiers[req.Tier] = append(queue[:i:i], queue[i+1:]...)

		deadline := req.Deadline
		item.Status = types.WorkLeased
		item.LeaseOwner = req.WorkerID
		item.LeaseDeadline = &deadline
		return item.Clone(), nil
	}

	return nil, nil
}

// Complete marks a leased item completed
func (s *InMemoryWorkQueueStorage) Complete(
	ctx context.Context,
	id, owner string,
	result json.RawMessage,
	now time.Time,
) (*types.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.leasedBy(id, owner)
	if err != nil {
		return nil, err
	}

	completedAt := now
	item.Status = types.WorkCompleted
	item.Result = append(json.RawMessage(nil), result...)
	item.CompletedAt = &completedAt
	item.LeaseDeadline = nil
	return item.Clone(), nil
}

// Release returns a leased item to its tier or dead-letters it
func (s *InMemoryWorkQueueStorage) Release(
	ctx context.Context,
	id, owner, reason string,
	availableAt time.Time,
) (*types.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.leasedBy(id, owner)
	if err != nil {
		return nil, err
	}

	s.release(item, reason, availableAt)
	return item.Clone(), nil
}

// ExpireLeases releases items whose lease deadline passed
func (s *InMemoryWorkQueueStorage) ExpireLeases(ctx context.Context, now time.Time, limit int) ([]*types.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := make([]*types.WorkItem, 0)
	for _, item := range s.items {
		if item.Status == types.WorkLeased && item.LeaseDeadline != nil && item.LeaseDeadline.Before(now) {
			expired = append(expired, item)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].Sequence < expired[j].Sequence })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	result := make([]*types.WorkItem, 0, len(expired))
	for _, item := range expired {
		s.release(item, "lease expired", now)
		result = append(result, item.Clone())
	}
	return result, nil
}

// Get retrieves a specific item by ID
func (s *InMemoryWorkQueueStorage) Get(ctx context.Context, id string) (*types.WorkItem, error) {
	if id == "" {
		return nil, errItemIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.items[id]
	if !exists {
		return nil, nil
	}
	return item.Clone(), nil
}

// ListByStatus returns items in the given status ordered by sequence
func (s *InMemoryWorkQueueStorage) ListByStatus(ctx context.Context, status types.WorkStatus) ([]*types.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*types.WorkItem, 0)
	for _, item := range s.items {
		if item.Status == status {
			result = append(result, item.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Sequence < result[j].Sequence })
	return result, nil
}

// Stats returns statistics about the queue
func (s *InMemoryWorkQueueStorage) Stats(ctx context.Context, now time.Time) (*storage.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &storage.QueueStats{
		PendingByTier: make(map[types.Priority]int, len(types.ClaimOrder)),
	}
	for _, tier := range types.ClaimOrder {
		stats.PendingByTier[tier] = 0
	}

	var oldest time.Time
	for _, item := range s.items {
		switch item.Status {
		case types.WorkQueued:
			stats.PendingByTier[item.Priority]++
			if oldest.IsZero() || item.EnqueuedAt.Before(oldest) {
				oldest = item.EnqueuedAt
			}
		case types.WorkLeased:
			stats.Leased++
		case types.WorkCompleted:
			stats.Completed++
		case types.WorkDeadLettered:
			stats.DeadLettered++
		}
	}
	if !oldest.IsZero() {
		stats.OldestPending = now.Sub(oldest)
	}
	return stats, nil
}

// leasedBy must be called with s.mu held
func (s *InMemoryWorkQueueStorage) leasedBy(id, owner string) (*types.WorkItem, error) {
	item, exists := s.items[id]
	if !exists {
		return nil, fmt.Errorf("work item %s: %w", id, storage.ErrNotFound)
	}
	if item.Status != types.WorkLeased || (owner != "" && item.LeaseOwner != owner) {
		return nil, fmt.Errorf("work item %s is %s: %w", id, item.Status, storage.ErrNotLeased)
	}
	return item, nil
}

// release must be called with s.mu held
func (s *InMemoryWorkQueueStorage) release(item *types.WorkItem, reason string, availableAt time.Time) {
	item.RetryCount++
	item.LastError = reason
	item.LeaseOwner = ""
	item.LeaseDeadline = nil

	if item.RetryCount > item.MaxRetries {
		item.Status = types.WorkDeadLettered
		return
	}

	item.Status = types.WorkQueued
	item.AvailableAt = availableAt
	s.insertQueued(item)
}

// insertQueued keeps the tier ordered by sequence, so a requeued item keeps
// its original place ahead of younger items
func (s *InMemoryWorkQueueStorage) insertQueued(item *types.WorkItem) {
	queue := s.tiers[item.Priority]
	idx := sort.Search(len(queue), func(i int) bool {
		other := s.items[queue[i]]
		return other != nil && other.Sequence > item.Sequence
	})
	queue = append(queue, "")
	copy(queue[idx+1:], queue[idx:])
	queue[idx] = item.ID
	s.tiers[item.Priority] = queue
}

func (s *InMemoryWorkQueueStorage) liveCount() int {
	n := 0
	for _, item := range s.items {
		if item.Status == types.WorkQueued || item.Status == types.WorkLeased {
			n++
		}
	}
	return n
}
