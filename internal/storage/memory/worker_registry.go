package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
)

var errHeartbeatNil = errors.New("heartbeat cannot be nil")

// InMemoryWorkerLivenessStorage implements WorkerLivenessStorage using an in-memory map
type InMemoryWorkerLivenessStorage struct {
	mu      sync.RWMutex
	workers map[string]*storage.WorkerHeartbeat
	now     func() time.Time
}

// NewInMemoryWorkerLivenessStorage creates a new in-memory worker liveness storage
func NewInMemoryWorkerLivenessStorage() *InMemoryWorkerLivenessStorage {
	return &InMemoryWorkerLivenessStorage{
		workers: make(map[string]*storage.WorkerHeartbeat),
		now:     time.Now,
	}
}

func copyHeartbeat(hb *storage.WorkerHeartbeat) *storage.WorkerHeartbeat {
	c := *hb
	if hb.Metrics != nil {
		c.Metrics = make(map[string]float64, len(hb.Metrics))
		for k, v := range hb.Metrics {
			c.Metrics[k] = v
		}
	}
	return &c
}

// RecordHeartbeat upserts a worker's liveness report
func (s *InMemoryWorkerLivenessStorage) RecordHeartbeat(ctx context.Context, hb *storage.WorkerHeartbeat) error {
	if hb == nil {
		return errHeartbeatNil
	}
	if hb.WorkerID == "" {
		return errWorkerIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external modifications
	stored := copyHeartbeat(hb)
	if stored.LastHeartbeat.IsZero() {
		stored.LastHeartbeat = s.now()
	}
	if existing, exists := s.workers[hb.WorkerID]; exists {
		stored.FirstSeen = existing.FirstSeen
	} else if stored.FirstSeen.IsZero() {
		stored.FirstSeen = stored.LastHeartbeat
	}

	s.workers[hb.WorkerID] = stored
	return nil
}

// GetWorker retrieves a worker by ID
func (s *InMemoryWorkerLivenessStorage) GetWorker(ctx context.Context, workerID string) (*storage.WorkerHeartbeat, error) {
	if workerID == "" {
		return nil, errWorkerIDEmpty
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hb, exists := s.workers[workerID]
	if !exists {
		return nil, nil
	}
	return copyHeartbeat(hb), nil
}

// ListWorkers returns all known workers ordered by ID
func (s *InMemoryWorkerLivenessStorage) ListWorkers(ctx context.Context) ([]*storage.WorkerHeartbeat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*storage.WorkerHeartbeat, 0, len(s.workers))
	for _, hb := range s.workers {
		result = append(result, copyHeartbeat(hb))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].WorkerID < result[j].WorkerID })
	return result, nil
}

// ListStaleWorkers returns workers that haven't sent heartbeat within timeout
func (s *InMemoryWorkerLivenessStorage) ListStaleWorkers(
	ctx context.Context,
	timeout time.Duration,
) ([]*storage.WorkerHeartbeat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-timeout)
	result := make([]*storage.WorkerHeartbeat, 0)
	for _, hb := range s.workers {
		if hb.LastHeartbeat.Before(cutoff) {
			result = append(result, copyHeartbeat(hb))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].WorkerID < result[j].WorkerID })
	return result, nil
}

// RemoveWorker forgets a worker
func (s *InMemoryWorkerLivenessStorage) RemoveWorker(ctx context.Context, workerID string) error {
	if workerID == "" {
		return errWorkerIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Idempotent - no error if worker doesn't exist
	delete(s.workers, workerID)
	return nil
}
