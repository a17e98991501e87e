package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
	"github.com/AltairaLabs/agentvine/internal/types"
)

// InMemoryTaskContextStore implements storage.TaskContextStore and
// storage.TaskContextWriter. Records arrive with enqueued work.
type InMemoryTaskContextStore struct {
	mu    sync.RWMutex
	tasks map[string]types.TaskContext
}

// NewInMemoryTaskContextStore creates an empty task context store
func NewInMemoryTaskContextStore() *InMemoryTaskContextStore {
	return &InMemoryTaskContextStore{tasks: make(map[string]types.TaskContext)}
}

// Put records or replaces a task's context
func (s *InMemoryTaskContextStore) Put(taskID string, tc types.TaskContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[taskID] = tc
}

// PutTaskContext records or replaces a task's context
func (s *InMemoryTaskContextStore) PutTaskContext(ctx context.Context, taskID string, tc *types.TaskContext) error {
	if taskID == "" {
		return fmt.Errorf("task id is required")
	}
	if tc == nil {
		return fmt.Errorf("task %s: context is nil", taskID)
	}
	s.Put(taskID, *tc)
	return nil
}

// GetTaskContext returns a copy of the task's context
func (s *InMemoryTaskContextStore) GetTaskContext(ctx context.Context, taskID string) (*types.TaskContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tc, exists := s.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("task %s: %w", taskID, storage.ErrNotFound)
	}
	return &tc, nil
}
