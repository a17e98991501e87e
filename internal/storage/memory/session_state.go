package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
	"github.com/AltairaLabs/agentvine/internal/types"
)

var (
	errSessionNil     = errors.New("session cannot be nil")
	errSessionIDEmpty = errors.New("session ID cannot be empty")
	errWorkerIDEmpty  = errors.New("worker ID cannot be empty")
)

// InMemorySessionStorage implements storage.SessionStorage using in-memory maps
type InMemorySessionStorage struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	byWorker map[string]string // workerID -> non-terminated sessionID
}

// NewInMemorySessionStorage creates a new in-memory session storage
func NewInMemorySessionStorage() *InMemorySessionStorage {
	return &InMemorySessionStorage{
		sessions: make(map[string]*types.Session),
		byWorker: make(map[string]string),
	}
}

// Create stores a new session
func (s *InMemorySessionStorage) Create(ctx context.Context, session *types.Session) error {
	if session == nil {
		return errSessionNil
	}
	if session.ID == "" {
		return errSessionIDEmpty
	}
	if session.WorkerID == "" {
		return errWorkerIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("session %s: %w", session.ID, storage.ErrAlreadyExists)
	}

	// Store a copy to prevent external modifications
	s.sessions[session.ID] = session.Clone()
	if !session.Terminated() {
		s.byWorker[session.WorkerID] = session.ID
	}
	return nil
}

// Get retrieves a session by ID
func (s *InMemorySessionStorage) Get(ctx context.Context, id string) (*types.Session, error) {
	if id == "" {
		return nil, errSessionIDEmpty
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[id]
	if !exists {
		return nil, nil
	}
	return session.Clone(), nil
}

// Update applies fn to a copy and commits it only if fn succeeds
func (s *InMemorySessionStorage) Update(
	ctx context.Context,
	id string,
	fn func(*types.Session) error,
) (*types.Session, error) {
	if id == "" {
		return nil, errSessionIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.sessions[id]
	if !exists {
		return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.WorkerID = current.WorkerID

	s.sessions[id] = next
	if next.Terminated() && s.byWorker[next.WorkerID] == id {
		delete(s.byWorker, next.WorkerID)
	}
	return next.Clone(), nil
}

// CurrentForWorker returns the worker's non-terminated session
func (s *InMemorySessionStorage) CurrentForWorker(ctx context.Context, workerID string) (*types.Session, error) {
	if workerID == "" {
		return nil, errWorkerIDEmpty
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byWorker[workerID]
	if !exists {
		return nil, nil
	}
	return s.sessions[id].Clone(), nil
}

// List returns sessions matching the filter ordered by creation time
func (s *InMemorySessionStorage) List(ctx context.Context, filter storage.SessionFilter) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*types.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		if filter.WorkerID != "" && session.WorkerID != filter.WorkerID {
			continue
		}
		if filter.State != "" && session.State != filter.State {
			continue
		}
		result = append(result, session.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Delete removes a session permanently
func (s *InMemorySessionStorage) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errSessionIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[id]
	if !exists {
		return nil
	}
	if s.byWorker[session.WorkerID] == id {
		delete(s.byWorker, session.WorkerID)
	}
	delete(s.sessions, id)
	return nil
}
