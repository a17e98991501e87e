// Package session implements the session registry: the only component that
// creates, reuses and terminates worker sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/config"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/metrics"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
	"github.com/AltairaLabs/agentvine/internal/types"
)

// Errors returned by the registry
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionTerminated = errors.New("session terminated")
	errWorkerIDEmpty     = errors.New("worker ID cannot be empty")
)

// Hints tune CreateOrReuse
type Hints struct {
	ReuseForSimilarTask bool
}

// CompatibleFunc reports whether a session that ran a task of type prev may
// be reused for a task of type next
type CompatibleFunc func(prev, next string) bool

// SameTaskType is the default compatibility relation
func SameTaskType(prev, next string) bool {
	return prev == next
}

// Options holds the optional collaborators of a Registry
type Options struct {
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Compatible CompatibleFunc
}

// Registry owns the session arena. Sessions are only mutated through its methods.
type Registry struct {
	store      storage.SessionStorage
	tasks      storage.TaskContextStore
	cfg        config.Source
	compatible CompatibleFunc
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	// createMu serializes the check-then-create in CreateOrReuse so a worker
	// never ends up with two live sessions
	createMu sync.Mutex
}

// NewRegistry creates a session registry. tasks may be nil, in which case
// every task has an empty type.
func NewRegistry(store storage.SessionStorage, tasks storage.TaskContextStore, cfg config.Source, opts Options) *Registry {
	if cfg == nil {
		cfg = config.Static(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	compatible := opts.Compatible
	if compatible == nil {
		compatible = SameTaskType
	}
	return &Registry{
		store:      store,
		tasks:      tasks,
		cfg:        cfg,
		compatible: compatible,
		logger:     logger,
		metrics:    opts.Metrics,
		now:        time.Now,
	}
}

// CreateOrReuse returns the session workerID should run taskID in. The bool
// result reports whether an existing session was reused.
func (r *Registry) CreateOrReuse(ctx context.Context, workerID, taskID string, hints Hints) (*types.Session, bool, error) {
	if workerID == "" {
		return nil, false, errWorkerIDEmpty
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	now := r.now()
	taskType := r.taskType(ctx, taskID)

	prev, err := r.store.CurrentForWorker(ctx, workerID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up worker session: %w", err)
	}

	if prev != nil {
		if r.reusable(prev, taskID, taskType, hints, now) {
			s, err := r.store.Update(ctx, prev.ID, func(s *types.Session) error {
				if s.Terminated() {
					return ErrSessionTerminated
				}
				s.TaskID = taskID
				s.TaskType = taskType
				s.State = types.SessionActive
				s.LastActivity = now
				return nil
			})
			if err == nil {
				r.metrics.IncSessionCreated(true)
				r.logger.Info("Session reused",
					"session_id", s.ID,
					"worker_id", workerID,
					"task_id", taskID,
					"task_type", taskType,
				)
				return s, true, nil
			}
			if !errors.Is(err, ErrSessionTerminated) {
				return nil, false, fmt.Errorf("failed to rebind session: %w", err)
			}
		} else if err := r.Terminate(ctx, prev.ID, types.CauseSuperseded); err != nil {
			return nil, false, err
		}
	}

	s := &types.Session{
		ID:           uuid.NewString(),
		WorkerID:     workerID,
		TaskID:       taskID,
		TaskType:     taskType,
		State:        types.SessionActive,
		CreatedAt:    now,
		LastActivity: now,
	}
	if taskID == "" {
		s.State = types.SessionIdle
	}
	if err := r.store.Create(ctx, s); err != nil {
		return nil, false, fmt.Errorf("failed to create session: %w", err)
	}

	r.metrics.IncSessionCreated(false)
	r.logger.Info("Session created",
		"session_id", s.ID,
		"worker_id", workerID,
		"task_id", taskID,
		"task_type", taskType,
	)
	return s.Clone(), false, nil
}

// reusable decides whether prev may serve taskID. The same task always stays
// on its session while the session is within policy. An unknown task type is
// never compatible with anything.
func (r *Registry) reusable(prev *types.Session, taskID, taskType string, hints Hints, now time.Time) bool {
	if expired, _ := r.ShouldTerminate(prev, now); expired {
		return false
	}
	if taskID != "" && prev.TaskID == taskID {
		return true
	}
	if !hints.ReuseForSimilarTask || prev.TaskType == "" || taskType == "" {
		return false
	}
	return r.compatible(prev.TaskType, taskType)
}

func (r *Registry) taskType(ctx context.Context, taskID string) string {
	if taskID == "" || r.tasks == nil {
		return ""
	}
	tc, err := r.tasks.GetTaskContext(ctx, taskID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("Failed to load task context", "task_id", taskID, "error", err)
		}
		return ""
	}
	return tc.Type
}

// Heartbeat records activity on a session. If the session had already
// exceeded policy it is terminated and ErrSessionTerminated is returned.
func (r *Registry) Heartbeat(ctx context.Context, sessionID string) error {
	now := r.now()
	var cause types.TerminationCause

	_, err := r.store.Update(ctx, sessionID, func(s *types.Session) error {
		if s.Terminated() {
			return ErrSessionTerminated
		}
		expired, c := r.ShouldTerminate(s, now)
		s.LastActivity = now
		if expired {
			cause = c
			terminate(s, c, now)
		}
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return err
	}

	if cause != types.CauseNone {
		r.recordTermination(sessionID, cause)
		return fmt.Errorf("%w: %s", ErrSessionTerminated, cause)
	}
	return nil
}

// ShouldTerminate applies the lifecycle policy. Idle timeout is checked
// before max age so it is reported as the cause when both apply.
func (r *Registry) ShouldTerminate(s *types.Session, now time.Time) (bool, types.TerminationCause) {
	if s == nil || s.Terminated() {
		return false, types.CauseNone
	}
	cfg := r.cfg.Current().Session
	if now.Sub(s.LastActivity) > cfg.IdleTimeout {
		return true, types.CauseIdleTimeout
	}
	if now.Sub(s.CreatedAt) > cfg.MaxAge {
		return true, types.CauseMaxAge
	}
	return false, types.CauseNone
}

// Terminate ends a session. Terminating an already terminated session is a
// no-op. Any attached work item is left to its lease.
func (r *Registry) Terminate(ctx context.Context, sessionID string, cause types.TerminationCause) error {
	now := r.now()
	changed := false

	_, err := r.store.Update(ctx, sessionID, func(s *types.Session) error {
		if s.Terminated() {
			return nil
		}
		terminate(s, cause, now)
		changed = true
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to terminate session: %w", err)
	}

	if changed {
		r.recordTermination(sessionID, cause)
	}
	return nil
}

// Release detaches the task from an active session after it finished. The
// task type is kept so the session can be reused for a similar task.
func (r *Registry) Release(ctx context.Context, sessionID string) error {
	now := r.now()
	_, err := r.store.Update(ctx, sessionID, func(s *types.Session) error {
		if s.Terminated() {
			return ErrSessionTerminated
		}
		s.TaskID = ""
		s.State = types.SessionIdle
		s.LastActivity = now
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return err
}

// Get returns a copy of a session. Returns nil, nil if unknown.
func (r *Registry) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	return r.store.Get(ctx, sessionID)
}

// List returns copies of the sessions matching filter
func (r *Registry) List(ctx context.Context, filter storage.SessionFilter) ([]*types.Session, error) {
	return r.store.List(ctx, filter)
}

func (r *Registry) recordTermination(sessionID string, cause types.TerminationCause) {
	r.metrics.IncSessionTerminated(string(cause))
	r.logger.Info("Session terminated", "session_id", sessionID, "cause", cause)
}

func terminate(s *types.Session, cause types.TerminationCause, now time.Time) {
	at := now
	s.State = types.SessionTerminated
	s.TerminatedAt = &at
	s.TerminationCause = cause
}
