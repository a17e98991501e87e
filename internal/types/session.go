package types

import "time"

// SessionState is the lifecycle state of a worker session
type SessionState string

const (
	SessionActive     SessionState = "active"
	SessionIdle       SessionState = "idle"
	SessionTerminated SessionState = "terminated"
)

// TerminationCause records why a session was terminated
type TerminationCause string

const (
	CauseNone           TerminationCause = ""
	CauseIdleTimeout    TerminationCause = "idle_timeout"
	CauseMaxAge         TerminationCause = "max_age"
	CauseWorkerShutdown TerminationCause = "worker_shutdown"
	CauseSuperseded     TerminationCause = "superseded"
)

// Session is a worker's live execution context, optionally bound to a task
type Session struct {
	ID               string           `json:"id"`
	WorkerID         string           `json:"worker_id"`
	TaskID           string           `json:"task_id,omitempty"`
	TaskType         string           `json:"task_type,omitempty"`
	State            SessionState     `json:"state"`
	CreatedAt        time.Time        `json:"created_at"`
	LastActivity     time.Time        `json:"last_activity"`
	TerminatedAt     *time.Time       `json:"terminated_at,omitempty"`
	TerminationCause TerminationCause `json:"termination_cause,omitempty"`
}

// Clone returns a copy of the session
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.TerminatedAt != nil {
		t := *s.TerminatedAt
		c.TerminatedAt = &t
	}
	return &c
}

// Terminated reports whether the session reached its terminal state
func (s *Session) Terminated() bool {
	return s.State == SessionTerminated
}
