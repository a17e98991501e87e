// Package types provides shared types used across the agentvine codebase
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority is the queue tier a work item is enqueued on
type Priority string

const (
	PriorityHigh    Priority = "high"
	PriorityDefault Priority = "default"
	PriorityLow     Priority = "low"
)

// ClaimOrder is the strict order in which tiers are drained
var ClaimOrder = []Priority{PriorityHigh, PriorityDefault, PriorityLow}

// ParsePriority validates a tier name. An empty string maps to the default tier.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityHigh, PriorityDefault, PriorityLow:
		return Priority(s), nil
	case "":
		return PriorityDefault, nil
	default:
		return "", fmt.Errorf("unknown priority %q", s)
	}
}

// WorkStatus is the lifecycle state of a work item
type WorkStatus string

const (
	WorkQueued       WorkStatus = "queued"
	WorkLeased       WorkStatus = "leased"
	WorkCompleted    WorkStatus = "completed"
	WorkDeadLettered WorkStatus = "dead_lettered"
)

// NoRetries requests a zero retry budget at enqueue. A MaxRetries of 0 takes
// the configured default instead.
const NoRetries = -1

// WorkItem is a unit of distributable work
type WorkItem struct {
	ID            string          `json:"id"`
	TaskID        string          `json:"task_id,omitempty"`
	Priority      Priority        `json:"priority"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Capabilities  []string        `json:"capabilities,omitempty"`
	MaxRetries    int             `json:"max_retries"`
	RetryCount    int             `json:"retry_count"`
	Status        WorkStatus      `json:"status"`
	Sequence      uint64          `json:"sequence"`
	LeaseOwner    string          `json:"lease_owner,omitempty"`
	LeaseDeadline *time.Time      `json:"lease_deadline,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	AvailableAt   time.Time       `json:"available_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate stored state
func (w *WorkItem) Clone() *WorkItem {
	if w == nil {
		return nil
	}
	c := *w
	c.Payload = append(json.RawMessage(nil), w.Payload...)
	c.Result = append(json.RawMessage(nil), w.Result...)
	c.Capabilities = append([]string(nil), w.Capabilities...)
	if w.LeaseDeadline != nil {
		t := *w.LeaseDeadline
		c.LeaseDeadline = &t
	}
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Eligible reports whether a worker offering caps can serve the item.
// Items without requirements are eligible for every worker.
func (w *WorkItem) Eligible(caps []string) bool {
	if len(w.Capabilities) == 0 {
		return true
	}
	offered := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		offered[c] = struct{}{}
	}
	for _, req := range w.Capabilities {
		if _, ok := offered[req]; !ok {
			return false
		}
	}
	return true
}

// TaskPriority is the importance of a task as recorded by the task store
type TaskPriority string

const (
	TaskPriorityLow      TaskPriority = "low"
	TaskPriorityNormal   TaskPriority = "normal"
	TaskPriorityHigh     TaskPriority = "high"
	TaskPriorityCritical TaskPriority = "critical"
)

// Valid reports whether p is a known task priority
func (p TaskPriority) Valid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityNormal, TaskPriorityHigh, TaskPriorityCritical:
		return true
	}
	return false
}

// TaskContext is the read-only view of a task the core routes against
type TaskContext struct {
	Type        string       `json:"type"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	RepoRef     string       `json:"repo_ref"`
	Priority    TaskPriority `json:"priority"`
}
