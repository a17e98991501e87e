package types

import (
	"errors"
	"time"
)

// RequestKind classifies a worker question
type RequestKind string

const (
	KindClarification RequestKind = "clarification"
	KindApproval      RequestKind = "approval"
	KindGuidance      RequestKind = "guidance"
	KindError         RequestKind = "error"
	KindStatus        RequestKind = "status"
)

// PermissionLevel is how much autonomy the worker was granted for a request
type PermissionLevel string

const (
	PermissionAutonomous    PermissionLevel = "autonomous"
	PermissionSupervised    PermissionLevel = "supervised"
	PermissionHumanRequired PermissionLevel = "human_required"
)

// GeneratedBy identifies which arm produced a response
type GeneratedBy string

const (
	GeneratedByAutomated GeneratedBy = "automated"
	GeneratedByHuman     GeneratedBy = "human"
	GeneratedBySystem    GeneratedBy = "system"
)

// Route is the outcome of a routing decision
type Route string

const (
	RouteAutomated Route = "automated"
	RouteHuman     Route = "human"
)

// RequestMessage is a worker's mid-task question
type RequestMessage struct {
	ID              string          `json:"id"`
	WorkerID        string          `json:"worker_id"`
	SessionID       string          `json:"session_id"`
	TaskID          string          `json:"task_id"`
	Kind            RequestKind     `json:"kind"`
	PermissionLevel PermissionLevel `json:"permission_level"`
	Content         string          `json:"content"`
	ThreadID        string          `json:"thread_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

// Errors returned by RequestMessage.Validate
var (
	ErrMissingWorkerID  = errors.New("request is missing worker id")
	ErrMissingSessionID = errors.New("request is missing session id")
	ErrMissingTaskID    = errors.New("request is missing task id")
)

// Validate checks the correlation fields every request must carry
func (r *RequestMessage) Validate() error {
	switch {
	case r.WorkerID == "":
		return ErrMissingWorkerID
	case r.SessionID == "":
		return ErrMissingSessionID
	case r.TaskID == "":
		return ErrMissingTaskID
	}
	return nil
}

// ResponseMessage is the single answer delivered for a request
type ResponseMessage struct {
	ID          string      `json:"id"`
	InReplyTo   string      `json:"in_reply_to"`
	Content     string      `json:"content"`
	GeneratedBy GeneratedBy `json:"generated_by"`
	ResponderID string      `json:"responder_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// RoutingDecision is the transient outcome of the policy engine
type RoutingDecision struct {
	Route     Route    `json:"route"`
	Rule      string   `json:"rule"`
	Rationale []string `json:"rationale"`
}
