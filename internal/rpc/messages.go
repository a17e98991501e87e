package rpc

import (
	"encoding/json"

	"github.com/AltairaLabs/agentvine/internal/types"
)

// EnqueueRequest adds a work item. Task, when set, is recorded as the
// context of Item.TaskID for routing and session reuse.
type EnqueueRequest struct {
	Item *types.WorkItem    `json:"item"`
	Task *types.TaskContext `json:"task,omitempty"`
}

// EnqueueResponse returns the stored item
type EnqueueResponse struct {
	Item *types.WorkItem `json:"item"`
}

// ClaimRequest asks for the next eligible work item
type ClaimRequest struct {
	WorkerID     string   `json:"worker_id"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// ClaimResponse carries the leased item, or nil when the queue is empty
type ClaimResponse struct {
	Item *types.WorkItem `json:"item,omitempty"`
}

// CompleteRequest reports a finished work item
type CompleteRequest struct {
	ItemID   string          `json:"item_id"`
	WorkerID string          `json:"worker_id"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// FailRequest reports a failed work item
type FailRequest struct {
	ItemID   string `json:"item_id"`
	WorkerID string `json:"worker_id"`
	Reason   string `json:"reason"`
}

// Ack acknowledges a lease-guarded transition. Stale is set when the caller
// no longer held the lease; the call changed nothing.
type Ack struct {
	Acknowledged bool `json:"acknowledged"`
	Stale        bool `json:"stale,omitempty"`
}

// CreateSessionRequest asks for a session to run a task in
type CreateSessionRequest struct {
	WorkerID            string `json:"worker_id"`
	TaskID              string `json:"task_id,omitempty"`
	ReuseForSimilarTask bool   `json:"reuse_for_similar_task,omitempty"`
}

// CreateSessionResponse returns the session and whether it was reused
type CreateSessionResponse struct {
	Session *types.Session `json:"session"`
	Reused  bool           `json:"reused"`
}

// HeartbeatRequest is a worker liveness report
type HeartbeatRequest struct {
	WorkerID  string             `json:"worker_id"`
	SessionID string             `json:"session_id,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// HeartbeatResponse tells the worker whether its session is still usable
type HeartbeatResponse struct {
	Acknowledged bool `json:"acknowledged"`
	Terminated   bool `json:"terminated,omitempty"`
}

// SessionRequest names a session
type SessionRequest struct {
	SessionID string                 `json:"session_id"`
	Cause     types.TerminationCause `json:"cause,omitempty"`
}

// SubmitRequest posts a worker question
type SubmitRequest struct {
	Request *types.RequestMessage `json:"request"`
}

// SubmitResponse returns the assigned request id
type SubmitResponse struct {
	RequestID string `json:"request_id"`
}

// AwaitRequest waits for the response to a submitted request
type AwaitRequest struct {
	RequestID string `json:"request_id"`
}

// AwaitResponse carries the single response
type AwaitResponse struct {
	Response *types.ResponseMessage `json:"response"`
}
