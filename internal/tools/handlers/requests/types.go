// Package requests provides the human-facing request tools: listing pending
// questions, answering them and reading a thread's history
package requests

import (
	"time"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/messaging"
	"github.com/AltairaLabs/agentvine/internal/types"
)

// Source exposes the unanswered requests and thread history
type Source interface {
	PendingRequests() []*types.RequestMessage
	Thread(threadID string) []messaging.Exchange
}

// Answerer delivers a human answer to a request
type Answerer interface {
	Answered(requestID, content, responderID string) error
}

// PendingResponse is the requests.pending payload
type PendingResponse struct {
	Count    int                     `json:"count"`
	Requests []*types.RequestMessage `json:"requests"`
}

// AnswerResponse is the requests.answer payload
type AnswerResponse struct {
	RequestID   string    `json:"request_id"`
	Status      string    `json:"status"`
	ResponderID string    `json:"responder_id"`
	AnsweredAt  time.Time `json:"answered_at"`
}

// ThreadResponse is the requests.thread payload
type ThreadResponse struct {
	ThreadID  string               `json:"thread_id"`
	Exchanges []messaging.Exchange `json:"exchanges"`
}
