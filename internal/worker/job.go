package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AltairaLabs/agentvine/internal/types"
)

// ErrNoAnswer is returned by Ask when the response carries no content
var ErrNoAnswer = errors.New("request answered without content")

// Job is one claimed work item running inside a session
type Job struct {
	Item    *types.WorkItem
	Session *types.Session

	agent *Agent
}

// Ask posts a question about the job and blocks until it is answered
func (j *Job) Ask(ctx context.Context, kind types.RequestKind, level types.PermissionLevel, content string) (*types.ResponseMessage, error) {
	return j.agent.Ask(ctx, &types.RequestMessage{
		SessionID:       j.Session.ID,
		TaskID:          j.Item.TaskID,
		Kind:            kind,
		PermissionLevel: level,
		Content:         content,
	})
}

// Executor runs claimed work. A returned error fails the item; the queue
// decides whether it is retried.
type Executor interface {
	Execute(ctx context.Context, job *Job) (json.RawMessage, error)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, job *Job) (json.RawMessage, error)

// Execute calls f
func (f ExecutorFunc) Execute(ctx context.Context, job *Job) (json.RawMessage, error) {
	return f(ctx, job)
}

// QuestionPayload is the work item payload understood by QuestionExecutor
type QuestionPayload struct {
	Question        string                `json:"question"`
	Kind            types.RequestKind     `json:"kind,omitempty"`
	PermissionLevel types.PermissionLevel `json:"permission_level,omitempty"`
	Fail            string                `json:"fail,omitempty"`
}

// QuestionResult is the result recorded by QuestionExecutor
type QuestionResult struct {
	Answer      string            `json:"answer,omitempty"`
	GeneratedBy types.GeneratedBy `json:"generated_by,omitempty"`
}

// QuestionExecutor asks the payload's question and records the answer.
// Items without a question complete immediately. A non-empty Fail field
// fails the item with that reason.
type QuestionExecutor struct{}

// Execute runs the item
func (QuestionExecutor) Execute(ctx context.Context, job *Job) (json.RawMessage, error) {
	var p QuestionPayload
	if len(job.Item.Payload) > 0 {
		if err := json.Unmarshal(job.Item.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
	}
	if p.Fail != "" {
		return nil, errors.New(p.Fail)
	}
	if p.Question == "" {
		return json.Marshal(QuestionResult{})
	}

	if p.Kind == "" {
		p.Kind = types.KindClarification
	}
	if p.PermissionLevel == "" {
		p.PermissionLevel = types.PermissionSupervised
	}
	resp, err := job.Ask(ctx, p.Kind, p.PermissionLevel, p.Question)
	if err != nil {
		return nil, err
	}
	if resp.Content == "" {
		return nil, ErrNoAnswer
	}
	return json.Marshal(QuestionResult{Answer: resp.Content, GeneratedBy: resp.GeneratedBy})
}
