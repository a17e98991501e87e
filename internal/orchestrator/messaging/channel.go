// Package messaging correlates worker requests with their single response.
// Requests flow through a FIFO channel to the orchestrator; responses are
// delivered back to the pending handle of the request they answer.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/config"
	"github.com/AltairaLabs/agentvine/internal/types"
)

// Errors returned by the channel
var (
	ErrDuplicateResponse = errors.New("request already answered")
	ErrUnknownRequest    = errors.New("unknown request")
	ErrDuplicateRequest  = errors.New("request id already pending")
	errRequestNil        = errors.New("request cannot be nil")
	errResponseNil       = errors.New("response cannot be nil")
)

const maxThreadLength = 200

// Exchange is one request and, once answered, its response
type Exchange struct {
	Request  *types.RequestMessage  `json:"request"`
	Response *types.ResponseMessage `json:"response,omitempty"`
}

// Pending is the submitter's handle on an unanswered request
type Pending struct {
	Request *types.RequestMessage

	done        chan struct{}
	resp        *types.ResponseMessage
	respondedAt time.Time
}

// Wait blocks until the response arrives or ctx ends
func (p *Pending) Wait(ctx context.Context) (*types.ResponseMessage, error) {
	select {
	case <-p.done:
		return p.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Channel is the request/response channel pair between workers and the
// orchestrator. It is safe for concurrent use.
type Channel struct {
	cfg    config.Source
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	queue    []*types.RequestMessage
	ready    chan struct{}
	pending  map[string]*Pending
	answered *lru.Cache[string, *Pending] // requestID -> answered handle, for dedupe and late Await
	threads  *lru.Cache[string, []*Exchange] // threadID -> bounded history
}

// NewChannel creates a channel pair. The answered-request and thread
// memories are sized from the loop configuration at construction.
func NewChannel(cfg config.Source, logger *slog.Logger) (*Channel, error) {
	if cfg == nil {
		cfg = config.Static(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	answered, err := lru.New[string, *Pending](cfg.Current().Loop.DedupeSize)
	if err != nil {
		return nil, fmt.Errorf("response deduper init: %w", err)
	}
	threads, err := lru.New[string, []*Exchange](cfg.Current().Loop.ThreadCapacity)
	if err != nil {
		return nil, fmt.Errorf("thread history init: %w", err)
	}

	return &Channel{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		ready:    make(chan struct{}, 1),
		pending:  make(map[string]*Pending),
		answered: answered,
		threads:  threads,
	}, nil
}

// Submit appends req to the request channel and returns its pending handle.
// Missing id, creation time, thread and expiry are filled in.
func (c *Channel) Submit(ctx context.Context, req *types.RequestMessage) (*Pending, error) {
	if req == nil {
		return nil, errRequestNil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msg := *req
	now := c.now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	if msg.ExpiresAt.IsZero() {
		msg.ExpiresAt = msg.CreatedAt.Add(c.cfg.Current().Routing.HumanResponseCeiling)
	}
	if msg.ThreadID == "" {
		msg.ThreadID = msg.SessionID
	}

	c.mu.Lock()
	if _, exists := c.pending[msg.ID]; exists || c.answered.Contains(msg.ID) {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, msg.ID)
	}

	p := &Pending{Request: &msg, done: make(chan struct{})}
	c.pending[msg.ID] = p
	c.queue = append(c.queue, &msg)
	c.appendThread(&Exchange{Request: &msg})
	c.mu.Unlock()

	c.signal()

	c.logger.Debug("Request submitted",
		"request_id", msg.ID,
		"worker_id", msg.WorkerID,
		"session_id", msg.SessionID,
		"kind", msg.Kind,
	)
	return p, nil
}

// Poll blocks until a request is available or ctx ends. Requests are
// returned in submission order.
func (c *Channel) Poll(ctx context.Context) (*types.RequestMessage, error) {
	for {
		if req := c.TryPoll(); req != nil {
			return req, nil
		}
		select {
		case <-c.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryPoll returns the next request or nil without blocking
func (c *Channel) TryPoll() *types.RequestMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return nil
	}
	req := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	if len(c.queue) > 0 {
		c.signal()
	}
	return req
}

// Len returns the number of requests waiting to be polled
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Respond delivers resp to the request it answers. Only the first response
// per request is delivered; later ones return ErrDuplicateResponse.
func (c *Channel) Respond(resp *types.ResponseMessage) error {
	if resp == nil {
		return errResponseNil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if prev, ok := c.answered.Get(resp.InReplyTo); ok {
		if now.Sub(prev.respondedAt) <= c.cfg.Current().Loop.DedupeTTL {
			return fmt.Errorf("%w: %s", ErrDuplicateResponse, resp.InReplyTo)
		}
		c.answered.Remove(resp.InReplyTo)
	}

	p, ok := c.pending[resp.InReplyTo]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, resp.InReplyTo)
	}

	out := *resp
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}

	p.resp = &out
	p.respondedAt = now
	close(p.done)
	delete(c.pending, out.InReplyTo)
	c.answered.Add(out.InReplyTo, p)
	c.recordResponse(p.Request, &out)
	return nil
}

// Await returns the response to requestID, waiting if it has not arrived.
// A response delivered before Await is called is returned immediately.
func (c *Channel) Await(ctx context.Context, requestID string) (*types.ResponseMessage, error) {
	c.mu.Lock()
	p, ok := c.pending[requestID]
	if !ok {
		p, ok = c.answered.Get(requestID)
	}
	c.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	return p.Wait(ctx)
}

// Lookup returns a copy of a request that is pending or was recently answered
func (c *Channel) Lookup(requestID string) (*types.RequestMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[requestID]
	if !ok {
		p, ok = c.answered.Peek(requestID)
	}
	if !ok {
		return nil, false
	}
	req := *p.Request
	return &req, true
}

// Answered reports whether requestID already received its response
func (c *Channel) Answered(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answered.Contains(requestID)
}

// PendingRequests returns the unanswered requests, oldest first
func (c *Channel) PendingRequests() []*types.RequestMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*types.RequestMessage, 0, len(c.pending))
	for _, p := range c.pending {
		req := *p.Request
		out = append(out, &req)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Thread returns the conversation history of a thread in submission order
func (c *Channel) Thread(threadID string) []Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()

	history, _ := c.threads.Peek(threadID)
	out := make([]Exchange, 0, len(history))
	for _, ex := range history {
		copied := Exchange{}
		if ex.Request != nil {
			req := *ex.Request
			copied.Request = &req
		}
		if ex.Response != nil {
			resp := *ex.Response
			copied.Response = &resp
		}
		out = append(out, copied)
	}
	return out
}

func (c *Channel) signal() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// appendThread must be called with c.mu held
func (c *Channel) appendThread(ex *Exchange) {
	id := ex.Request.ThreadID
	if id == "" {
		return
	}
	history, _ := c.threads.Get(id)
	history = append(history, ex)
	if len(history) > maxThreadLength {
		history = history[len(history)-maxThreadLength:]
	}
	c.threads.Add(id, history)
}

// recordResponse must be called with c.mu held
func (c *Channel) recordResponse(req *types.RequestMessage, resp *types.ResponseMessage) {
	history, _ := c.threads.Peek(req.ThreadID)
	for _, ex := range history {
		if ex.Request.ID == req.ID {
			ex.Response = resp
			return
		}
	}
}
