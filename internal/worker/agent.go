// Package worker is the worker side of the orchestration core: it claims work,
// runs it inside a session, asks questions mid-task and keeps its session alive.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/config"
	"github.com/AltairaLabs/agentvine/internal/rpc"
	"github.com/AltairaLabs/agentvine/internal/types"
)

// Orchestrator is the subset of the RPC client the agent uses
type Orchestrator interface {
	Claim(ctx context.Context, in *rpc.ClaimRequest) (*rpc.ClaimResponse, error)
	Complete(ctx context.Context, in *rpc.CompleteRequest) (*rpc.Ack, error)
	Fail(ctx context.Context, in *rpc.FailRequest) (*rpc.Ack, error)
	CreateSession(ctx context.Context, in *rpc.CreateSessionRequest) (*rpc.CreateSessionResponse, error)
	Heartbeat(ctx context.Context, in *rpc.HeartbeatRequest) (*rpc.HeartbeatResponse, error)
	ReleaseSession(ctx context.Context, in *rpc.SessionRequest) (*rpc.Ack, error)
	TerminateSession(ctx context.Context, in *rpc.SessionRequest) (*rpc.Ack, error)
	Submit(ctx context.Context, in *rpc.SubmitRequest) (*rpc.SubmitResponse, error)
	Await(ctx context.Context, in *rpc.AwaitRequest) (*rpc.AwaitResponse, error)
}

// Config holds agent settings
type Config struct {
	WorkerID          string
	Capabilities      []string
	ReuseSessions     bool
	HeartbeatInterval time.Duration
	PollInitial       time.Duration
	PollMax           time.Duration
	CallTimeout       time.Duration
	AskTimeout        time.Duration
	Logger            *slog.Logger
}

const (
	defaultPollInitial = 200 * time.Millisecond
	defaultCallTimeout = 10 * time.Second
	// Await outlives the human response ceiling so the system timeout response arrives
	defaultAskTimeout = config.DefaultHumanResponseCeiling + 5*time.Minute
)

// Stats are the agent's counters, reported with every heartbeat
type Stats struct {
	Claimed   int64
	Completed int64
	Failed    int64
	Stale     int64
	Asked     int64
}

// Agent claims work items and runs them one at a time
type Agent struct {
	client   Orchestrator
	executor Executor
	cfg      Config
	logger   *slog.Logger
	poll     *backoff.ExponentialBackOff

	mu      sync.Mutex
	session *types.Session

	claimed   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	stale     atomic.Int64
	asked     atomic.Int64
}

// NewAgent creates an agent. WorkerID is required.
func NewAgent(client Orchestrator, executor Executor, cfg Config) (*Agent, error) {
	if cfg.WorkerID == "" {
		return nil, errors.New("worker id is required")
	}
	if executor == nil {
		executor = QuestionExecutor{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = config.DefaultHeartbeatInterval
	}
	if cfg.PollInitial <= 0 {
		cfg.PollInitial = defaultPollInitial
	}
	if cfg.PollMax < cfg.PollInitial {
		cfg.PollMax = max(config.DefaultPollInterval, cfg.PollInitial)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.AskTimeout <= 0 {
		cfg.AskTimeout = defaultAskTimeout
	}

	poll := backoff.NewExponentialBackOff()
	poll.InitialInterval = cfg.PollInitial
	poll.MaxInterval = cfg.PollMax
	poll.Reset()

	return &Agent{
		client:   client,
		executor: executor,
		cfg:      cfg,
		logger:   cfg.Logger.With("worker_id", cfg.WorkerID),
		poll:     poll,
	}, nil
}

// Stats returns a snapshot of the agent's counters
func (a *Agent) Stats() Stats {
	return Stats{
		Claimed:   a.claimed.Load(),
		Completed: a.completed.Load(),
		Failed:    a.failed.Load(),
		Stale:     a.stale.Load(),
		Asked:     a.asked.Load(),
	}
}

// Session returns the agent's current session, if any
func (a *Agent) Session() *types.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session.Clone()
}

// Run claims and executes work until ctx is cancelled. On return the current
// session is terminated with worker_shutdown.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Starting worker agent", "capabilities", a.cfg.Capabilities)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.heartbeatLoop(hbCtx)
	}()

	for ctx.Err() == nil {
		ran, err := a.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			a.logger.Warn("Work cycle failed", "error", err)
		}
		if ran && err == nil {
			a.poll.Reset()
			continue
		}
		a.sleep(ctx, a.poll.NextBackOff())
	}

	stopHeartbeat()
	wg.Wait()
	a.shutdown(context.WithoutCancel(ctx))

	a.logger.Info("Worker agent stopped")
	return nil
}

// RunOnce claims at most one item and runs it to completion. It reports
// whether an item was claimed.
func (a *Agent) RunOnce(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	resp, err := a.client.Claim(claimCtx, &rpc.ClaimRequest{
		WorkerID:     a.cfg.WorkerID,
		Capabilities: a.cfg.Capabilities,
	})
	cancel()
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if resp.Item == nil {
		return false, nil
	}

	item := resp.Item
	a.claimed.Add(1)
	a.logger.Info("Claimed work item", "item_id", item.ID, "task_id", item.TaskID, "priority", item.Priority, "retry_count", item.RetryCount)

	sess, err := a.acquireSession(ctx, item.TaskID)
	if err != nil {
		a.fail(ctx, item, fmt.Sprintf("session unavailable: %v", err))
		return true, err
	}

	execCtx := ctx
	if item.LeaseDeadline != nil {
		var cancelExec context.CancelFunc
		execCtx, cancelExec = context.WithDeadline(ctx, *item.LeaseDeadline)
		defer cancelExec()
	}

	result, execErr := a.execute(execCtx, &Job{Item: item, Session: sess, agent: a})
	if execErr != nil {
		a.fail(ctx, item, execErr.Error())
	} else {
		a.complete(ctx, item, result)
	}
	a.releaseSession(ctx, sess.ID)
	return true, nil
}

func (a *Agent) execute(ctx context.Context, job *Job) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return a.executor.Execute(ctx, job)
}

func (a *Agent) complete(ctx context.Context, item *types.WorkItem, result []byte) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.CallTimeout)
	defer cancel()

	ack, err := a.client.Complete(callCtx, &rpc.CompleteRequest{ItemID: item.ID, WorkerID: a.cfg.WorkerID, Result: result})
	switch {
	case err != nil:
		a.logger.Error("Failed to report completion", "item_id", item.ID, "error", err)
	case ack.Stale:
		a.stale.Add(1)
		a.logger.Warn("Completion was stale; lease had moved on", "item_id", item.ID)
	default:
		a.completed.Add(1)
		a.logger.Info("Completed work item", "item_id", item.ID)
	}
}

func (a *Agent) fail(ctx context.Context, item *types.WorkItem, reason string) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.CallTimeout)
	defer cancel()

	ack, err := a.client.Fail(callCtx, &rpc.FailRequest{ItemID: item.ID, WorkerID: a.cfg.WorkerID, Reason: reason})
	switch {
	case err != nil:
		a.logger.Error("Failed to report failure", "item_id", item.ID, "error", err)
	case ack.Stale:
		a.stale.Add(1)
		a.logger.Warn("Failure report was stale; lease had moved on", "item_id", item.ID)
	default:
		a.failed.Add(1)
		a.logger.Warn("Work item failed", "item_id", item.ID, "reason", reason)
	}
}

// Ask submits a question for the current session and waits for its answer
func (a *Agent) Ask(ctx context.Context, req *types.RequestMessage) (*types.ResponseMessage, error) {
	req.WorkerID = a.cfg.WorkerID
	if req.SessionID == "" {
		if sess := a.Session(); sess != nil {
			req.SessionID = sess.ID
		}
	}

	submitCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	sub, err := a.client.Submit(submitCtx, &rpc.SubmitRequest{Request: req})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	a.asked.Add(1)
	a.logger.Info("Asked question", "request_id", sub.RequestID, "kind", req.Kind)

	awaitCtx, cancel := context.WithTimeout(ctx, a.cfg.AskTimeout)
	defer cancel()
	resp, err := a.client.Await(awaitCtx, &rpc.AwaitRequest{RequestID: sub.RequestID})
	if err != nil {
		return nil, fmt.Errorf("await %s: %w", sub.RequestID, err)
	}
	a.logger.Info("Received answer", "request_id", sub.RequestID, "generated_by", resp.Response.GeneratedBy)
	return resp.Response, nil
}

func (a *Agent) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
