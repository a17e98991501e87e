// Package orchestrator runs the loop that polls worker requests, routes each
// one and dispatches it to the automated or human arm without blocking on
// the answer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/config"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/messaging"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/metrics"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/routing"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/session"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
	"github.com/AltairaLabs/agentvine/internal/types"
)

const tracerName = "github.com/AltairaLabs/agentvine/internal/orchestrator"

var errAlreadyRunning = errors.New("orchestrator loop already running")

// Options holds the collaborators of an Orchestrator. Channel and Engine are
// required; a missing Automated handler makes every automated route fall back.
type Options struct {
	Channel        *messaging.Channel
	Engine         *routing.Engine
	Sessions       *session.Registry
	Tasks          storage.TaskContextStore
	Automated      AutomatedHandler
	Human          HumanSurface
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	TracerProvider trace.TracerProvider
}

// Orchestrator is the request loop
type Orchestrator struct {
	channel   *messaging.Channel
	engine    *routing.Engine
	sessions  *session.Registry
	tasks     storage.TaskContextStore
	automated AutomatedHandler
	human     HumanSurface
	cfg       config.Source
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	limiter   *rate.Limiter
	slots     dispatchSlots
	now       func() time.Time

	state   atomic.Int32
	running atomic.Bool

	mu       sync.Mutex
	inflight map[string]context.CancelFunc // requestID -> dispatch cancel
	wg       sync.WaitGroup
}

// New creates an orchestrator
func New(cfg config.Source, opts Options) (*Orchestrator, error) {
	if opts.Channel == nil {
		return nil, errors.New("message channel is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("routing engine is required")
	}
	if cfg == nil {
		cfg = config.Static(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	current := cfg.Current()
	o := &Orchestrator{
		channel:   opts.Channel,
		engine:    opts.Engine,
		sessions:  opts.Sessions,
		tasks:     opts.Tasks,
		automated: opts.Automated,
		human:     opts.Human,
		cfg:       cfg,
		logger:    logger,
		metrics:   opts.Metrics,
		tracer:    tp.Tracer(tracerName),
		limiter:   rate.NewLimiter(rate.Limit(current.Routing.AutomatedRate), current.Routing.AutomatedBurst),
		now:       time.Now,
		inflight:  make(map[string]context.CancelFunc),
	}
	o.slots.current(current.Loop.MaxInFlight)
	return o, nil
}

// State returns the loop's current state
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// InFlight returns the number of dispatches awaiting an answer
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight)
}

func (o *Orchestrator) setState(s State) {
	if prev := State(o.state.Swap(int32(s))); prev != s {
		o.logger.Debug("Orchestrator state changed", "from", prev, "to", s)
	}
}

// Run polls requests until ctx is canceled, then drains in-flight dispatches
// for up to the drain grace period and cancels the rest.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer o.running.Store(false)

	// Dispatches outlive ctx so they can drain after shutdown begins
	dispatchCtx, cancelDispatches := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDispatches()

	o.logger.Info("Orchestrator loop started")
	o.setState(StateIdle)

	for {
		req, err := o.channel.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			o.logger.Error("Failed to poll request", "error", err)
			continue
		}

		o.process(ctx, dispatchCtx, req)
		o.setState(StateIdle)
	}

	o.drain(cancelDispatches)
	o.rejectQueued()
	o.logger.Info("Orchestrator loop stopped")
	return nil
}

// process validates, routes and dispatches one request. A panic here is
// contained to this request.
func (o *Orchestrator) process(ctx, dispatchCtx context.Context, req *types.RequestMessage) {
	defer func() {
		if r := recover(); r != nil {
			o.metrics.IncLoopPanic()
			o.logger.Error("Recovered panic while processing request",
				"request_id", req.ID,
				"panic", fmt.Sprint(r),
			)
			o.respond(req, config.MsgInternalError, types.GeneratedBySystem, "")
		}
	}()

	o.setState(StateProcessing)
	o.metrics.IncRequest()

	if err := req.Validate(); err != nil {
		o.metrics.IncMalformed()
		o.logger.Warn("Rejected malformed request",
			"request_id", req.ID,
			"worker_id", req.WorkerID,
			"session_id", req.SessionID,
			"error", err,
		)
		o.respond(req, fmt.Sprintf(config.MsgMalformedRequest, err), types.GeneratedBySystem, "")
		return
	}

	if o.channel.Answered(req.ID) {
		o.logger.Debug("Request answered before dispatch", "request_id", req.ID)
		return
	}

	o.touchSession(ctx, req)
	task := o.taskContext(ctx, req.TaskID)

	decision := o.engine.Decide(routing.Input{
		Kind:            req.Kind,
		PermissionLevel: req.PermissionLevel,
		TaskPriority:    task.Priority,
		Content:         req.Content,
	})
	o.metrics.IncDecision(string(decision.Route), decision.Rule)
	o.logger.Info("Request routed",
		"request_id", req.ID,
		"worker_id", req.WorkerID,
		"task_id", req.TaskID,
		"route", decision.Route,
		"rule", decision.Rule,
	)

	o.setState(StateDispatched)
	o.launch(dispatchCtx, req, task, decision)
}

// launch starts the dispatch goroutine without blocking the loop
func (o *Orchestrator) launch(
	dispatchCtx context.Context,
	req *types.RequestMessage,
	task *types.TaskContext,
	decision types.RoutingDecision,
) {
	dctx, cancel := context.WithCancel(dispatchCtx)
	o.mu.Lock()
	o.inflight[req.ID] = cancel
	o.mu.Unlock()
	o.metrics.IncInFlight()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.untrack(req.ID, cancel)
		defer func() {
			if r := recover(); r != nil {
				o.metrics.IncLoopPanic()
				o.logger.Error("Recovered panic in dispatch",
					"request_id", req.ID,
					"route", decision.Route,
					"panic", fmt.Sprint(r),
				)
				o.respond(req, config.MsgInternalError, types.GeneratedBySystem, "")
			}
		}()

		o.dispatch(dctx, req, task, decision)
	}()
}

// dispatchSlots bounds concurrent automated handler calls. A resize takes
// effect for new acquisitions; holders release into the semaphore they took.
type dispatchSlots struct {
	mu   sync.Mutex
	size int
	sem  *semaphore.Weighted
}

func (d *dispatchSlots) current(size int) *semaphore.Weighted {
	if size < 1 {
		size = 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sem == nil || d.size != size {
		d.size = size
		d.sem = semaphore.NewWeighted(int64(size))
	}
	return d.sem
}

func (o *Orchestrator) untrack(requestID string, cancel context.CancelFunc) {
	cancel()
	o.mu.Lock()
	delete(o.inflight, requestID)
	o.mu.Unlock()
	o.metrics.DecInFlight()
}

func (o *Orchestrator) drain(cancelDispatches context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	grace := o.cfg.Current().Loop.DrainGracePeriod
	o.logger.Info("Draining in-flight dispatches", "in_flight", o.InFlight(), "grace_period", grace)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
	}

	o.logger.Warn("Drain grace period elapsed, cancelling dispatches", "remaining", o.InFlight())
	cancelDispatches()
	<-done
}

// rejectQueued answers requests that were submitted but never polled
func (o *Orchestrator) rejectQueued() {
	for req := o.channel.TryPoll(); req != nil; req = o.channel.TryPoll() {
		o.respond(req, config.MsgShutdown, types.GeneratedBySystem, "")
	}
}

func (o *Orchestrator) touchSession(ctx context.Context, req *types.RequestMessage) {
	if o.sessions == nil {
		return
	}
	if err := o.sessions.Heartbeat(ctx, req.SessionID); err != nil {
		o.logger.Warn("Routing request for unusable session",
			"request_id", req.ID,
			"session_id", req.SessionID,
			"error", err,
		)
	}
}

func (o *Orchestrator) taskContext(ctx context.Context, taskID string) *types.TaskContext {
	if o.tasks == nil {
		return &types.TaskContext{}
	}
	task, err := o.tasks.GetTaskContext(ctx, taskID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			o.logger.Debug("Task context not found", "task_id", taskID)
		} else {
			o.logger.Warn("Failed to load task context", "task_id", taskID, "error", err)
		}
		return &types.TaskContext{}
	}
	return task
}

// respond delivers a response, treating an already answered request as a
// normal race outcome
func (o *Orchestrator) respond(req *types.RequestMessage, content string, by types.GeneratedBy, responder string) bool {
	err := o.channel.Respond(&types.ResponseMessage{
		InReplyTo:   req.ID,
		Content:     content,
		GeneratedBy: by,
		ResponderID: responder,
	})
	switch {
	case err == nil:
		o.metrics.IncResponse(string(by))
		return true
	case errors.Is(err, messaging.ErrDuplicateResponse):
		o.metrics.IncDuplicateResponse()
		o.logger.Debug("Discarded duplicate response", "request_id", req.ID, "generated_by", by)
	default:
		o.logger.Error("Failed to deliver response", "request_id", req.ID, "generated_by", by, "error", err)
	}
	return false
}

func requestAttributes(req *types.RequestMessage, decision types.RoutingDecision) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("request.id", req.ID),
		attribute.String("request.kind", string(req.Kind)),
		attribute.String("worker.id", req.WorkerID),
		attribute.String("task.id", req.TaskID),
		attribute.String("routing.route", string(decision.Route)),
		attribute.String("routing.rule", decision.Rule),
	}
}
