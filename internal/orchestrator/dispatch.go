package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/config"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/messaging"
	"github.com/AltairaLabs/agentvine/internal/types"
)

// Errors returned by Answered
var (
	ErrUnknownRequest    = messaging.ErrUnknownRequest
	ErrDuplicateResponse = messaging.ErrDuplicateResponse
)

// Automated fallback reasons
const (
	fallbackNoHandler   = "no_handler"
	fallbackRateLimited = "rate_limited"
	fallbackTimeout     = "timeout"
	fallbackError       = "error"
	fallbackEmpty       = "empty_answer"
	fallbackSaturated   = "saturated"
)

var (
	errNoHandler   = errors.New("no automated handler configured")
	errEmptyAnswer = errors.New("automated handler returned an empty answer")
)

// dispatch runs the routed arm to completion and delivers exactly one response
func (o *Orchestrator) dispatch(
	ctx context.Context,
	req *types.RequestMessage,
	task *types.TaskContext,
	decision types.RoutingDecision,
) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.dispatch",
		trace.WithAttributes(requestAttributes(req, decision)...),
	)
	defer span.End()

	start := o.now()
	route := decision.Route

	if route == types.RouteAutomated {
		answer, reason, err := o.runAutomated(ctx, req, task)
		if err == nil {
			o.respond(req, answer, types.GeneratedByAutomated, "")
			o.metrics.ObserveDispatch(string(route), string(types.GeneratedByAutomated), o.now().Sub(start))
			span.SetAttributes(attribute.String("response.generated_by", string(types.GeneratedByAutomated)))
			return
		}

		if ctx.Err() != nil {
			o.respond(req, config.MsgShutdown, types.GeneratedBySystem, "")
			span.SetStatus(codes.Error, "cancelled")
			return
		}

		o.metrics.IncFallback(reason)
		o.logger.Warn("Automated arm failed, falling back to human",
			"request_id", req.ID,
			"reason", reason,
			"error", err,
		)
		span.AddEvent("automated_fallback", trace.WithAttributes(attribute.String("reason", reason)))
		route = types.RouteHuman
	}

	by := o.runHuman(ctx, req, decision)
	o.metrics.ObserveDispatch(string(route), string(by), o.now().Sub(start))
	span.SetAttributes(attribute.String("response.generated_by", string(by)))
	if by == types.GeneratedBySystem {
		span.SetStatus(codes.Error, "no human response")
	}
}

// runAutomated calls the handler under the automated timeout, the in-flight
// limit and the rate limit. On failure it returns the fallback reason.
func (o *Orchestrator) runAutomated(
	ctx context.Context,
	req *types.RequestMessage,
	task *types.TaskContext,
) (string, string, error) {
	if o.automated == nil {
		return "", fallbackNoHandler, errNoHandler
	}

	cfg := o.cfg.Current().Routing
	o.tuneLimiter(cfg)

	actx, cancel := context.WithTimeout(ctx, cfg.AutomatedTimeout)
	defer cancel()

	sem := o.slots.current(o.cfg.Current().Loop.MaxInFlight)
	if err := sem.Acquire(actx, 1); err != nil {
		return "", fallbackSaturated, fmt.Errorf("no automated slot within %s: %w", cfg.AutomatedTimeout, err)
	}
	defer sem.Release(1)

	if err := o.limiter.Wait(actx); err != nil {
		return "", fallbackRateLimited, fmt.Errorf("rate limiter: %w", err)
	}

	answer, err := o.automated.Generate(actx, req, task)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || (err == nil && actx.Err() != nil):
		return "", fallbackTimeout, fmt.Errorf("automated handler timed out after %s", cfg.AutomatedTimeout)
	case err != nil:
		return "", fallbackError, err
	case strings.TrimSpace(answer) == "":
		return "", fallbackEmpty, errEmptyAnswer
	}
	return answer, "", nil
}

func (o *Orchestrator) tuneLimiter(cfg config.RoutingConfig) {
	if limit := rate.Limit(cfg.AutomatedRate); o.limiter.Limit() != limit {
		o.limiter.SetLimit(limit)
	}
	if o.limiter.Burst() != cfg.AutomatedBurst {
		o.limiter.SetBurst(cfg.AutomatedBurst)
	}
}

// runHuman publishes the request and waits until the request expires or the
// response ceiling passes, whichever is first. It returns who produced the
// delivered response.
func (o *Orchestrator) runHuman(ctx context.Context, req *types.RequestMessage, decision types.RoutingDecision) types.GeneratedBy {
	if o.human != nil {
		if err := o.human.Publish(ctx, req, decision); err != nil {
			o.logger.Warn("Failed to publish request to human surface", "request_id", req.ID, "error", err)
		}
	}

	ceiling := o.cfg.Current().Routing.HumanResponseCeiling
	deadline := o.now().Add(ceiling)
	if !req.ExpiresAt.IsZero() && req.ExpiresAt.Before(deadline) {
		deadline = req.ExpiresAt
		if !req.CreatedAt.IsZero() {
			ceiling = max(deadline.Sub(req.CreatedAt), 0)
		}
	}
	wctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	resp, err := o.channel.Await(wctx, req.ID)
	if err == nil {
		return resp.GeneratedBy
	}

	if ctx.Err() != nil {
		o.respond(req, config.MsgShutdown, types.GeneratedBySystem, "")
		return types.GeneratedBySystem
	}

	if errors.Is(err, context.DeadlineExceeded) {
		o.metrics.IncHumanTimeout()
		o.logger.Warn("No human response within ceiling",
			"request_id", req.ID,
			"worker_id", req.WorkerID,
			"ceiling", ceiling,
		)
		if !o.respond(req, fmt.Sprintf(config.MsgHumanTimeout, ceiling), types.GeneratedBySystem, "") {
			// A human answered at the deadline
			if late, ok := o.answeredBy(req.ID); ok {
				return late
			}
		}
		return types.GeneratedBySystem
	}

	o.logger.Error("Failed to await human response", "request_id", req.ID, "error", err)
	return types.GeneratedBySystem
}

func (o *Orchestrator) answeredBy(requestID string) (types.GeneratedBy, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := o.channel.Await(ctx, requestID)
	if err != nil {
		return "", false
	}
	return resp.GeneratedBy, true
}

// Answered delivers a human answer. Answering an unknown or already answered
// request returns ErrUnknownRequest or ErrDuplicateResponse and changes nothing.
func (o *Orchestrator) Answered(requestID, content, responderID string) error {
	if _, ok := o.channel.Lookup(requestID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}

	err := o.channel.Respond(&types.ResponseMessage{
		InReplyTo:   requestID,
		Content:     content,
		GeneratedBy: types.GeneratedByHuman,
		ResponderID: responderID,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateResponse) {
			o.metrics.IncDuplicateResponse()
		}
		return err
	}

	o.metrics.IncResponse(string(types.GeneratedByHuman))
	o.logger.Info("Human answered request", "request_id", requestID, "responder_id", responderID)
	return nil
}
