package orchestrator

import (
	"context"
	"fmt"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/config"
	"github.com/AltairaLabs/agentvine/internal/types"
)

// AutomatedHandler produces an answer without a human. Implementations must
// honour ctx; the orchestrator bounds every call with the automated timeout.
type AutomatedHandler interface {
	Generate(ctx context.Context, req *types.RequestMessage, task *types.TaskContext) (string, error)
}

// AutomatedFunc adapts a function to AutomatedHandler
type AutomatedFunc func(ctx context.Context, req *types.RequestMessage, task *types.TaskContext) (string, error)

// Generate calls f
func (f AutomatedFunc) Generate(ctx context.Context, req *types.RequestMessage, task *types.TaskContext) (string, error) {
	return f(ctx, req, task)
}

// HumanSurface shows requests to people. Publish is fire-and-forget; answers
// come back through Orchestrator.Answered.
type HumanSurface interface {
	Publish(ctx context.Context, req *types.RequestMessage, decision types.RoutingDecision) error
}

// EchoHandler acknowledges the request verbatim. It stands in for a real
// generator in demos and tests.
type EchoHandler struct{}

// Generate returns a canned acknowledgement
func (EchoHandler) Generate(ctx context.Context, req *types.RequestMessage, _ *types.TaskContext) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf(config.MsgAutomatedAck, req.Kind, req.Content), nil
}
