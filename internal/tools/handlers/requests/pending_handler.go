package requests

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/AltairaLabs/agentvine/internal/types"
)

// PendingHandler handles requests.pending
type PendingHandler struct {
	source Source
}

// NewPendingHandler creates a new pending handler
func NewPendingHandler(source Source) *PendingHandler {
	return &PendingHandler{source: source}
}

// Handle lists unanswered requests, optionally for one worker
func (h *PendingHandler) Handle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workerID := request.GetString("worker_id", "")

	pending := h.source.PendingRequests()
	out := make([]*types.RequestMessage, 0, len(pending))
	for _, req := range pending {
		if workerID != "" && req.WorkerID != workerID {
			continue
		}
		out = append(out, req)
	}

	payload, _ := json.Marshal(PendingResponse{Count: len(out), Requests: out})
	return mcp.NewToolResultText(string(payload)), nil
}
