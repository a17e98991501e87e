// Package sessions provides the session listing tool
package sessions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
	"github.com/AltairaLabs/agentvine/internal/types"
)

// Lister reads sessions from the registry
type Lister interface {
	List(ctx context.Context, filter storage.SessionFilter) ([]*types.Session, error)
}

// ListResponse is the sessions.list payload
type ListResponse struct {
	Count    int              `json:"count"`
	Sessions []*types.Session `json:"sessions"`
}

// ListHandler handles sessions.list
type ListHandler struct {
	sessions Lister
}

// NewListHandler creates a new list handler
func NewListHandler(sessions Lister) *ListHandler {
	return &ListHandler{sessions: sessions}
}

// Handle lists sessions, optionally filtered by worker and state
func (h *ListHandler) Handle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := storage.SessionFilter{
		WorkerID: request.GetString("worker_id", ""),
		State:    types.SessionState(request.GetString("state", "")),
	}
	switch filter.State {
	case "", types.SessionActive, types.SessionIdle, types.SessionTerminated:
	default:
		return mcp.NewToolResultError(fmt.Sprintf("Unknown session state: %s", filter.State)), nil
	}

	sessions, err := h.sessions.List(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list sessions: %v", err)), nil
	}

	payload, _ := json.Marshal(ListResponse{Count: len(sessions), Sessions: sessions})
	return mcp.NewToolResultText(string(payload)), nil
}
