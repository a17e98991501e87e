package requests

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// ThreadHandler handles requests.thread
type ThreadHandler struct {
	source Source
}

// NewThreadHandler creates a new thread handler
func NewThreadHandler(source Source) *ThreadHandler {
	return &ThreadHandler{source: source}
}

// Handle returns the conversation of a thread in submission order
func (h *ThreadHandler) Handle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threadID, err := request.RequireString("thread_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	payload, _ := json.Marshal(ThreadResponse{ThreadID: threadID, Exchanges: h.source.Thread(threadID)})
	return mcp.NewToolResultText(string(payload)), nil
}
