// Package queue provides the work queue operator tools
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
	"github.com/AltairaLabs/agentvine/internal/types"
)

// Reader is the read side of the work queue
type Reader interface {
	Stats(ctx context.Context) (*storage.QueueStats, error)
	DeadLetters(ctx context.Context) ([]*types.WorkItem, error)
}

// StatsResponse is the queue.stats payload
type StatsResponse struct {
	Pending       map[types.Priority]int `json:"pending"`
	Leased        int                    `json:"leased"`
	Completed     int                    `json:"completed"`
	DeadLettered  int                    `json:"dead_lettered"`
	OldestPending string                 `json:"oldest_pending,omitempty"`
}

// DeadLettersResponse is the queue.deadletters payload
type DeadLettersResponse struct {
	Count int               `json:"count"`
	Items []*types.WorkItem `json:"items"`
}

// StatsHandler handles queue.stats
type StatsHandler struct {
	queue Reader
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(queue Reader) *StatsHandler {
	return &StatsHandler{queue: queue}
}

// Handle reports per-tier counts
func (h *StatsHandler) Handle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := h.queue.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read queue stats: %v", err)), nil
	}

	resp := StatsResponse{
		Pending:      stats.PendingByTier,
		Leased:       stats.Leased,
		Completed:    stats.Completed,
		DeadLettered: stats.DeadLettered,
	}
	if stats.OldestPending > 0 {
		resp.OldestPending = stats.OldestPending.Round(time.Second).String()
	}

	payload, _ := json.Marshal(resp)
	return mcp.NewToolResultText(string(payload)), nil
}

// DeadLettersHandler handles queue.deadletters
type DeadLettersHandler struct {
	queue Reader
}

// NewDeadLettersHandler creates a new dead-letter handler
func NewDeadLettersHandler(queue Reader) *DeadLettersHandler {
	return &DeadLettersHandler{queue: queue}
}

// Handle lists dead-lettered items, most recent last. limit keeps the newest N.
func (h *DeadLettersHandler) Handle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := h.queue.DeadLetters(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list dead letters: %v", err)), nil
	}

	if limit := request.GetInt("limit", 0); limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}

	payload, _ := json.Marshal(DeadLettersResponse{Count: len(items), Items: items})
	return mcp.NewToolResultText(string(payload)), nil
}
