// Package workers provides the worker liveness tools
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
)

// WorkerStatus is a worker's last heartbeat plus whether it has gone quiet
type WorkerStatus struct {
	WorkerID      string             `json:"worker_id"`
	SessionID     string             `json:"session_id,omitempty"`
	Metrics       map[string]float64 `json:"metrics,omitempty"`
	FirstSeen     time.Time          `json:"first_seen"`
	LastHeartbeat time.Time          `json:"last_heartbeat"`
	Stale         bool               `json:"stale"`
}

// ListResponse is the workers.list payload
type ListResponse struct {
	Count      int             `json:"count"`
	StaleCount int             `json:"stale_count"`
	Workers    []*WorkerStatus `json:"workers"`
}

// RemoveResponse is the workers.remove payload
type RemoveResponse struct {
	WorkerID string `json:"worker_id"`
	Status   string `json:"status"`
}

// ListHandler handles workers.list
type ListHandler struct {
	workers    storage.WorkerLivenessStorage
	staleAfter func() time.Duration
	now        func() time.Time
}

// NewListHandler creates a list handler. Workers whose last heartbeat is
// older than staleAfter() are reported stale.
func NewListHandler(workers storage.WorkerLivenessStorage, staleAfter func() time.Duration) *ListHandler {
	return &ListHandler{workers: workers, staleAfter: staleAfter, now: time.Now}
}

// Handle lists known workers. worker_id narrows to one worker and stale_only
// keeps only the quiet ones.
func (h *ListHandler) Handle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	staleAfter := h.staleAfter()

	if workerID := request.GetString("worker_id", ""); workerID != "" {
		hb, err := h.workers.GetWorker(ctx, workerID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get worker: %v", err)), nil
		}
		if hb == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Unknown worker: %s", workerID)), nil
		}
		st := toStatus(hb, h.now().Sub(hb.LastHeartbeat) > staleAfter)
		return result(ListResponse{Count: 1, StaleCount: boolCount(st.Stale), Workers: []*WorkerStatus{st}})
	}

	stale, err := h.workers.ListStaleWorkers(ctx, staleAfter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list stale workers: %v", err)), nil
	}
	staleIDs := make(map[string]bool, len(stale))
	for _, hb := range stale {
		staleIDs[hb.WorkerID] = true
	}

	all := stale
	if !request.GetBool("stale_only", false) {
		all, err = h.workers.ListWorkers(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list workers: %v", err)), nil
		}
	}

	resp := ListResponse{Workers: make([]*WorkerStatus, 0, len(all))}
	for _, hb := range all {
		st := toStatus(hb, staleIDs[hb.WorkerID])
		resp.StaleCount += boolCount(st.Stale)
		resp.Workers = append(resp.Workers, st)
	}
	resp.Count = len(resp.Workers)
	return result(resp)
}

// RemoveHandler handles workers.remove
type RemoveHandler struct {
	workers storage.WorkerLivenessStorage
}

// NewRemoveHandler creates a remove handler
func NewRemoveHandler(workers storage.WorkerLivenessStorage) *RemoveHandler {
	return &RemoveHandler{workers: workers}
}

// Handle forgets a worker. Removing an unknown worker succeeds.
func (h *RemoveHandler) Handle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workerID, err := request.RequireString("worker_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := h.workers.RemoveWorker(ctx, workerID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to remove worker: %v", err)), nil
	}
	return result(RemoveResponse{WorkerID: workerID, Status: "removed"})
}

func toStatus(hb *storage.WorkerHeartbeat, stale bool) *WorkerStatus {
	return &WorkerStatus{
		WorkerID:      hb.WorkerID,
		SessionID:     hb.SessionID,
		Metrics:       hb.Metrics,
		FirstSeen:     hb.FirstSeen,
		LastHeartbeat: hb.LastHeartbeat,
		Stale:         stale,
	}
}

func boolCount(b bool) int {
	if b {
		return 1
	}
	return 0
}

func result(v any) (*mcp.CallToolResult, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}
