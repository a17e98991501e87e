package workers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
	"github.com/AltairaLabs/agentvine/internal/storage/memory"
)

func call(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Name: name, Arguments: args}}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("expected content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return text.Text
}

func seed(t *testing.T) *memory.InMemoryWorkerLivenessStorage {
	t.Helper()
	store := memory.NewInMemoryWorkerLivenessStorage()
	ctx := context.Background()
	for id, age := range map[string]time.Duration{"w-fresh": 0, "w-old": time.Hour} {
		err := store.RecordHeartbeat(ctx, &storage.WorkerHeartbeat{
			WorkerID:      id,
			SessionID:     "s-" + id,
			LastHeartbeat: time.Now().Add(-age),
		})
		if err != nil {
			t.Fatalf("RecordHeartbeat(%s) failed: %v", id, err)
		}
	}
	return store
}

func staleAfter() time.Duration { return 5 * time.Minute }

func TestListHandler(t *testing.T) {
	handler := NewListHandler(seed(t), staleAfter)

	tests := []struct {
		name      string
		args      map[string]interface{}
		wantCount int
		wantStale int
	}{
		{name: "all", args: nil, wantCount: 2, wantStale: 1},
		{name: "stale only", args: map[string]interface{}{"stale_only": true}, wantCount: 1, wantStale: 1},
		{name: "one fresh worker", args: map[string]interface{}{"worker_id": "w-fresh"}, wantCount: 1, wantStale: 0},
		{name: "one stale worker", args: map[string]interface{}{"worker_id": "w-old"}, wantCount: 1, wantStale: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := handler.Handle(context.Background(), call("workers.list", tt.args))
			if err != nil {
				t.Fatalf("Handler returned error: %v", err)
			}
			if result.IsError {
				t.Fatalf("Unexpected tool error: %s", resultText(t, result))
			}

			var resp ListResponse
			if err := json.Unmarshal([]byte(resultText(t, result)), &resp); err != nil {
				t.Fatalf("invalid payload: %v", err)
			}
			if resp.Count != tt.wantCount {
				t.Errorf("Expected %d workers, got %d", tt.wantCount, resp.Count)
			}
			if resp.StaleCount != tt.wantStale {
				t.Errorf("Expected %d stale, got %d", tt.wantStale, resp.StaleCount)
			}
		})
	}
}

func TestListHandlerUnknownWorker(t *testing.T) {
	handler := NewListHandler(seed(t), staleAfter)

	result, err := handler.Handle(context.Background(), call("workers.list", map[string]interface{}{"worker_id": "w-none"}))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	if !result.IsError {
		t.Error("Expected error result for unknown worker")
	}
}

func TestRemoveHandler(t *testing.T) {
	store := seed(t)
	handler := NewRemoveHandler(store)
	ctx := context.Background()

	result, err := handler.Handle(ctx, call("workers.remove", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	if !result.IsError {
		t.Error("Expected error result without worker_id")
	}

	for i := 0; i < 2; i++ {
		result, err = handler.Handle(ctx, call("workers.remove", map[string]interface{}{"worker_id": "w-old"}))
		if err != nil {
			t.Fatalf("Handler returned error: %v", err)
		}
		if result.IsError {
			t.Fatalf("Remove %d failed: %s", i, resultText(t, result))
		}
	}

	if hb, _ := store.GetWorker(ctx, "w-old"); hb != nil {
		t.Errorf("Expected worker removed, got %+v", hb)
	}
}
