package sessions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
	"github.com/AltairaLabs/agentvine/internal/types"
)

type mockLister struct {
	sessions []*types.Session
	filters  []storage.SessionFilter
}

func (m *mockLister) List(ctx context.Context, filter storage.SessionFilter) ([]*types.Session, error) {
	m.filters = append(m.filters, filter)
	var out []*types.Session
	for _, s := range m.sessions {
		if filter.WorkerID != "" && s.WorkerID != filter.WorkerID {
			continue
		}
		if filter.State != "" && s.State != filter.State {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Name: "sessions.list", Arguments: args}}
}

func TestListHandler(t *testing.T) {
	lister := &mockLister{sessions: []*types.Session{
		{ID: "s1", WorkerID: "w1", State: types.SessionActive},
		{ID: "s2", WorkerID: "w1", State: types.SessionTerminated},
		{ID: "s3", WorkerID: "w2", State: types.SessionIdle},
	}}
	handler := NewListHandler(lister)

	result, err := handler.Handle(context.Background(), call(map[string]interface{}{
		"worker_id": "w1",
		"state":     "active",
	}))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	var resp ListResponse
	if err := json.Unmarshal([]byte(text.Text), &resp); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if resp.Count != 1 || resp.Sessions[0].ID != "s1" {
		t.Errorf("unexpected sessions: %+v", resp)
	}
	if lister.filters[0].State != types.SessionActive {
		t.Errorf("state filter not passed through: %+v", lister.filters[0])
	}
}

func TestListHandlerRejectsUnknownState(t *testing.T) {
	lister := &mockLister{}
	result, err := NewListHandler(lister).Handle(context.Background(), call(map[string]interface{}{"state": "sleeping"}))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for unknown state")
	}
	if len(lister.filters) != 0 {
		t.Error("registry should not be queried with an invalid filter")
	}
}
