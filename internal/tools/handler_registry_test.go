package tools

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestRegisterAndGet(t *testing.T) {
	const (
		toolA = "test.tool"
		toolB = "other.tool"
	)

	called := false
	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		called = true
		return mcp.NewToolResultText("ok"), nil
	}

	r := NewToolHandlerRegistry(ToolEntry{Tool: mcp.NewTool(toolA), Handler: handler})

	h, err := r.GetHandler(toolA)
	if err != nil {
		t.Fatalf("expected handler, got error: %v", err)
	}

	var req mcp.CallToolRequest
	res, err := h(context.Background(), req)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if res == nil {
		t.Fatalf("expected non-nil result")
	}
	if !called {
		t.Fatalf("expected handler to be called")
	}

	r.Register(mcp.NewTool(toolB), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("ok2"), nil
	})

	names := r.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 handlers, got %d", len(names))
	}
	if names[0] != toolB || names[1] != toolA {
		t.Fatalf("expected sorted names, got %v", names)
	}
}

func TestRegisterReplaces(t *testing.T) {
	r := NewToolHandlerRegistry()
	r.Register(mcp.NewTool("x", mcp.WithDescription("first")), nil)
	r.Register(mcp.NewTool("x", mcp.WithDescription("second")), nil)

	entries := r.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Tool.Description != "second" {
		t.Fatalf("expected replacement, got %q", entries[0].Tool.Description)
	}
}

func TestMissingHandler(t *testing.T) {
	r := NewToolHandlerRegistry()
	if _, err := r.GetHandler("nope"); err == nil {
		t.Fatalf("expected error for missing handler")
	}
}
