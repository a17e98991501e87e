package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolHandlerFunc is a function that handles a tool call
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

// ToolEntry pairs a tool definition with its handler
type ToolEntry struct {
	Tool    mcp.Tool
	Handler ToolHandlerFunc
}

// ToolHandlerRegistry maps tool names to their definitions and handlers
type ToolHandlerRegistry struct {
	entries map[string]ToolEntry
}

// NewToolHandlerRegistry creates a registry holding the given entries
func NewToolHandlerRegistry(initial ...ToolEntry) *ToolHandlerRegistry {
	r := &ToolHandlerRegistry{
		entries: make(map[string]ToolEntry, len(initial)),
	}
	for _, e := range initial {
		r.Register(e.Tool, e.Handler)
	}
	return r
}

// Register adds or replaces the entry for tool.Name
func (r *ToolHandlerRegistry) Register(tool mcp.Tool, handler ToolHandlerFunc) {
	r.entries[tool.Name] = ToolEntry{Tool: tool, Handler: handler}
}

// GetHandler returns the handler function for a given tool name
func (r *ToolHandlerRegistry) GetHandler(toolName string) (ToolHandlerFunc, error) {
	e, ok := r.entries[toolName]
	if !ok {
		return nil, fmt.Errorf("no handler registered for tool: %s", toolName)
	}
	return e.Handler, nil
}

// Entries returns the registered entries sorted by tool name
func (r *ToolHandlerRegistry) Entries() []ToolEntry {
	out := make([]ToolEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tool.Name < out[j].Tool.Name })
	return out
}

// Names returns the registered tool names sorted
func (r *ToolHandlerRegistry) Names() []string {
	entries := r.Entries()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Tool.Name
	}
	return names
}
