// Package tools exposes the human-interaction surface over MCP: operators list
// pending worker requests, answer them, and inspect the queue and sessions.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/config"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
	"github.com/AltairaLabs/agentvine/internal/tools/handlers/queue"
	"github.com/AltairaLabs/agentvine/internal/tools/handlers/requests"
	"github.com/AltairaLabs/agentvine/internal/tools/handlers/sessions"
	"github.com/AltairaLabs/agentvine/internal/tools/handlers/workers"
	"github.com/AltairaLabs/agentvine/internal/types"
)

// Notification methods pushed to connected clients
const (
	NotificationRequestPending = "notifications/agentvine/request_pending"
	NotificationDeadLetter     = "notifications/agentvine/dead_letter"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// ServerConfig names the MCP server
type ServerConfig struct {
	Name    string
	Version string
}

// Deps are the orchestration components the tools read and drive
type Deps struct {
	Requests requests.Source
	Answerer requests.Answerer
	Queue    queue.Reader
	Sessions sessions.Lister
	Workers  storage.WorkerLivenessStorage

	// WorkerStaleAfter returns the silence after which a worker is listed as
	// stale. Nil uses the default.
	WorkerStaleAfter func() time.Duration
}

// MCPServer is the MCP surface for people answering worker requests
type MCPServer struct {
	server   *server.MCPServer
	registry *ToolHandlerRegistry
	logger   *slog.Logger
}

// NewMCPServer creates the MCP server and registers every tool
func NewMCPServer(cfg ServerConfig, deps Deps, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "agentvine"
	}
	if deps.WorkerStaleAfter == nil {
		deps.WorkerStaleAfter = func() time.Duration { return config.DefaultWorkerStaleAfter }
	}

	ms := &MCPServer{
		server: server.NewMCPServer(
			cfg.Name,
			cfg.Version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		registry: NewToolHandlerRegistry(defaultEntries(deps, logger)...),
		logger:   logger,
	}

	for _, e := range ms.registry.Entries() {
		ms.server.AddTool(e.Tool, server.ToolHandlerFunc(e.Handler))
	}
	return ms
}

func defaultEntries(deps Deps, logger *slog.Logger) []ToolEntry {
	return []ToolEntry{
		{
			Tool: mcp.NewTool(config.ToolRequestsPending,
				mcp.WithDescription("List worker requests waiting for a human answer"),
				mcp.WithString("worker_id",
					mcp.Description("Only show requests from this worker"),
				),
			),
			Handler: requests.NewPendingHandler(deps.Requests).Handle,
		},
		{
			Tool: mcp.NewTool(config.ToolRequestsAnswer,
				mcp.WithDescription("Answer a pending worker request"),
				mcp.WithString("request_id",
					mcp.Required(),
					mcp.Description("ID of the request to answer"),
				),
				mcp.WithString("content",
					mcp.Required(),
					mcp.Description("Answer text delivered to the worker"),
				),
				mcp.WithString("responder_id",
					mcp.Description("Who is answering (defaults to the MCP session)"),
				),
			),
			Handler: requests.NewAnswerHandler(deps.Answerer, logger).Handle,
		},
		{
			Tool: mcp.NewTool(config.ToolRequestsThread,
				mcp.WithDescription("Show the requests and responses of a conversation thread"),
				mcp.WithString("thread_id",
					mcp.Required(),
					mcp.Description("Thread ID (defaults to the worker session ID)"),
				),
			),
			Handler: requests.NewThreadHandler(deps.Requests).Handle,
		},
		{
			Tool: mcp.NewTool(config.ToolQueueStats,
				mcp.WithDescription("Report work queue counts per priority tier"),
			),
			Handler: queue.NewStatsHandler(deps.Queue).Handle,
		},
		{
			Tool: mcp.NewTool(config.ToolQueueDeadLetters,
				mcp.WithDescription("List work items that exhausted their retry budget"),
				mcp.WithNumber("limit",
					mcp.Description("Return only the most recent N items"),
				),
			),
			Handler: queue.NewDeadLettersHandler(deps.Queue).Handle,
		},
		{
			Tool: mcp.NewTool(config.ToolSessionsList,
				mcp.WithDescription("List worker sessions"),
				mcp.WithString("worker_id",
					mcp.Description("Only show sessions of this worker"),
				),
				mcp.WithString("state",
					mcp.Description("Filter by state: active, idle or terminated"),
				),
			),
			Handler: sessions.NewListHandler(deps.Sessions).Handle,
		},
		{
			Tool: mcp.NewTool(config.ToolWorkersList,
				mcp.WithDescription("List workers by last heartbeat, flagging the ones that went quiet"),
				mcp.WithString("worker_id",
					mcp.Description("Only show this worker"),
				),
				mcp.WithBoolean("stale_only",
					mcp.Description("Only show stale workers"),
				),
			),
			Handler: workers.NewListHandler(deps.Workers, deps.WorkerStaleAfter).Handle,
		},
		{
			Tool: mcp.NewTool(config.ToolWorkersRemove,
				mcp.WithDescription("Forget a worker that is not coming back"),
				mcp.WithString("worker_id",
					mcp.Required(),
					mcp.Description("ID of the worker to remove"),
				),
			),
			Handler: workers.NewRemoveHandler(deps.Workers).Handle,
		},
	}
}

// Registry returns the tool registry
func (ms *MCPServer) Registry() *ToolHandlerRegistry {
	return ms.registry
}

// Publish notifies connected clients that a request needs a human
func (ms *MCPServer) Publish(ctx context.Context, req *types.RequestMessage, decision types.RoutingDecision) error {
	ms.server.SendNotificationToAllClients(NotificationRequestPending, map[string]any{
		"request_id": req.ID,
		"worker_id":  req.WorkerID,
		"session_id": req.SessionID,
		"task_id":    req.TaskID,
		"thread_id":  req.ThreadID,
		"kind":       string(req.Kind),
		"content":    req.Content,
		"rule":       decision.Rule,
		"rationale":  decision.Rationale,
		"expires_at": req.ExpiresAt.Format(time.RFC3339),
	})
	ms.logger.Debug("Published request to operators", "request_id", req.ID, "rule", decision.Rule)
	return nil
}

// Report notifies connected clients that a work item was dead-lettered
func (ms *MCPServer) Report(ctx context.Context, item *types.WorkItem) {
	ms.server.SendNotificationToAllClients(NotificationDeadLetter, map[string]any{
		"item_id":     item.ID,
		"task_id":     item.TaskID,
		"priority":    string(item.Priority),
		"retry_count": item.RetryCount,
		"last_error":  item.LastError,
	})
}

// Serve starts the MCP server with stdio transport
func (ms *MCPServer) Serve() error {
	ms.logger.Info("Starting MCP server with stdio transport")
	return server.ServeStdio(ms.server)
}

// ServeHTTP serves MCP over HTTP/SSE on addr until ctx is cancelled
func (ms *MCPServer) ServeHTTP(ctx context.Context, addr, baseURL string) error {
	lis, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if baseURL == "" {
		baseURL = "http://" + lis.Addr().String()
	}

	hs := &http.Server{ReadHeaderTimeout: readHeaderTimeout}
	sseServer := server.NewSSEServer(ms.server,
		server.WithBaseURL(baseURL),
		server.WithStaticBasePath("/mcp"),
		server.WithHTTPServer(hs),
	)
	hs.Handler = sseServer

	errCh := make(chan error, 1)
	go func() {
		ms.logger.Info("Starting MCP server with HTTP/SSE transport", "address", lis.Addr().String(), "base_path", "/mcp")
		errCh <- hs.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := sseServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
