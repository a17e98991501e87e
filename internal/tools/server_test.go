package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/agentvine/internal/orchestrator"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/config"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/messaging"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/routing"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/session"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
	"github.com/AltairaLabs/agentvine/internal/storage/memory"
	"github.com/AltairaLabs/agentvine/internal/taskqueue"
	"github.com/AltairaLabs/agentvine/internal/tools/handlers/requests"
	"github.com/AltairaLabs/agentvine/internal/tools/handlers/workers"
	"github.com/AltairaLabs/agentvine/internal/types"
)

type fixture struct {
	mcp     *MCPServer
	channel *messaging.Channel
	queue   *taskqueue.TaskQueue
	workers *memory.InMemoryWorkerLivenessStorage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	src := config.Static(nil)

	ch, err := messaging.NewChannel(src, nil)
	require.NoError(t, err)

	tasks := memory.NewInMemoryTaskContextStore()
	tasks.Put("task-1", types.TaskContext{Type: "lint", Priority: types.TaskPriorityNormal})
	sessions := session.NewRegistry(memory.NewInMemorySessionStorage(), tasks, src, session.Options{})
	queue := taskqueue.NewTaskQueue(memory.NewInMemoryWorkQueueStorage(0), src, taskqueue.Options{})

	f := &fixture{channel: ch, queue: queue, workers: memory.NewInMemoryWorkerLivenessStorage()}

	var orch *orchestrator.Orchestrator
	answerer := answererFunc(func(requestID, content, responderID string) error {
		return orch.Answered(requestID, content, responderID)
	})
	f.mcp = NewMCPServer(ServerConfig{Version: "test"}, Deps{
		Requests:         ch,
		Answerer:         answerer,
		Queue:            queue,
		Sessions:         sessions,
		Workers:          f.workers,
		WorkerStaleAfter: func() time.Duration { return time.Minute },
	}, nil)

	orch, err = orchestrator.New(src, orchestrator.Options{
		Channel:  ch,
		Engine:   routing.NewEngine(nil, nil),
		Sessions: sessions,
		Tasks:    tasks,
		Human:    f.mcp,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = orch.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

type answererFunc func(requestID, content, responderID string) error

func (f answererFunc) Answered(requestID, content, responderID string) error {
	return f(requestID, content, responderID)
}

func (f *fixture) callTool(t *testing.T, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	h, err := f.mcp.Registry().GetHandler(name)
	require.NoError(t, err)
	result, err := h(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	require.NoError(t, err)
	return result
}

func text(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func TestAllToolsRegistered(t *testing.T) {
	f := newFixture(t)
	expected := config.AllTools()
	assert.ElementsMatch(t, expected, f.mcp.Registry().Names())
}

func TestOperatorAnswersPendingRequest(t *testing.T) {
	f := newFixture(t)

	pending, err := f.channel.Submit(context.Background(), &types.RequestMessage{
		WorkerID:        "worker-1",
		SessionID:       "session-1",
		TaskID:          "task-1",
		Kind:            types.KindApproval,
		PermissionLevel: types.PermissionSupervised,
		Content:         "may I delete the vendored copy?",
	})
	require.NoError(t, err)

	var listed requests.PendingResponse
	require.Eventually(t, func() bool {
		result := f.callTool(t, config.ToolRequestsPending, nil)
		if err := json.Unmarshal([]byte(text(t, result)), &listed); err != nil {
			return false
		}
		return listed.Count == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, pending.Request.ID, listed.Requests[0].ID)

	result := f.callTool(t, config.ToolRequestsAnswer, map[string]interface{}{
		"request_id":   pending.Request.ID,
		"content":      "yes",
		"responder_id": "alice",
	})
	require.False(t, result.IsError, text(t, result))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := pending.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "yes", resp.Content)
	assert.Equal(t, types.GeneratedByHuman, resp.GeneratedBy)
	assert.Equal(t, "alice", resp.ResponderID)

	again := f.callTool(t, config.ToolRequestsAnswer, map[string]interface{}{
		"request_id": pending.Request.ID,
		"content":    "no",
	})
	assert.True(t, again.IsError)

	var thread requests.ThreadResponse
	require.NoError(t, json.Unmarshal([]byte(text(t, f.callTool(t, config.ToolRequestsThread, map[string]interface{}{
		"thread_id": "session-1",
	}))), &thread))
	require.Len(t, thread.Exchanges, 1)
	require.NotNil(t, thread.Exchanges[0].Response)
	assert.Equal(t, "yes", thread.Exchanges[0].Response.Content)
}

func TestQueueToolsReflectDeadLetters(t *testing.T) {
	cfg := config.Default()
	cfg.Queue.MaxRetries = 1
	cfg.Queue.RetryInitialDelay = time.Millisecond
	cfg.Queue.RetryMaxDelay = time.Millisecond
	queue := taskqueue.NewTaskQueue(memory.NewInMemoryWorkQueueStorage(0), config.Static(cfg), taskqueue.Options{})
	f := &fixture{queue: queue, mcp: NewMCPServer(ServerConfig{}, Deps{Queue: queue}, nil)}
	ctx := context.Background()

	item, err := queue.Enqueue(ctx, &types.WorkItem{TaskID: "task-1", Priority: types.PriorityHigh})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		require.Eventually(t, func() bool {
			claimed, err := queue.Claim(ctx, "worker-1", nil)
			return err == nil && claimed != nil
		}, 2*time.Second, 5*time.Millisecond)
		require.NoError(t, queue.Fail(ctx, item.ID, "worker-1", "exploded"))
	}

	result := f.callTool(t, config.ToolQueueDeadLetters, nil)
	assert.Contains(t, text(t, result), item.ID)
	assert.Contains(t, text(t, f.callTool(t, config.ToolQueueStats, nil)), `"dead_lettered":1`)
}

func TestWorkerToolsReportLiveness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.workers.RecordHeartbeat(ctx, &storage.WorkerHeartbeat{
		WorkerID:      "worker-live",
		LastHeartbeat: time.Now(),
	}))
	require.NoError(t, f.workers.RecordHeartbeat(ctx, &storage.WorkerHeartbeat{
		WorkerID:      "worker-quiet",
		LastHeartbeat: time.Now().Add(-10 * time.Minute),
	}))

	var all workers.ListResponse
	require.NoError(t, json.Unmarshal([]byte(text(t, f.callTool(t, config.ToolWorkersList, nil))), &all))
	assert.Equal(t, 2, all.Count)
	assert.Equal(t, 1, all.StaleCount)

	var stale workers.ListResponse
	require.NoError(t, json.Unmarshal([]byte(text(t, f.callTool(t, config.ToolWorkersList, map[string]interface{}{
		"stale_only": true,
	}))), &stale))
	require.Len(t, stale.Workers, 1)
	assert.Equal(t, "worker-quiet", stale.Workers[0].WorkerID)
	assert.True(t, stale.Workers[0].Stale)

	removed := f.callTool(t, config.ToolWorkersRemove, map[string]interface{}{"worker_id": "worker-quiet"})
	require.False(t, removed.IsError, text(t, removed))

	gone := f.callTool(t, config.ToolWorkersList, map[string]interface{}{"worker_id": "worker-quiet"})
	assert.True(t, gone.IsError)

	live := f.callTool(t, config.ToolWorkersList, map[string]interface{}{"worker_id": "worker-live"})
	require.False(t, live.IsError, text(t, live))
	assert.Contains(t, text(t, live), `"stale":false`)
}

func TestPublishAndReportWithoutClients(t *testing.T) {
	ms := NewMCPServer(ServerConfig{}, Deps{}, nil)
	err := ms.Publish(context.Background(), &types.RequestMessage{ID: "r1"}, types.RoutingDecision{Rule: routing.RuleDefaultHuman})
	assert.NoError(t, err)
	assert.NotPanics(t, func() {
		ms.Report(context.Background(), &types.WorkItem{ID: "w1"})
	})
}

func TestServeHTTPStopsOnCancel(t *testing.T) {
	ms := NewMCPServer(ServerConfig{}, Deps{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- ms.ServeHTTP(ctx, "127.0.0.1:0", "") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ServeHTTP did not return after cancel")
	}
}
