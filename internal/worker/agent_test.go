package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/AltairaLabs/agentvine/internal/orchestrator"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/config"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/messaging"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/routing"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/session"
	"github.com/AltairaLabs/agentvine/internal/rpc"
	"github.com/AltairaLabs/agentvine/internal/storage/memory"
	"github.com/AltairaLabs/agentvine/internal/taskqueue"
	"github.com/AltairaLabs/agentvine/internal/types"
)

type env struct {
	client   *rpc.Client
	queue    *taskqueue.TaskQueue
	sessions *session.Registry
}

func setupEnv(t *testing.T) *env {
	t.Helper()

	cfg := config.Default()
	cfg.Queue.RetryInitialDelay = time.Millisecond
	cfg.Queue.RetryMaxDelay = time.Millisecond
	cfg.Loop.DrainGracePeriod = 10 * time.Millisecond
	src := config.Static(cfg)

	tasks := memory.NewInMemoryTaskContextStore()
	tasks.Put("task-1", types.TaskContext{Type: "lint", Priority: types.TaskPriorityNormal})
	queue := taskqueue.NewTaskQueue(memory.NewInMemoryWorkQueueStorage(0), src, taskqueue.Options{})
	sessions := session.NewRegistry(memory.NewInMemorySessionStorage(), tasks, src, session.Options{})
	channel, err := messaging.NewChannel(src, nil)
	require.NoError(t, err)

	orch, err := orchestrator.New(src, orchestrator.Options{
		Channel:   channel,
		Engine:    routing.NewEngine(nil, nil),
		Sessions:  sessions,
		Tasks:     tasks,
		Automated: orchestrator.EchoHandler{},
	})
	require.NoError(t, err)

	lis := bufconn.Listen(1024 * 1024)
	gs := grpc.NewServer()
	rpc.NewServer(queue, sessions, channel, memory.NewInMemoryWorkerLivenessStorage(), nil).Register(gs)
	go func() { _ = gs.Serve(lis) }()

	conn, err := rpc.Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
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
		_ = conn.Close()
		gs.Stop()
	})
	return &env{client: rpc.NewClient(conn), queue: queue, sessions: sessions}
}

func newTestAgent(t *testing.T, client Orchestrator, exec Executor) *Agent {
	t.Helper()
	a, err := NewAgent(client, exec, Config{
		WorkerID:          "worker-1",
		HeartbeatInterval: 10 * time.Millisecond,
		PollInitial:       time.Millisecond,
		PollMax:           5 * time.Millisecond,
	})
	require.NoError(t, err)
	return a
}

func TestNewAgentRequiresWorkerID(t *testing.T) {
	_, err := NewAgent(nil, nil, Config{})
	assert.Error(t, err)
}

func TestRunOnceEmptyQueue(t *testing.T) {
	e := setupEnv(t)
	a := newTestAgent(t, e.client, nil)

	ran, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestRunOnceAsksAndCompletes(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()

	payload, _ := json.Marshal(QuestionPayload{
		Question:        "is lint enabled?",
		Kind:            types.KindStatus,
		PermissionLevel: types.PermissionAutonomous,
	})
	item, err := e.queue.Enqueue(ctx, &types.WorkItem{TaskID: "task-1", Payload: payload})
	require.NoError(t, err)

	a := newTestAgent(t, e.client, QuestionExecutor{})
	ran, err := a.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	stored, err := e.queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkCompleted, stored.Status)

	var result QuestionResult
	require.NoError(t, json.Unmarshal(stored.Result, &result))
	assert.Equal(t, types.GeneratedByAutomated, result.GeneratedBy)
	assert.Contains(t, result.Answer, "is lint enabled?")

	stats := a.Stats()
	assert.Equal(t, int64(1), stats.Claimed)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Asked)

	sess := a.Session()
	require.NotNil(t, sess)
	stored2, err := e.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionIdle, stored2.State)
}

func TestRunOnceFailureRequeues(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()

	payload, _ := json.Marshal(QuestionPayload{Fail: "compiler crashed"})
	item, err := e.queue.Enqueue(ctx, &types.WorkItem{TaskID: "task-1", Payload: payload})
	require.NoError(t, err)

	a := newTestAgent(t, e.client, nil)
	ran, err := a.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	stored, err := e.queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkQueued, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, "compiler crashed", stored.LastError)
	assert.Equal(t, int64(1), a.Stats().Failed)
}

func TestExecutorPanicFailsItem(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	item, err := e.queue.Enqueue(ctx, &types.WorkItem{TaskID: "task-1"})
	require.NoError(t, err)

	a := newTestAgent(t, e.client, ExecutorFunc(func(context.Context, *Job) (json.RawMessage, error) {
		panic("boom")
	}))
	_, err = a.RunOnce(ctx)
	require.NoError(t, err)

	stored, err := e.queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Contains(t, stored.LastError, "executor panic")
}

func TestRunDrainsQueueAndTerminatesSession(t *testing.T) {
	e := setupEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < 3; i++ {
		_, err := e.queue.Enqueue(context.Background(), &types.WorkItem{TaskID: "task-1"})
		require.NoError(t, err)
	}

	a := newTestAgent(t, e.client, nil)
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return a.Stats().Completed == 3 }, 2*time.Second, 5*time.Millisecond)
	sess := a.Session()
	require.NotNil(t, sess)

	cancel()
	require.NoError(t, <-done)

	stored, err := e.sessions.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionTerminated, stored.State)
	assert.Equal(t, types.CauseWorkerShutdown, stored.TerminationCause)
	assert.Nil(t, a.Session())
}

// fakeOrchestrator scripts stale acks and terminated heartbeats
type fakeOrchestrator struct {
	rpc.Client
	mu         sync.Mutex
	item       *types.WorkItem
	stale      bool
	terminated bool
	heartbeats []*rpc.HeartbeatRequest
}

func (f *fakeOrchestrator) Claim(context.Context, *rpc.ClaimRequest) (*rpc.ClaimResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.item
	f.item = nil
	return &rpc.ClaimResponse{Item: item}, nil
}

func (f *fakeOrchestrator) Complete(context.Context, *rpc.CompleteRequest) (*rpc.Ack, error) {
	return &rpc.Ack{Acknowledged: true, Stale: f.stale}, nil
}

func (f *fakeOrchestrator) Fail(context.Context, *rpc.FailRequest) (*rpc.Ack, error) {
	return nil, errors.New("unreachable")
}

func (f *fakeOrchestrator) CreateSession(_ context.Context, in *rpc.CreateSessionRequest) (*rpc.CreateSessionResponse, error) {
	return &rpc.CreateSessionResponse{Session: &types.Session{ID: "s-1", WorkerID: in.WorkerID, State: types.SessionActive}}, nil
}

func (f *fakeOrchestrator) Heartbeat(_ context.Context, in *rpc.HeartbeatRequest) (*rpc.HeartbeatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, in)
	return &rpc.HeartbeatResponse{Acknowledged: true, Terminated: f.terminated}, nil
}

func (f *fakeOrchestrator) ReleaseSession(context.Context, *rpc.SessionRequest) (*rpc.Ack, error) {
	return &rpc.Ack{Acknowledged: true}, nil
}

func TestStaleCompletionIsCounted(t *testing.T) {
	f := &fakeOrchestrator{item: &types.WorkItem{ID: "i-1"}, stale: true}
	a := newTestAgent(t, f, nil)

	ran, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ran)
	assert.Equal(t, int64(1), a.Stats().Stale)
	assert.Equal(t, int64(0), a.Stats().Completed)
}

func TestHeartbeatDropsTerminatedSession(t *testing.T) {
	f := &fakeOrchestrator{item: &types.WorkItem{ID: "i-1"}}
	a := newTestAgent(t, f, nil)

	_, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, a.Session())

	require.NoError(t, a.SendHeartbeat(context.Background()))
	assert.NotNil(t, a.Session())

	f.terminated = true
	require.NoError(t, a.SendHeartbeat(context.Background()))
	assert.Nil(t, a.Session())

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.heartbeats, 2)
	assert.Equal(t, "s-1", f.heartbeats[1].SessionID)
	assert.Equal(t, 1.0, f.heartbeats[1].Metrics["completed"])
}
