package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/config"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/messaging"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/metrics"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/routing"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/session"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
	"github.com/AltairaLabs/agentvine/internal/storage/memory"
	"github.com/AltairaLabs/agentvine/internal/types"
)

type recordingSurface struct {
	published chan *types.RequestMessage
}

func newRecordingSurface() *recordingSurface {
	return &recordingSurface{published: make(chan *types.RequestMessage, 32)}
}

func (s *recordingSurface) Publish(_ context.Context, req *types.RequestMessage, _ types.RoutingDecision) error {
	s.published <- req
	return nil
}

func (s *recordingSurface) next(t *testing.T) *types.RequestMessage {
	t.Helper()
	select {
	case req := <-s.published:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no request published to human surface")
		return nil
	}
}

type panickingTasks struct {
	storage.TaskContextStore
}

func (p panickingTasks) GetTaskContext(ctx context.Context, taskID string) (*types.TaskContext, error) {
	if taskID == "poison" {
		panic("corrupt task record")
	}
	return p.TaskContextStore.GetTaskContext(ctx, taskID)
}

type harness struct {
	orch    *Orchestrator
	channel *messaging.Channel
	human   *recordingSurface
	tasks   *memory.InMemoryTaskContextStore
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func newHarness(t *testing.T, mutate func(*config.Config), automated AutomatedHandler) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Loop.DrainGracePeriod = 50 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	src := config.Static(cfg)

	ch, err := messaging.NewChannel(src, nil)
	require.NoError(t, err)

	tasks := memory.NewInMemoryTaskContextStore()
	tasks.Put("task-1", types.TaskContext{Type: "lint", Priority: types.TaskPriorityNormal})
	tasks.Put("task-critical", types.TaskContext{Type: "lint", Priority: types.TaskPriorityCritical})

	sessions := session.NewRegistry(memory.NewInMemorySessionStorage(), tasks, src, session.Options{})
	human := newRecordingSurface()

	orch, err := New(src, Options{
		Channel:   ch,
		Engine:    routing.NewEngine(routing.NewTable(routing.StandardRules(func() int { return cfg.Routing.SimpleMaxLength })...), nil),
		Sessions:  sessions,
		Tasks:     panickingTasks{tasks},
		Automated: automated,
		Human:     human,
		Metrics:   metrics.MustNewMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{orch: orch, channel: ch, human: human, tasks: tasks, cancel: cancel, done: make(chan struct{})}
	go func() {
		h.err = orch.Run(ctx)
		close(h.done)
	}()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
	}
}

func (h *harness) submit(t *testing.T, req *types.RequestMessage) *messaging.Pending {
	t.Helper()
	p, err := h.channel.Submit(context.Background(), req)
	require.NoError(t, err)
	return p
}

func wait(t *testing.T, p *messaging.Pending) *types.ResponseMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := p.Wait(ctx)
	require.NoError(t, err, "no response for %s", p.Request.ID)
	return resp
}

func simpleQuestion(id string) *types.RequestMessage {
	return &types.RequestMessage{
		ID:              id,
		WorkerID:        "worker-1",
		SessionID:       "session-1",
		TaskID:          "task-1",
		Kind:            types.KindClarification,
		PermissionLevel: types.PermissionAutonomous,
		Content:         "which test runner should I use?",
	}
}

func approval(id string) *types.RequestMessage {
	req := simpleQuestion(id)
	req.Kind = types.KindApproval
	req.Content = "may I merge the branch?"
	return req
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)

	ch, err := messaging.NewChannel(nil, nil)
	require.NoError(t, err)
	_, err = New(nil, Options{Channel: ch})
	assert.Error(t, err)
}

func TestAutomatedRoute(t *testing.T) {
	h := newHarness(t, nil, EchoHandler{})

	resp := wait(t, h.submit(t, simpleQuestion("r1")))
	assert.Equal(t, types.GeneratedByAutomated, resp.GeneratedBy)
	assert.Contains(t, resp.Content, "which test runner")
	assert.Equal(t, "r1", resp.InReplyTo)
}

func TestHumanRouteAndAnsweredIdempotence(t *testing.T) {
	h := newHarness(t, nil, EchoHandler{})

	p := h.submit(t, approval("r1"))
	published := h.human.next(t)
	assert.Equal(t, "r1", published.ID)

	require.NoError(t, h.orch.Answered("r1", "yes, merge it", "alice"))
	resp := wait(t, p)
	assert.Equal(t, types.GeneratedByHuman, resp.GeneratedBy)
	assert.Equal(t, "yes, merge it", resp.Content)
	assert.Equal(t, "alice", resp.ResponderID)

	assert.ErrorIs(t, h.orch.Answered("r1", "no wait", "bob"), ErrDuplicateResponse)
	assert.ErrorIs(t, h.orch.Answered("missing", "hello", "bob"), ErrUnknownRequest)

	again, err := h.channel.Await(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "yes, merge it", again.Content)
}

func TestCriticalTaskEscalates(t *testing.T) {
	h := newHarness(t, nil, EchoHandler{})

	req := simpleQuestion("r1")
	req.TaskID = "task-critical"
	h.submit(t, req)

	assert.Equal(t, "r1", h.human.next(t).ID)
}

func TestHumanCeilingEmitsSystemResponse(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Routing.HumanResponseCeiling = 20 * time.Millisecond }, nil)

	resp := wait(t, h.submit(t, approval("r1")))
	assert.Equal(t, types.GeneratedBySystem, resp.GeneratedBy)
	assert.True(t, strings.HasPrefix(resp.Content, "timeout: no human response within"), resp.Content)

	assert.ErrorIs(t, h.orch.Answered("r1", "too late", "alice"), ErrDuplicateResponse)
}

func TestLoopStaysLiveWhileHumanIsSilent(t *testing.T) {
	h := newHarness(t, nil, EchoHandler{})

	slow := h.submit(t, approval("a"))
	h.human.next(t)

	fast := h.submit(t, simpleQuestion("b"))
	resp := wait(t, fast)
	assert.Equal(t, types.GeneratedByAutomated, resp.GeneratedBy)

	assert.Eventually(t, func() bool { return h.orch.InFlight() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.orch.Answered("a", "approved", "alice"))
	assert.Equal(t, types.GeneratedByHuman, wait(t, slow).GeneratedBy)
}

func TestHumanWaitDoesNotHoldAutomatedSlot(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Loop.MaxInFlight = 1 }, EchoHandler{})

	slow := h.submit(t, approval("a"))
	h.human.next(t)

	for _, id := range []string{"b", "c"} {
		resp := wait(t, h.submit(t, simpleQuestion(id)))
		assert.Equal(t, types.GeneratedByAutomated, resp.GeneratedBy, id)
	}

	require.NoError(t, h.orch.Answered("a", "approved", "alice"))
	assert.Equal(t, types.GeneratedByHuman, wait(t, slow).GeneratedBy)
}

func TestBusyAutomatedSlotDoesNotBlockLoop(t *testing.T) {
	release := make(chan struct{})
	handler := AutomatedFunc(func(ctx context.Context, req *types.RequestMessage, _ *types.TaskContext) (string, error) {
		if req.ID == "slow" {
			select {
			case <-release:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return "done", nil
	})
	h := newHarness(t, func(c *config.Config) { c.Loop.MaxInFlight = 1 }, handler)

	slow := h.submit(t, simpleQuestion("slow"))
	assert.Eventually(t, func() bool { return h.orch.InFlight() == 1 }, time.Second, 5*time.Millisecond)

	bad := simpleQuestion("bad")
	bad.WorkerID = ""
	resp := wait(t, h.submit(t, bad))
	assert.Equal(t, types.GeneratedBySystem, resp.GeneratedBy)

	close(release)
	assert.Equal(t, "done", wait(t, slow).Content)
	assert.Equal(t, "done", wait(t, h.submit(t, simpleQuestion("after"))).Content)
}

func TestSaturatedAutomatedSlotFallsBackToHuman(t *testing.T) {
	release := make(chan struct{})
	handler := AutomatedFunc(func(_ context.Context, req *types.RequestMessage, _ *types.TaskContext) (string, error) {
		if req.ID == "slow" {
			<-release
		}
		return "done", nil
	})
	h := newHarness(t, func(c *config.Config) {
		c.Loop.MaxInFlight = 1
		c.Routing.AutomatedTimeout = 200 * time.Millisecond
	}, handler)
	defer close(release)

	h.submit(t, simpleQuestion("slow"))
	assert.Eventually(t, func() bool { return h.orch.InFlight() == 1 }, time.Second, 5*time.Millisecond)

	queued := h.submit(t, simpleQuestion("queued"))
	assert.Equal(t, "queued", h.human.next(t).ID)
	require.NoError(t, h.orch.Answered("queued", "use go test", "alice"))
	assert.Equal(t, types.GeneratedByHuman, wait(t, queued).GeneratedBy)
}

func TestHumanWaitEndsAtRequestExpiry(t *testing.T) {
	h := newHarness(t, nil, EchoHandler{})

	req := approval("r1")
	req.CreatedAt = time.Now()
	req.ExpiresAt = req.CreatedAt.Add(30 * time.Millisecond)

	resp := wait(t, h.submit(t, req))
	assert.Equal(t, types.GeneratedBySystem, resp.GeneratedBy)
	assert.True(t, strings.HasPrefix(resp.Content, "timeout: no human response within"), resp.Content)
}

func TestAutomatedFallsBackToHuman(t *testing.T) {
	tests := []struct {
		name    string
		handler AutomatedHandler
	}{
		{name: "error", handler: AutomatedFunc(func(context.Context, *types.RequestMessage, *types.TaskContext) (string, error) {
			return "", errors.New("model unavailable")
		})},
		{name: "empty answer", handler: AutomatedFunc(func(context.Context, *types.RequestMessage, *types.TaskContext) (string, error) {
			return "   ", nil
		})},
		{name: "timeout", handler: AutomatedFunc(func(ctx context.Context, _ *types.RequestMessage, _ *types.TaskContext) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})},
		{name: "no handler", handler: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *config.Config) { c.Routing.AutomatedTimeout = 20 * time.Millisecond }, tt.handler)

			p := h.submit(t, simpleQuestion("r1"))
			assert.Equal(t, "r1", h.human.next(t).ID)

			require.NoError(t, h.orch.Answered("r1", "use go test", "alice"))
			assert.Equal(t, types.GeneratedByHuman, wait(t, p).GeneratedBy)
		})
	}
}

func TestMalformedRequestIsRejected(t *testing.T) {
	h := newHarness(t, nil, EchoHandler{})

	bad := simpleQuestion("bad")
	bad.SessionID = ""
	resp := wait(t, h.submit(t, bad))
	assert.Equal(t, types.GeneratedBySystem, resp.GeneratedBy)
	assert.Contains(t, resp.Content, "rejected: malformed request")
	assert.Contains(t, resp.Content, "session id")

	good := wait(t, h.submit(t, simpleQuestion("good")))
	assert.Equal(t, types.GeneratedByAutomated, good.GeneratedBy)
}

func TestPoisonedMessageDoesNotStopLoop(t *testing.T) {
	h := newHarness(t, nil, EchoHandler{})

	poison := simpleQuestion("poison")
	poison.TaskID = "poison"
	resp := wait(t, h.submit(t, poison))
	assert.Equal(t, types.GeneratedBySystem, resp.GeneratedBy)
	assert.Equal(t, config.MsgInternalError, resp.Content)

	next := wait(t, h.submit(t, simpleQuestion("next")))
	assert.Equal(t, types.GeneratedByAutomated, next.GeneratedBy)
}

func TestPanickingHandlerIsContained(t *testing.T) {
	handler := AutomatedFunc(func(_ context.Context, req *types.RequestMessage, _ *types.TaskContext) (string, error) {
		if req.ID == "boom" {
			panic("handler bug")
		}
		return "fine", nil
	})
	h := newHarness(t, nil, handler)

	resp := wait(t, h.submit(t, simpleQuestion("boom")))
	assert.Equal(t, types.GeneratedBySystem, resp.GeneratedBy)

	assert.Equal(t, "fine", wait(t, h.submit(t, simpleQuestion("ok"))).Content)
}

func TestUnknownSessionStillRouted(t *testing.T) {
	h := newHarness(t, nil, EchoHandler{})

	req := simpleQuestion("r1")
	req.SessionID = "never-created"
	assert.Equal(t, types.GeneratedByAutomated, wait(t, h.submit(t, req)).GeneratedBy)
}

func TestShutdownDrainsAndCancels(t *testing.T) {
	h := newHarness(t, nil, EchoHandler{})

	p := h.submit(t, approval("r1"))
	h.human.next(t)

	h.cancel()
	select {
	case <-h.done:
		assert.NoError(t, h.err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after drain")
	}

	resp := wait(t, p)
	assert.Equal(t, types.GeneratedBySystem, resp.GeneratedBy)
	assert.Equal(t, config.MsgShutdown, resp.Content)
	assert.Equal(t, 0, h.orch.InFlight())
	assert.Equal(t, StateIdle, h.orch.State())
}

func TestRunRejectsSecondCaller(t *testing.T) {
	h := newHarness(t, nil, EchoHandler{})

	// Let the first Run take ownership
	wait(t, h.submit(t, simpleQuestion("warmup")))

	err := h.orch.Run(context.Background())
	assert.ErrorIs(t, err, errAlreadyRunning)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "processing", StateProcessing.String())
	assert.Equal(t, "dispatched", StateDispatched.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestEchoHandler(t *testing.T) {
	out, err := EchoHandler{}.Generate(context.Background(), simpleQuestion("r1"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Acknowledged clarification request: which test runner should I use?", out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = EchoHandler{}.Generate(ctx, simpleQuestion("r1"), nil)
	assert.Error(t, err)
}
