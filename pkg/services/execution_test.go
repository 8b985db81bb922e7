package services_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/agentflow/pkg/agent"
	"github.com/dukex/agentflow/pkg/events"
	"github.com/dukex/agentflow/pkg/llm"
	"github.com/dukex/agentflow/pkg/mocks"
	"github.com/dukex/agentflow/pkg/models"
	"github.com/dukex/agentflow/pkg/nodes"
	"github.com/dukex/agentflow/pkg/observer"
	"github.com/dukex/agentflow/pkg/persistence"
	memstore "github.com/dukex/agentflow/pkg/persistence/memory"
	"github.com/dukex/agentflow/pkg/services"
	"github.com/dukex/agentflow/pkg/testutil"
	"github.com/dukex/agentflow/pkg/tools"
	"github.com/dukex/agentflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   persistence.ExecutionStore
	bus     *observer.Bus
	service *services.Execution
}

func newFixture(t *testing.T, store persistence.ExecutionStore, client llm.Client, opts services.ExecutionOptions) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	toolRegistry := tools.NewRegistry(logger)
	tools.RegisterBuiltins(toolRegistry, t.TempDir())

	evaluators := nodes.NewDefaultRegistry(
		nodes.NewAgentEvaluator(testutil.StaticClients{Client: client}, agent.NewRuntime(toolRegistry, logger, nil), nil, logger),
		logger,
	)

	bus := observer.NewBus(logger)
	executor := workflow.NewExecutor(store, evaluators, bus, logger)
	service := services.NewExecution(store, executor, bus, logger, opts)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = service.Shutdown(ctx)
	})

	return &fixture{store: store, bus: bus, service: service}
}

func twoAgents() *models.WorkflowDefinition {
	return testutil.CreateTestWorkflow("two-agents",
		[]*models.Node{
			testutil.StartNode("start"),
			testutil.AgentNode("A", "echo the topic"),
			testutil.AgentNode("B", "uppercase previous"),
			testutil.EndNode("end"),
		},
		testutil.Chain("start", "A", "B", "end"),
	)
}

func singleAgent() *models.WorkflowDefinition {
	return testutil.CreateTestWorkflow("single",
		[]*models.Node{testutil.StartNode("start"), testutil.AgentNode("A", "echo"), testutil.EndNode("end")},
		testutil.Chain("start", "A", "end"),
	)
}

// gatedLLM echoes like EchoLLM but parks the first call made under each
// gated system prompt until the gate is opened.
type gatedLLM struct {
	*testutil.StubLLM

	mu      sync.Mutex
	gates   map[string]chan struct{}
	arrived map[string]chan struct{}
}

func newGatedLLM(prompts ...string) *gatedLLM {
	g := &gatedLLM{gates: map[string]chan struct{}{}, arrived: map[string]chan struct{}{}}
	for _, prompt := range prompts {
		g.gates[prompt] = make(chan struct{})
		g.arrived[prompt] = make(chan struct{})
	}

	echo := testutil.EchoLLM()
	g.StubLLM = &testutil.StubLLM{
		Respond: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			prompt := testutil.SystemPrompt(req)

			g.mu.Lock()
			gate, gated := g.gates[prompt]
			arrived := g.arrived[prompt]
			delete(g.gates, prompt)
			g.mu.Unlock()

			if gated {
				close(arrived)
				<-gate
			}

			return echo.Respond(ctx, req)
		},
	}

	return g
}

// gate returns the gate and arrival channels of prompt.
func (g *gatedLLM) gate(prompt string) (chan struct{}, <-chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.gates[prompt], g.arrived[prompt]
}

func TestExecution_StartAndWait(t *testing.T) {
	t.Parallel()

	f := newFixture(t, memstore.NewStore(), testutil.EchoLLM(), services.ExecutionOptions{})

	record, err := f.service.Start(context.Background(), services.StartRequest{
		Workflow: twoAgents(),
		Inputs:   map[string]any{"topic": "hi"},
		UserID:   "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, record.Status)
	assert.Equal(t, "wf-two-agents", record.WorkflowID)
	assert.Len(t, record.NodeStates, 4)

	execution, err := f.service.Wait(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, map[string]any{"output": "HI"}, execution.Result)
	assert.Equal(t, "user-1", execution.UserID)

	listed, err := f.service.List(context.Background(), models.ExecutionFilter{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, record.ID, listed[0].ID)
}

func TestExecution_StartValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, memstore.NewStore(), testutil.EchoLLM(), services.ExecutionOptions{})

	_, err := f.service.Start(context.Background(), services.StartRequest{})
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))

	invalid := testutil.CreateTestWorkflow("no-end",
		[]*models.Node{testutil.StartNode("start"), testutil.AgentNode("A", "x")},
		testutil.Chain("start", "A"),
	)

	_, err = f.service.Start(context.Background(), services.StartRequest{Workflow: invalid})
	require.ErrorIs(t, err, workflow.ErrInvalidWorkflow)
	assert.True(t, services.IsValidationError(err))

	var serviceErr *services.ServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, "INVALID_WORKFLOW", serviceErr.Code)
}

func TestExecution_NotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t, memstore.NewStore(), testutil.EchoLLM(), services.ExecutionOptions{})

	_, err := f.service.Get(context.Background(), "missing")
	assert.True(t, services.IsNotFoundError(err))

	_, err = f.service.Cancel(context.Background(), "missing")
	assert.True(t, services.IsNotFoundError(err))

	_, _, err = f.service.Subscribe(context.Background(), "missing")
	assert.True(t, services.IsNotFoundError(err))
	assert.Equal(t, 0, f.bus.SubscriberCount("missing"))

	assert.True(t, services.IsNotFoundError(f.service.Ping(context.Background(), "missing", "sub")))
	assert.True(t, services.IsValidationError(f.service.Ping(context.Background(), "missing", "")))
}

func TestExecution_PingReachesOneSubscriber(t *testing.T) {
	t.Parallel()

	client := newGatedLLM("echo")
	gate, arrived := client.gate("echo")

	f := newFixture(t, memstore.NewStore(), client, services.ExecutionOptions{})
	ctx := context.Background()

	record, err := f.service.Start(ctx, services.StartRequest{Workflow: singleAgent(), Inputs: map[string]any{"topic": "x"}})
	require.NoError(t, err)

	<-arrived

	first, _, err := f.service.Subscribe(ctx, record.ID)
	require.NoError(t, err)

	second, _, err := f.service.Subscribe(ctx, record.ID)
	require.NoError(t, err)

	require.NoError(t, f.service.Ping(ctx, record.ID, first.ID))

	pong := <-first.Events()
	assert.Equal(t, events.PongEvent, pong.GetType())
	assert.Equal(t, record.ID, pong.Base().ExecutionID)
	assert.Empty(t, second.Events())

	err = f.service.Ping(ctx, record.ID, "detached")
	require.ErrorIs(t, err, services.ErrSubscriptionNotFound)
	assert.True(t, services.IsNotFoundError(err))

	close(gate)

	_, err = f.service.Wait(ctx, record.ID)
	require.NoError(t, err)
}

func TestExecution_CooperativeCancellation(t *testing.T) {
	t.Parallel()

	client := newGatedLLM("echo the topic")
	gate, arrived := client.gate("echo the topic")

	f := newFixture(t, memstore.NewStore(), client, services.ExecutionOptions{})

	record, err := f.service.Start(context.Background(), services.StartRequest{Workflow: twoAgents(), Inputs: map[string]any{"topic": "hi"}})
	require.NoError(t, err)

	<-arrived

	current, err := f.service.Cancel(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, current.Status)

	_, err = f.service.Cancel(context.Background(), record.ID)
	require.ErrorIs(t, err, services.ErrInvalidState)

	close(gate)

	execution, err := f.service.Wait(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.Equal(t, models.NodeStatusCompleted, execution.NodeStates["A"].Status)
	assert.Equal(t, models.NodeStatusPending, execution.NodeStates["B"].Status)

	_, err = f.service.Cancel(context.Background(), record.ID)
	require.ErrorIs(t, err, services.ErrInvalidState)
	assert.True(t, services.IsConflictError(err))
}

func TestExecution_CancelWhileQueued(t *testing.T) {
	t.Parallel()

	client := newGatedLLM("echo the topic")
	gate, arrived := client.gate("echo the topic")

	f := newFixture(t, memstore.NewStore(), client, services.ExecutionOptions{MaxConcurrent: 1})

	blocker, err := f.service.Start(context.Background(), services.StartRequest{Workflow: twoAgents(), Inputs: map[string]any{"topic": "hi"}})
	require.NoError(t, err)

	<-arrived

	queued, err := f.service.Start(context.Background(), services.StartRequest{Workflow: singleAgent(), Inputs: map[string]any{"topic": "x"}})
	require.NoError(t, err)

	current, err := f.service.Cancel(context.Background(), queued.ID)
	require.NoError(t, err)
	assert.Contains(t, []models.ExecutionStatus{models.ExecutionStatusPending, models.ExecutionStatusCancelled}, current.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	execution, err := f.service.Wait(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.Equal(t, models.NodeStatusPending, execution.NodeStates["A"].Status)

	running, err := f.service.Get(context.Background(), blocker.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, running.Status)

	close(gate)

	execution, err = f.service.Wait(context.Background(), blocker.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
}

func TestExecution_CancelCompleted(t *testing.T) {
	t.Parallel()

	f := newFixture(t, memstore.NewStore(), testutil.EchoLLM(), services.ExecutionOptions{})

	record, err := f.service.Start(context.Background(), services.StartRequest{Workflow: singleAgent(), Inputs: map[string]any{"topic": "x"}})
	require.NoError(t, err)

	execution, err := f.service.Wait(context.Background(), record.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusCompleted, execution.Status)

	require.Eventually(t, func() bool {
		_, err = f.service.Cancel(context.Background(), record.ID)

		return services.IsConflictError(err)
	}, time.Second, 10*time.Millisecond)
}

func TestExecution_CancelOrphan(t *testing.T) {
	t.Parallel()

	store := memstore.NewStore()
	f := newFixture(t, store, testutil.EchoLLM(), services.ExecutionOptions{})
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &models.Execution{ID: "orphan", WorkflowID: "wf", Status: models.ExecutionStatusPending, StartedAt: time.Now()}))
	require.NoError(t, store.UpdateStatus(ctx, "orphan", models.ExecutionStatusRunning))

	execution, err := f.service.Cancel(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	require.NotEmpty(t, execution.Logs)
	assert.Equal(t, "Workflow execution cancelled", execution.Logs[len(execution.Logs)-1].Message)

	_, err = f.service.Cancel(ctx, "orphan")
	require.ErrorIs(t, err, services.ErrInvalidState)
}

func TestExecution_ObserverFanOut(t *testing.T) {
	t.Parallel()

	client := newGatedLLM("echo", "uppercase previous")
	blockGate, blockArrived := client.gate("echo")
	bGate, bArrived := client.gate("uppercase previous")

	f := newFixture(t, memstore.NewStore(), client, services.ExecutionOptions{MaxConcurrent: 1})
	ctx := context.Background()

	blocker, err := f.service.Start(ctx, services.StartRequest{Workflow: singleAgent(), Inputs: map[string]any{"topic": "block"}})
	require.NoError(t, err)

	<-blockArrived

	// The only slot is held, so the target stays pending until both
	// subscribers are attached.
	target, err := f.service.Start(ctx, services.StartRequest{Workflow: twoAgents(), Inputs: map[string]any{"topic": "hi"}})
	require.NoError(t, err)

	first, current, err := f.service.Subscribe(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, current.Status)

	second, _, err := f.service.Subscribe(ctx, target.ID)
	require.NoError(t, err)

	close(blockGate)

	_, err = f.service.Wait(ctx, blocker.ID)
	require.NoError(t, err)

	<-bArrived

	second.Close()

	var secondEvents []events.Event
	for event := range second.Events() {
		secondEvents = append(secondEvents, event)
	}

	close(bGate)

	var firstEvents []events.Event
	for event := range first.Events() {
		firstEvents = append(firstEvents, event)
	}

	execution, err := f.service.Wait(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"output": "HI"}, execution.Result)

	require.NotEmpty(t, secondEvents)
	require.Greater(t, len(firstEvents), len(secondEvents))
	assert.Equal(t, firstEvents[:len(secondEvents)], secondEvents)
	assert.Equal(t, uint64(1), secondEvents[0].Base().Sequence)
	assert.Equal(t, events.CompletionEvent, firstEvents[len(firstEvents)-1].GetType())

	for i, event := range firstEvents {
		assert.Equal(t, uint64(i+1), event.Base().Sequence)
	}

	for _, event := range secondEvents {
		assert.False(t, events.IsTerminal(event))
	}
}

func TestExecution_SubscribeAfterCompletion(t *testing.T) {
	t.Parallel()

	f := newFixture(t, memstore.NewStore(), testutil.EchoLLM(), services.ExecutionOptions{})
	ctx := context.Background()

	record, err := f.service.Start(ctx, services.StartRequest{Workflow: singleAgent(), Inputs: map[string]any{"topic": "x"}})
	require.NoError(t, err)

	_, err = f.service.Wait(ctx, record.ID)
	require.NoError(t, err)

	sub, execution, err := f.service.Subscribe(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)

	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestExecution_GetLogsPagination(t *testing.T) {
	t.Parallel()

	store := memstore.NewStore()
	f := newFixture(t, store, testutil.EchoLLM(), services.ExecutionOptions{})
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &models.Execution{ID: "logs", WorkflowID: "wf", Status: models.ExecutionStatusPending, StartedAt: time.Now()}))

	for i := range 1200 {
		level := models.LogLevelInfo
		if i%3 == 0 {
			level = models.LogLevelError
		}

		require.NoError(t, store.AppendLog(ctx, "logs", models.LogEntry{
			Timestamp: time.Now(),
			Level:     level,
			Message:   fmt.Sprintf("entry %d", i),
		}))
	}

	page, err := f.service.GetLogs(ctx, "logs", models.LogQuery{Limit: 500, Offset: 500})
	require.NoError(t, err)
	assert.Equal(t, 1200, page.Total)
	require.Len(t, page.Logs, 500)
	assert.Equal(t, "entry 500", page.Logs[0].Message)
	assert.Equal(t, "entry 999", page.Logs[499].Message)

	errorsPage, err := f.service.GetLogs(ctx, "logs", models.LogQuery{Level: models.LogLevelError, Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, 400, errorsPage.Total)
	require.Len(t, errorsPage.Logs, 400)

	for i, entry := range errorsPage.Logs {
		assert.Equal(t, models.LogLevelError, entry.Level)
		assert.Equal(t, fmt.Sprintf("entry %d", i*3), entry.Message)
	}

	_, err = f.service.GetLogs(ctx, "logs", models.LogQuery{Level: "LOUD"})
	assert.True(t, services.IsValidationError(err))
}

func TestExecution_SweepStale(t *testing.T) {
	t.Parallel()

	store := memstore.NewStore()
	f := newFixture(t, store, testutil.EchoLLM(), services.ExecutionOptions{Timeout: 5 * time.Minute})
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &models.Execution{ID: "stale", WorkflowID: "wf", Status: models.ExecutionStatusPending, StartedAt: time.Now().Add(-time.Hour)}))
	require.NoError(t, store.Create(ctx, &models.Execution{ID: "fresh", WorkflowID: "wf", Status: models.ExecutionStatusPending, StartedAt: time.Now()}))

	sweeper, err := services.NewSweeper(f.service, "", slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 1, sweeper.Sweep(ctx))

	stale, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stale.Status)
	assert.Contains(t, stale.Error, "execution timed out")

	fresh, err := store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, fresh.Status)

	_, err = services.NewSweeper(f.service, "not a schedule", slog.Default())
	require.Error(t, err)
}

func TestExecution_ShutdownRejectsNewRuns(t *testing.T) {
	t.Parallel()

	f := newFixture(t, memstore.NewStore(), testutil.EchoLLM(), services.ExecutionOptions{})

	require.NoError(t, f.service.Shutdown(context.Background()))

	_, err := f.service.Start(context.Background(), services.StartRequest{Workflow: singleAgent()})
	require.ErrorIs(t, err, services.ErrShuttingDown)
}

func TestExecution_StoreFailures(t *testing.T) {
	t.Parallel()

	store := &mocks.MockExecutionStore{}
	store.On("HealthCheck", mock.Anything).Return(errors.New("connection refused"))
	store.On("Create", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	f := newFixture(t, store, testutil.EchoLLM(), services.ExecutionOptions{})

	message, healthy := f.service.HealthCheck(context.Background())
	assert.False(t, healthy)
	assert.Contains(t, message, "connection refused")

	_, err := f.service.Start(context.Background(), services.StartRequest{Workflow: singleAgent()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create execution record")

	store.AssertExpectations(t)
}

func TestExecution_ProviderFailureFailsExecution(t *testing.T) {
	t.Parallel()

	client := &mocks.MockLLMClient{}
	client.On("DefaultModel").Return("mock-model").Maybe()
	client.On("Chat", mock.Anything, mock.Anything).Return(nil, errors.New("rate limited"))

	f := newFixture(t, memstore.NewStore(), client, services.ExecutionOptions{})

	record, err := f.service.Start(context.Background(), services.StartRequest{Workflow: singleAgent(), Inputs: map[string]any{"topic": "x"}})
	require.NoError(t, err)

	execution, err := f.service.Wait(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.Error, "rate limited")
	assert.Equal(t, models.NodeStatusFailed, execution.NodeStates["A"].Status)
	assert.Equal(t, models.NodeStatusPending, execution.NodeStates["end"].Status)

	client.AssertNumberOfCalls(t, "Chat", 1)
}
