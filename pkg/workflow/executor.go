package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/agentflow/pkg/events"
	"github.com/dukex/agentflow/pkg/memory"
	"github.com/dukex/agentflow/pkg/models"
	"github.com/dukex/agentflow/pkg/nodes"
	"github.com/dukex/agentflow/pkg/otelhelper"
	"github.com/dukex/agentflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Publisher receives the events of running executions.
type Publisher interface {
	Publish(event events.Event)
	CloseExecution(executionID string)
}

type Option func(*Executor)

// WithMemoryBackend enables long-term memory for agent nodes.
func WithMemoryBackend(backend memory.Backend) Option {
	return func(e *Executor) {
		e.memory = backend
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// Executor drives executions from pending to a terminal state, writing
// through the store and publishing every transition.
type Executor struct {
	store      persistence.ExecutionStore
	evaluators *nodes.Registry
	publisher  Publisher
	memory     memory.Backend
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time
}

func NewExecutor(store persistence.ExecutionStore, evaluators *nodes.Registry, publisher Publisher, logger *slog.Logger, opts ...Option) *Executor {
	executor := &Executor{
		store:      store,
		evaluators: evaluators,
		publisher:  publisher,
		tracer:     otelhelper.NoopTracer(),
		logger:     logger.With("module", "workflow_executor"),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Now returns the executor's clock reading.
func (e *Executor) Now() time.Time {
	return e.now()
}

// Prepare plans def and builds the context of a new run. The caller persists
// ec.Record() before calling Execute.
func (e *Executor) Prepare(id string, def *models.WorkflowDefinition, inputs map[string]any, userID string, timeout time.Duration) (*ExecutionContext, error) {
	graph, err := NewGraph(def)
	if err != nil {
		return nil, err
	}

	ec := NewExecutionContext(id, graph, inputs, userID, e.now().UTC())
	ec.Memory = memory.NewScope(e.memory, e.logger)

	if timeout > 0 {
		ec.Deadline = ec.StartedAt.Add(timeout)
	}

	return ec, nil
}

// Execute runs ec to completion. It returns nil when the execution completed,
// ErrExecutionCancelled when it was cancelled, and the failure otherwise.
// Exactly one terminal event is published.
func (e *Executor) Execute(ctx context.Context, ec *ExecutionContext) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.ExecutionIDKey, ec.ID),
		attribute.String(otelhelper.WorkflowIDKey, ec.WorkflowID),
		attribute.String(otelhelper.WorkflowNameKey, ec.Graph.Definition.Name),
		attribute.String(otelhelper.UserIDKey, ec.UserID),
	)
	defer span.End()

	logger := e.logger.With("execution_id", ec.ID, "workflow_id", ec.WorkflowID)
	logger.InfoContext(ctx, "Starting workflow execution")

	if ec.CancelRequested() {
		return e.cancel(ctx, ec)
	}

	err := e.transition(ctx, ec, models.ExecutionStatusRunning)
	if err != nil {
		return e.fail(ctx, ec, fmt.Errorf("failed to mark execution running: %w", err))
	}

	e.log(ctx, ec, models.LogLevelInfo, "", "Workflow execution started")

	err = e.traverse(ctx, ec)

	switch {
	case err == nil:
		return e.succeed(ctx, ec)
	case errors.Is(err, ErrExecutionCancelled):
		return e.cancel(ctx, ec)
	default:
		otelhelper.SetError(span, err)

		return e.fail(ctx, ec, err)
	}
}

func (e *Executor) traverse(ctx context.Context, ec *ExecutionContext) error {
	return e.runSequence(ctx, ec, ec.Graph.Order)
}

// runSequence steps through ids in order. A loop node that is left running
// has its body run at once; body nodes are not stepped again.
func (e *Executor) runSequence(ctx context.Context, ec *ExecutionContext, ids []string) error {
	handled := make(map[string]bool, len(ids))

	for _, id := range ids {
		if handled[id] {
			continue
		}

		handled[id] = true
		node := ec.Graph.Node(id)

		err := e.step(ctx, ec, node)
		if err != nil {
			return err
		}

		body := ec.Graph.LoopBody(id)
		if node.Type != models.NodeTypeLoop || len(body) == 0 || ec.NodeStatus(id) != models.NodeStatusRunning {
			continue
		}

		for _, bodyID := range body {
			handled[bodyID] = true
		}

		err = e.runLoop(ctx, ec, node, body)
		if err != nil {
			return err
		}
	}

	return nil
}

// checkpoint observes cancellation and the wall-clock budget.
func (e *Executor) checkpoint(ctx context.Context, ec *ExecutionContext) error {
	if ec.CancelRequested() || ctx.Err() != nil {
		return ErrExecutionCancelled
	}

	if ec.expired(e.now()) {
		return fmt.Errorf("%w after %s", ErrExecutionTimeout, ec.Deadline.Sub(ec.StartedAt))
	}

	return nil
}

// step evaluates one node: skipped when no planning edge into it is live,
// otherwise resolved, evaluated and recorded. Loop nodes are left running for
// runLoop to finish.
func (e *Executor) step(ctx context.Context, ec *ExecutionContext, node *models.Node) error {
	err := e.checkpoint(ctx, ec)
	if err != nil {
		return err
	}

	if !ec.IsLive(node.ID) {
		return e.skip(ctx, ec, node)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.node",
		attribute.String(otelhelper.ExecutionIDKey, ec.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
	)
	defer span.End()

	started := e.now().UTC()

	err = e.setNodeState(ctx, ec, node, models.NodeState{Status: models.NodeStatusRunning, StartedAt: &started})
	if err != nil {
		return err
	}

	if !node.IsMarker() {
		e.log(ctx, ec, models.LogLevelInfo, node.ID, "Executing node: "+node.DisplayName())
	}

	inputs, err := ec.ResolveInputs(node)
	if err != nil {
		otelhelper.SetError(span, err)

		return e.nodeFailed(ctx, ec, node, started, nil, err)
	}

	result, err := e.evaluators.Evaluate(ctx, node, inputs, e.env(ec))
	if err != nil {
		otelhelper.SetError(span, err)

		return e.nodeFailed(ctx, ec, node, started, result.Output, err)
	}

	if node.Type == models.NodeTypeLoop && len(ec.Graph.LoopBody(node.ID)) > 0 {
		ec.outputs[node.ID] = result.Output
		ec.loopState[node.ID] = inputs

		return nil
	}

	return e.nodeCompleted(ctx, ec, node, started, result.Output)
}

func (e *Executor) env(ec *ExecutionContext) *nodes.Env {
	return &nodes.Env{
		ExecutionID: ec.ID,
		WorkflowID:  ec.WorkflowID,
		UserID:      ec.UserID,
		Inputs:      ec.Inputs,
		Variables:   ec.Graph.Definition.Variables,
		Memory:      ec.Memory,
		Logger:      e.logger.With("execution_id", ec.ID),
	}
}

// runLoop runs body once per pass of loop and completes the loop node with
// {items, iterations, results}. Each pass exposes {item, index} as the loop
// node's output; the output of the body's last node is collected per pass.
func (e *Executor) runLoop(ctx context.Context, ec *ExecutionContext, loop *models.Node, body []string) error {
	cfg := loop.LoopConfig
	iterable, _ := ec.outputs[loop.ID].(map[string]any)
	items, _ := iterable["items"].([]any)
	state := ec.loopState[loop.ID]
	started := ec.NodeState(loop.ID).StartedAt
	results := []any{}
	limit := cfg.IterationCap()
	last := body[len(body)-1]

	iterations := 0

	for index := 0; index < limit; index++ {
		var item any

		if cfg.LoopType == models.LoopWhile {
			if !cfg.Condition.Evaluate(state) {
				break
			}

			item = index
		} else {
			if index >= len(items) {
				break
			}

			item = items[index]
		}

		ec.resetNodes(body)
		ec.outputs[loop.ID] = map[string]any{"item": item, "index": index}

		err := e.runSequence(ctx, ec, body)

		var nodeErr *NodeError
		if errors.As(err, &nodeErr) {
			return e.nodeFailed(ctx, ec, loop, derefTime(started, e.now().UTC()), nil,
				fmt.Errorf("iteration %d: %w", index, err))
		}

		if err != nil {
			e.interruptLoop(ctx, ec, loop, started, err)

			return err
		}

		iterations++
		results = append(results, ec.outputs[last])
		state = asInputs(ec.outputs[last])
	}

	if cfg.LoopType == models.LoopWhile {
		items = results
	}

	return e.nodeCompleted(ctx, ec, loop, derefTime(started, e.now().UTC()), map[string]any{
		"items":      items,
		"iterations": iterations,
		"results":    results,
	})
}

// interruptLoop settles a loop node whose body stopped on cancellation or
// timeout: a cancelled loop goes back to pending, a timed out one fails.
func (e *Executor) interruptLoop(ctx context.Context, ec *ExecutionContext, loop *models.Node, started *time.Time, cause error) {
	var state models.NodeState

	switch {
	case errors.Is(cause, ErrExecutionCancelled):
		state = models.NodeState{Status: models.NodeStatusPending}
	case errors.Is(cause, ErrExecutionTimeout):
		completed := e.now().UTC()
		state = models.NodeState{
			Status:      models.NodeStatusFailed,
			StartedAt:   started,
			CompletedAt: &completed,
			Error:       cause.Error(),
		}
	default:
		return
	}

	err := e.setNodeState(ctx, ec, loop, state)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to settle interrupted loop", "execution_id", ec.ID, "node_id", loop.ID, "error", err)
	}
}

func (e *Executor) skip(ctx context.Context, ec *ExecutionContext, node *models.Node) error {
	err := e.setNodeState(ctx, ec, node, models.NodeState{Status: models.NodeStatusSkipped})
	if err != nil {
		return err
	}

	e.log(ctx, ec, models.LogLevelInfo, node.ID, "Node skipped: "+node.DisplayName())

	return nil
}

func (e *Executor) nodeCompleted(ctx context.Context, ec *ExecutionContext, node *models.Node, started time.Time, output any) error {
	completed := e.now().UTC()

	err := e.setNodeState(ctx, ec, node, models.NodeState{
		Status:      models.NodeStatusCompleted,
		StartedAt:   &started,
		CompletedAt: &completed,
		Output:      output,
	})
	if err != nil {
		return err
	}

	ec.complete(node, output)

	if !node.IsMarker() {
		e.log(ctx, ec, models.LogLevelInfo, node.ID, "Node completed: "+node.DisplayName())
	}

	return nil
}

func (e *Executor) nodeFailed(ctx context.Context, ec *ExecutionContext, node *models.Node, started time.Time, output any, cause error) error {
	completed := e.now().UTC()

	err := e.setNodeState(ctx, ec, node, models.NodeState{
		Status:      models.NodeStatusFailed,
		StartedAt:   &started,
		CompletedAt: &completed,
		Output:      output,
		Error:       cause.Error(),
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to record node failure", "execution_id", ec.ID, "node_id", node.ID, "error", err)
	}

	e.log(ctx, ec, models.LogLevelError, node.ID, fmt.Sprintf("Node failed: %s: %v", node.DisplayName(), cause))

	return &NodeError{NodeID: node.ID, NodeName: node.DisplayName(), Err: cause}
}

// setNodeState persists and publishes a node transition. A store failure
// fails the execution.
func (e *Executor) setNodeState(ctx context.Context, ec *ExecutionContext, node *models.Node, state models.NodeState) error {
	ec.states[node.ID] = state

	err := e.store.UpdateNodeState(ctx, ec.ID, node.ID, state)
	if err != nil {
		return fmt.Errorf("failed to persist state of node %s: %w", node.ID, err)
	}

	e.publish(ec, events.NewNodeUpdate(ec.ID, node.ID, state, e.now()))

	return nil
}

func (e *Executor) transition(ctx context.Context, ec *ExecutionContext, status models.ExecutionStatus) error {
	err := e.store.UpdateStatus(ctx, ec.ID, status)
	if err != nil {
		return err
	}

	ec.setStatus(status)
	e.publish(ec, events.NewStatus(ec.ID, status, e.now()))

	return nil
}

func (e *Executor) succeed(ctx context.Context, ec *ExecutionContext) error {
	result := ec.TerminalValue()

	err := e.store.SetResult(ctx, ec.ID, result)
	if err != nil {
		return e.fail(ctx, ec, fmt.Errorf("failed to persist result: %w", err))
	}

	err = e.transition(ctx, ec, models.ExecutionStatusCompleted)
	if err != nil {
		return e.fail(ctx, ec, fmt.Errorf("failed to mark execution completed: %w", err))
	}

	e.log(ctx, ec, models.LogLevelInfo, "", "Workflow execution completed")
	e.terminate(ec, events.NewCompletion(ec.ID, result, e.now()), models.ExecutionStatusCompleted, result, nil)

	return nil
}

func (e *Executor) fail(ctx context.Context, ec *ExecutionContext, cause error) error {
	message := cause.Error()

	err := e.store.SetError(ctx, ec.ID, message)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist execution error", "execution_id", ec.ID, "error", err)
	}

	err = e.transition(ctx, ec, models.ExecutionStatusFailed)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to mark execution failed", "execution_id", ec.ID, "error", err)
		ec.setStatus(models.ExecutionStatusFailed)
	}

	e.log(ctx, ec, models.LogLevelError, "", "Workflow execution failed: "+message)
	e.terminate(ec, events.NewError(ec.ID, models.ExecutionStatusFailed, message, e.now()), models.ExecutionStatusFailed, nil, cause)

	return cause
}

func (e *Executor) cancel(ctx context.Context, ec *ExecutionContext) error {
	err := e.transition(ctx, ec, models.ExecutionStatusCancelled)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to mark execution cancelled", "execution_id", ec.ID, "error", err)
		ec.setStatus(models.ExecutionStatusCancelled)
	}

	e.log(ctx, ec, models.LogLevelWarning, "", "Workflow execution cancelled")
	e.terminate(ec, events.NewError(ec.ID, models.ExecutionStatusCancelled, ErrExecutionCancelled.Error(), e.now()),
		models.ExecutionStatusCancelled, nil, ErrExecutionCancelled)

	return ErrExecutionCancelled
}

func (e *Executor) terminate(ec *ExecutionContext, event events.Event, status models.ExecutionStatus, result any, cause error) {
	e.publish(ec, event)
	e.publisher.CloseExecution(ec.ID)
	ec.finish(status, result, cause)

	e.logger.Info("Workflow execution finished", "execution_id", ec.ID, "status", status)
}

// log appends an execution log entry, mirrors it to slog and publishes it.
// Store failures are logged and otherwise ignored.
func (e *Executor) log(ctx context.Context, ec *ExecutionContext, level models.LogLevel, nodeID, message string) {
	entry := models.LogEntry{
		Timestamp: e.now().UTC(),
		Level:     level,
		NodeID:    nodeID,
		Message:   message,
	}

	ec.logs = append(ec.logs, entry)

	e.logger.Log(ctx, level.SlogLevel(), message, "execution_id", ec.ID, "node_id", nodeID)

	err := e.store.AppendLog(ctx, ec.ID, entry)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to persist execution log", "execution_id", ec.ID, "error", err)
	}

	e.publish(ec, events.NewLog(ec.ID, entry))
}

func (e *Executor) publish(ec *ExecutionContext, event events.Event) {
	event.Base().Sequence = ec.nextSequence()
	e.publisher.Publish(event)
}

func derefTime(t *time.Time, fallback time.Time) time.Time {
	if t == nil {
		return fallback
	}

	return *t
}
