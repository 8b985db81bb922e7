package workflow

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukex/agentflow/pkg/memory"
	"github.com/dukex/agentflow/pkg/models"
)

// ExecutionContext is the mutable state of one run. It is owned by the
// executor goroutine; only the cancel flag and the terminal snapshot are safe
// for concurrent use.
type ExecutionContext struct {
	ID         string
	WorkflowID string
	UserID     string
	Inputs     map[string]any
	Graph      *Graph
	StartedAt  time.Time

	// Deadline is the wall-clock budget; zero means unbounded.
	Deadline time.Time
	Memory   *memory.Scope

	states  map[string]models.NodeState
	outputs map[string]any
	logs    []models.LogEntry
	seq     uint64

	// loopState holds the resolved inputs of loop nodes awaiting their body.
	loopState map[string]map[string]any

	lastEnd       string
	lastCompleted string

	cancelRequested atomic.Bool
	done            chan struct{}

	mu     sync.Mutex
	status models.ExecutionStatus
	result any
	err    error
}

// NewExecutionContext prepares a run of graph with every node pending.
func NewExecutionContext(id string, graph *Graph, inputs map[string]any, userID string, startedAt time.Time) *ExecutionContext {
	if inputs == nil {
		inputs = map[string]any{}
	}

	states := make(map[string]models.NodeState, len(graph.Definition.Nodes))
	for _, node := range graph.Definition.Nodes {
		states[node.ID] = models.NodeState{Status: models.NodeStatusPending}
	}

	return &ExecutionContext{
		ID:         id,
		WorkflowID: graph.Definition.WorkflowID(),
		UserID:     userID,
		Inputs:     inputs,
		Graph:      graph,
		StartedAt:  startedAt,
		states:     states,
		outputs:    make(map[string]any),
		loopState:  make(map[string]map[string]any),
		done:       make(chan struct{}),
		status:     models.ExecutionStatusPending,
	}
}

// Record is the initial execution record to persist before the run starts.
func (c *ExecutionContext) Record() *models.Execution {
	return &models.Execution{
		ID:         c.ID,
		WorkflowID: c.WorkflowID,
		UserID:     c.UserID,
		Status:     models.ExecutionStatusPending,
		Inputs:     maps.Clone(c.Inputs),
		StartedAt:  c.StartedAt,
		NodeStates: maps.Clone(c.states),
	}
}

// RequestCancel raises the cancel flag. It returns false when the flag was
// already raised.
func (c *ExecutionContext) RequestCancel() bool {
	return c.cancelRequested.CompareAndSwap(false, true)
}

func (c *ExecutionContext) CancelRequested() bool {
	return c.cancelRequested.Load()
}

// Done is closed once the execution reaches a terminal state.
func (c *ExecutionContext) Done() <-chan struct{} {
	return c.done
}

// Status returns the current execution status.
func (c *ExecutionContext) Status() models.ExecutionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status
}

// Outcome returns the terminal result and error. Both are zero until Done.
func (c *ExecutionContext) Outcome() (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.result, c.err
}

// NodeStatus returns the status of a node in this run.
func (c *ExecutionContext) NodeStatus(id string) models.NodeStatus {
	return c.states[id].Status
}

// NodeState returns the state of a node in this run.
func (c *ExecutionContext) NodeState(id string) models.NodeState {
	return c.states[id]
}

// Logs returns the accumulated execution logs.
func (c *ExecutionContext) Logs() []models.LogEntry {
	return append([]models.LogEntry(nil), c.logs...)
}

// TerminalValue is the output of the last end node reached, or of the last
// completed node when no end node ran.
func (c *ExecutionContext) TerminalValue() any {
	if c.lastEnd != "" {
		return c.outputs[c.lastEnd]
	}

	if c.lastCompleted != "" {
		return c.outputs[c.lastCompleted]
	}

	return nil
}

func (c *ExecutionContext) setStatus(status models.ExecutionStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.status = status
}

func (c *ExecutionContext) finish(status models.ExecutionStatus, result any, err error) {
	c.mu.Lock()
	c.status = status
	c.result = result
	c.err = err
	c.mu.Unlock()

	close(c.done)
}

func (c *ExecutionContext) nextSequence() uint64 {
	c.seq++

	return c.seq
}

func (c *ExecutionContext) expired(now time.Time) bool {
	return !c.Deadline.IsZero() && now.After(c.Deadline)
}

func (c *ExecutionContext) complete(node *models.Node, output any) {
	c.outputs[node.ID] = output

	if node.Type == models.NodeTypeEnd {
		c.lastEnd = node.ID
	} else {
		c.lastCompleted = node.ID
	}
}

// resetNodes forgets the outputs and states of ids before another loop pass.
func (c *ExecutionContext) resetNodes(ids []string) {
	for _, id := range ids {
		delete(c.outputs, id)
		c.states[id] = models.NodeState{Status: models.NodeStatusPending}
	}
}
