// Package nodes holds the per-type node evaluators.
package nodes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/agentflow/pkg/memory"
	"github.com/dukex/agentflow/pkg/models"
)

var ErrUnknownNodeType = errors.New("unknown node type")

// Env is the read-only view of the running execution handed to evaluators.
type Env struct {
	ExecutionID string
	WorkflowID  string
	UserID      string

	// Inputs are the top-level execution inputs.
	Inputs    map[string]any
	Variables map[string]any

	// Memory holds the execution's per-agent memory managers. May be nil.
	Memory *memory.Scope
	Logger *slog.Logger
}

// Result is the outcome of one node evaluation. A failed evaluation may still
// carry a partial Output.
type Result struct {
	Output any
	Status models.NodeStatus
}

func Completed(output any) Result {
	return Result{Output: output, Status: models.NodeStatusCompleted}
}

func Failed(output any) Result {
	return Result{Output: output, Status: models.NodeStatusFailed}
}

// Evaluator computes the output of one node type from its resolved inputs.
// A non-nil error always comes with a failed Result.
type Evaluator interface {
	Type() models.NodeType
	Evaluate(ctx context.Context, node *models.Node, inputs map[string]any, env *Env) (Result, error)
}

type Registry struct {
	mu         sync.RWMutex
	evaluators map[models.NodeType]Evaluator
	logger     *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		evaluators: make(map[models.NodeType]Evaluator),
		logger:     logger,
	}
}

// Register installs evaluator for its node type, replacing any previous one.
func (r *Registry) Register(evaluator Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.evaluators[evaluator.Type()]; exists {
		r.logger.Warn("Replacing node evaluator", "node_type", evaluator.Type())
	}

	r.evaluators[evaluator.Type()] = evaluator
}

// Get returns the evaluator for nodeType.
//
// nolint:ireturn // evaluators are looked up polymorphically
func (r *Registry) Get(nodeType models.NodeType) (Evaluator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	evaluator, ok := r.evaluators[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}

	return evaluator, nil
}

// Evaluate dispatches node to its evaluator. Panics are recovered into a
// failed result.
func (r *Registry) Evaluate(ctx context.Context, node *models.Node, inputs map[string]any, env *Env) (result Result, err error) {
	evaluator, err := r.Get(node.Type)
	if err != nil {
		return Failed(nil), err
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			result = Failed(nil)
			err = fmt.Errorf("node %s panicked: %v", node.ID, recovered)
		}
	}()

	result, err = evaluator.Evaluate(ctx, node, inputs, env)
	if err != nil {
		result.Status = models.NodeStatusFailed
	}

	return result, err
}

// NewDefaultRegistry registers every built-in evaluator.
func NewDefaultRegistry(agentEvaluator *AgentEvaluator, logger *slog.Logger) *Registry {
	registry := NewRegistry(logger)
	registry.Register(StartEvaluator{})
	registry.Register(EndEvaluator{})
	registry.Register(ConditionEvaluator{})
	registry.Register(LoopEvaluator{})

	if agentEvaluator != nil {
		registry.Register(agentEvaluator)
	}

	return registry
}
