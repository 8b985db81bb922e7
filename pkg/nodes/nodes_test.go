package nodes_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/dukex/agentflow/pkg/agent"
	"github.com/dukex/agentflow/pkg/llm"
	"github.com/dukex/agentflow/pkg/memory"
	"github.com/dukex/agentflow/pkg/models"
	"github.com/dukex/agentflow/pkg/nodes"
	"github.com/dukex/agentflow/pkg/testutil"
	"github.com/dukex/agentflow/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedLimits int

func (l fixedLimits) IterationLimit(string) int {
	return int(l)
}

func newRegistry(t *testing.T, client llm.Client, limits nodes.IterationLimits) *nodes.Registry {
	t.Helper()

	toolRegistry := tools.NewRegistry(slog.Default())
	tools.RegisterBuiltins(toolRegistry, t.TempDir())

	evaluator := nodes.NewAgentEvaluator(
		testutil.StaticClients{Client: client},
		agent.NewRuntime(toolRegistry, slog.Default(), nil),
		limits,
		slog.Default(),
	)

	return nodes.NewDefaultRegistry(evaluator, slog.Default())
}

func newEnv() *nodes.Env {
	return &nodes.Env{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		Inputs:      map[string]any{"topic": "hi"},
		Memory:      memory.NewScope(memory.NewInMemoryBackend(), slog.Default()),
		Logger:      slog.Default(),
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	t.Parallel()

	registry := nodes.NewRegistry(slog.Default())

	result, err := registry.Evaluate(context.Background(), &models.Node{ID: "x", Type: "mystery"}, nil, newEnv())
	require.ErrorIs(t, err, nodes.ErrUnknownNodeType)
	assert.Equal(t, models.NodeStatusFailed, result.Status)
}

type panicking struct{}

func (panicking) Type() models.NodeType { return "panicking" }

func (panicking) Evaluate(context.Context, *models.Node, map[string]any, *nodes.Env) (nodes.Result, error) {
	panic("boom")
}

func TestRegistry_RecoversPanics(t *testing.T) {
	t.Parallel()

	registry := nodes.NewRegistry(slog.Default())
	registry.Register(panicking{})

	result, err := registry.Evaluate(context.Background(), &models.Node{ID: "p", Type: "panicking"}, nil, newEnv())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, models.NodeStatusFailed, result.Status)
}

func TestStartAndEnd(t *testing.T) {
	t.Parallel()

	registry := newRegistry(t, testutil.EchoLLM(), nil)
	env := newEnv()

	result, err := registry.Evaluate(context.Background(), testutil.StartNode("start"), nil, env)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"topic": "hi"}, result.Output)

	output, ok := result.Output.(map[string]any)
	require.True(t, ok)

	output["topic"] = "changed"
	assert.Equal(t, "hi", env.Inputs["topic"])

	result, err = registry.Evaluate(context.Background(), testutil.EndNode("end"), map[string]any{"output": "HI", "model": "m"}, env)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"output": "HI"}, result.Output)

	result, err = registry.Evaluate(context.Background(), testutil.EndNode("end"), map[string]any{"a": 1}, env)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"output": map[string]any{"a": 1}}, result.Output)
}

func TestCondition(t *testing.T) {
	t.Parallel()

	registry := newRegistry(t, testutil.EchoLLM(), nil)
	node := testutil.ConditionNode("c", models.ConditionEquals, "sentiment", "pos")

	tests := []struct {
		name   string
		inputs map[string]any
		branch string
		result bool
	}{
		{"match", map[string]any{"sentiment": "pos"}, models.BranchTrue, true},
		{"mismatch", map[string]any{"sentiment": "neg"}, models.BranchFalse, false},
		{"missing field", map[string]any{}, models.BranchFalse, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result, err := registry.Evaluate(context.Background(), node, tt.inputs, newEnv())
			require.NoError(t, err)
			assert.Equal(t, models.NodeStatusCompleted, result.Status)
			assert.Equal(t, map[string]any{"result": tt.result, "branch": tt.branch}, result.Output)
		})
	}

	_, err := registry.Evaluate(context.Background(), &models.Node{ID: "bare", Type: models.NodeTypeCondition}, nil, newEnv())
	require.ErrorIs(t, err, nodes.ErrMissingConfig)
}

func TestLoop(t *testing.T) {
	t.Parallel()

	registry := newRegistry(t, testutil.EchoLLM(), nil)

	forEach := testutil.LoopNode("l", models.LoopConfig{LoopType: models.LoopForEach, ItemsSource: "items", MaxIterations: 2})
	result, err := registry.Evaluate(context.Background(), forEach, map[string]any{"items": []string{"a", "b", "c"}}, newEnv())
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, result.Output.(map[string]any)["items"])

	_, err = registry.Evaluate(context.Background(), forEach, map[string]any{"items": 3}, newEnv())
	require.Error(t, err)

	_, err = registry.Evaluate(context.Background(), forEach, map[string]any{}, newEnv())
	require.Error(t, err)

	times := testutil.LoopNode("t", models.LoopConfig{LoopType: models.LoopTimes, MaxIterations: 3})
	result, err = registry.Evaluate(context.Background(), times, nil, newEnv())
	require.NoError(t, err)
	assert.Equal(t, []any{0, 1, 2}, result.Output.(map[string]any)["items"])

	while := testutil.LoopNode("w", models.LoopConfig{LoopType: models.LoopWhile})
	_, err = registry.Evaluate(context.Background(), while, nil, newEnv())
	require.ErrorIs(t, err, nodes.ErrMissingConfig)
}

func TestAgent_EchoesInput(t *testing.T) {
	t.Parallel()

	client := testutil.EchoLLM()
	registry := newRegistry(t, client, nil)

	node := testutil.AgentNode("A", "Talk about {{ .inputs.topic }}, uppercase it")

	result, err := registry.Evaluate(context.Background(), node, map[string]any{"topic": "hi"}, newEnv())
	require.NoError(t, err)

	output, ok := result.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "HI", output["output"])
	assert.Equal(t, "stub-model", output["model"])
	assert.Equal(t, 2, output["tokens"])

	requests := client.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "Talk about hi, uppercase it", testutil.SystemPrompt(requests[0]))
}

func TestAgent_IterationCapFallsBackToSettings(t *testing.T) {
	t.Parallel()

	client := testutil.ToolCallingLLM("calculator", `{"expression":"2+2"}`)
	registry := newRegistry(t, client, fixedLimits(2))

	node := testutil.AgentNode("A", "count", testutil.WithTools("calculator"))

	result, err := registry.Evaluate(context.Background(), node, map[string]any{"q": "x"}, newEnv())
	require.ErrorIs(t, err, agent.ErrToolLoopExhausted)
	assert.Equal(t, models.NodeStatusFailed, result.Status)

	output, ok := result.Output.(map[string]any)
	require.True(t, ok)
	assert.Len(t, output["tool_trace"], 2)
}

func TestAgent_NodeIterationCapWins(t *testing.T) {
	t.Parallel()

	client := testutil.ToolCallingLLM("calculator", `{"expression":"2+2"}`)
	registry := newRegistry(t, client, fixedLimits(5))

	node := testutil.AgentNode("A", "count", testutil.WithTools("calculator"), testutil.WithMaxIterations(3))

	result, err := registry.Evaluate(context.Background(), node, map[string]any{"q": "x"}, newEnv())
	require.ErrorIs(t, err, agent.ErrToolLoopExhausted)
	assert.Len(t, result.Output.(map[string]any)["tool_trace"], 3)
	assert.Len(t, client.Requests(), 4)
}

func TestAgent_ClientResolutionFails(t *testing.T) {
	t.Parallel()

	toolRegistry := tools.NewRegistry(slog.Default())
	evaluator := nodes.NewAgentEvaluator(
		testutil.StaticClients{Err: llm.ErrConfig},
		agent.NewRuntime(toolRegistry, slog.Default(), nil),
		nil,
		slog.Default(),
	)

	result, err := evaluator.Evaluate(context.Background(), testutil.AgentNode("A", "x"), nil, newEnv())
	require.True(t, errors.Is(err, llm.ErrConfig))
	assert.Equal(t, models.NodeStatusFailed, result.Status)
	assert.Nil(t, result.Output)
}

func TestAgent_MemoryIsSharedPerAgent(t *testing.T) {
	t.Parallel()

	client := testutil.EchoLLM()
	registry := newRegistry(t, client, nil)
	env := newEnv()

	memoryConfig := models.MemoryConfig{Enabled: true, MaxMessages: 10}
	first := testutil.AgentNode("A", "remember", testutil.WithMemory(memoryConfig))
	second := testutil.AgentNode("B", "remember", testutil.WithMemory(memoryConfig))
	second.AgentConfig.AgentID = first.ID

	_, err := registry.Evaluate(context.Background(), first, map[string]any{"q": "first question"}, env)
	require.NoError(t, err)

	_, err = registry.Evaluate(context.Background(), second, map[string]any{"q": "second question"}, env)
	require.NoError(t, err)

	requests := client.Requests()
	require.Len(t, requests, 2)

	var memoryContext string
	for _, msg := range requests[1].Messages {
		if msg.Role == llm.RoleSystem && msg.Content != "remember" {
			memoryContext = msg.Content
		}
	}

	assert.Contains(t, memoryContext, "Recent Conversation:")
	assert.Contains(t, memoryContext, "first question")
	assert.Equal(t, 4, env.Memory.ForAgent("A", memoryConfig).Conversation().Len())
}
