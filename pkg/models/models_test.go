package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionStatus_Transitions(t *testing.T) {
	t.Parallel()

	assert.True(t, ExecutionStatusPending.CanTransitionTo(ExecutionStatusRunning))
	assert.True(t, ExecutionStatusPending.CanTransitionTo(ExecutionStatusCancelled))
	assert.True(t, ExecutionStatusRunning.CanTransitionTo(ExecutionStatusCompleted))
	assert.True(t, ExecutionStatusRunning.CanTransitionTo(ExecutionStatusFailed))
	assert.False(t, ExecutionStatusRunning.CanTransitionTo(ExecutionStatusPending))
	assert.False(t, ExecutionStatusCompleted.CanTransitionTo(ExecutionStatusCancelled))
	assert.False(t, ExecutionStatusCancelled.CanTransitionTo(ExecutionStatusRunning))

	assert.False(t, ExecutionStatusRunning.IsTerminal())
	assert.True(t, ExecutionStatusFailed.IsTerminal())
}

func TestExecution_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	done := started.Add(2 * time.Second)

	original := &Execution{
		ID:          "exec-1",
		WorkflowID:  "wf-1",
		UserID:      "user-1",
		Status:      ExecutionStatusCompleted,
		CurrentNode: "end",
		Inputs:      map[string]any{"topic": "hi"},
		StartedAt:   started,
		CompletedAt: &done,
		Result:      map[string]any{"output": "HI"},
		NodeStates: map[string]NodeState{
			"a": {Status: NodeStatusCompleted, StartedAt: &started, CompletedAt: &done, Output: map[string]any{"output": "hi"}},
			"y": {Status: NodeStatusSkipped},
		},
		Logs: []LogEntry{
			{Timestamp: started, Level: LogLevelInfo, Message: "Workflow execution started"},
			{Timestamp: done, Level: LogLevelInfo, NodeID: "a", Message: "Node completed: a"},
		},
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Execution
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, original, &decoded)
}

func TestLogQuery_Normalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultLogLimit, LogQuery{}.Normalize().Limit)
	assert.Equal(t, MaxLogLimit, LogQuery{Limit: 5000}.Normalize().Limit)
	assert.Equal(t, 0, LogQuery{Offset: -3}.Normalize().Offset)
	assert.Equal(t, 500, LogQuery{Limit: 500, Offset: 500}.Normalize().Limit)
}

func TestLogQuery_Matches(t *testing.T) {
	t.Parallel()

	entry := LogEntry{Level: LogLevelError, NodeID: "a"}

	assert.True(t, LogQuery{}.Matches(entry))
	assert.True(t, LogQuery{Level: LogLevelError}.Matches(entry))
	assert.False(t, LogQuery{Level: LogLevelInfo}.Matches(entry))
	assert.True(t, LogQuery{NodeID: "a"}.Matches(entry))
	assert.False(t, LogQuery{NodeID: "b"}.Matches(entry))
}

func TestConditionConfig_Evaluate(t *testing.T) {
	t.Parallel()

	inputs := map[string]any{
		"sentiment": "pos",
		"score":     0.8,
		"count":     "3",
		"tags":      []any{"a", "b"},
		"nested":    map[string]any{"flag": true},
		"empty":     "",
	}

	tests := []struct {
		name string
		cond ConditionConfig
		want bool
	}{
		{"equals string", ConditionConfig{ConditionType: ConditionEquals, Field: "sentiment", Value: "pos"}, true},
		{"equals mismatch", ConditionConfig{ConditionType: ConditionEquals, Field: "sentiment", Value: "neg"}, false},
		{"equals numeric string", ConditionConfig{ConditionType: ConditionEquals, Field: "count", Value: 3}, true},
		{"not equals", ConditionConfig{ConditionType: ConditionNotEquals, Field: "sentiment", Value: "neg"}, true},
		{"contains string", ConditionConfig{ConditionType: ConditionContains, Field: "sentiment", Value: "o"}, true},
		{"contains list", ConditionConfig{ConditionType: ConditionContains, Field: "tags", Value: "b"}, true},
		{"greater than", ConditionConfig{ConditionType: ConditionGreaterThan, Field: "score", Value: 0.5}, true},
		{"less than", ConditionConfig{ConditionType: ConditionLessThan, Field: "score", Value: 0.5}, false},
		{"greater than non numeric", ConditionConfig{ConditionType: ConditionGreaterThan, Field: "sentiment", Value: 1}, false},
		{"truthy nested", ConditionConfig{ConditionType: ConditionTruthy, Field: "nested.flag"}, true},
		{"truthy empty", ConditionConfig{ConditionType: ConditionTruthy, Field: "empty"}, false},
		{"missing field", ConditionConfig{ConditionType: ConditionNotEquals, Field: "absent", Value: "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.cond.Evaluate(inputs))
		})
	}
}

func TestTruthy(t *testing.T) {
	t.Parallel()

	assert.False(t, Truthy(nil))
	assert.False(t, Truthy("false"))
	assert.True(t, Truthy("yes"))
	assert.False(t, Truthy(0))
	assert.True(t, Truthy(2.5))
	assert.False(t, Truthy([]any{}))
	assert.True(t, Truthy([]string{"x"}))
	assert.True(t, Truthy(struct{}{}))
}

func TestWorkflowDefinition_Validation(t *testing.T) {
	t.Parallel()

	validate := validator.New(validator.WithRequiredStructEnabled())

	valid := &WorkflowDefinition{
		Name: "two agents",
		Nodes: []*Node{
			{ID: "start", Type: NodeTypeStart},
			{ID: "end", Type: NodeTypeEnd},
		},
		Edges: []*Edge{{ID: "e1", Source: "start", Target: "end"}},
	}
	require.NoError(t, validate.Struct(valid))

	invalid := &WorkflowDefinition{
		Name: "bad",
		Nodes: []*Node{
			{ID: "start", Type: "webhook"},
			{ID: "end", Type: NodeTypeEnd},
		},
		Edges: []*Edge{{ID: "e1", Source: "start", Target: "end", Condition: "maybe"}},
	}

	err := validate.Struct(invalid)
	require.Error(t, err)

	var validationErrors validator.ValidationErrors
	require.True(t, errors.As(err, &validationErrors))

	fields := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		fields = append(fields, fieldErr.Field())
	}

	assert.Contains(t, fields, "Type")
	assert.Contains(t, fields, "Condition")
}

func TestLoopConfig_IterationCap(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultLoopIterations, (&LoopConfig{}).IterationCap())
	assert.Equal(t, 3, (&LoopConfig{MaxIterations: 3}).IterationCap())
}
