// Package storetest holds behaviour checks shared by every ExecutionStore implementation.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dukex/agentflow/pkg/models"
	"github.com/dukex/agentflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) persistence.ExecutionStore

// NewExecution builds a pending execution with sensible defaults.
func NewExecution(overrides ...func(*models.Execution)) *models.Execution {
	execution := &models.Execution{
		ID:         uuid.New().String(),
		WorkflowID: "wf-test",
		UserID:     "user-1",
		Status:     models.ExecutionStatusPending,
		Inputs:     map[string]any{"topic": "hi"},
		StartedAt:  time.Now().UTC().Truncate(time.Millisecond),
		NodeStates: map[string]models.NodeState{
			"start": {Status: models.NodeStatusPending},
		},
	}

	for _, override := range overrides {
		override(execution)
	}

	return execution
}

// Run exercises the full ExecutionStore contract against stores built by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, factory(t)) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, factory(t)) })
	t.Run("GetNotFound", func(t *testing.T) { testGetNotFound(t, factory(t)) })
	t.Run("StatusLifecycle", func(t *testing.T) { testStatusLifecycle(t, factory(t)) })
	t.Run("NodeStatesRoundTrip", func(t *testing.T) { testNodeStates(t, factory(t)) })
	t.Run("ResultAndError", func(t *testing.T) { testResultAndError(t, factory(t)) })
	t.Run("ListFilters", func(t *testing.T) { testListFilters(t, factory(t)) })
	t.Run("LogPagination", func(t *testing.T) { testLogPagination(t, factory(t)) })
	t.Run("ListRunning", func(t *testing.T) { testListRunning(t, factory(t)) })
}

func testCreateAndGet(t *testing.T, store persistence.ExecutionStore) {
	ctx := context.Background()
	execution := NewExecution()

	require.NoError(t, store.Create(ctx, execution))

	got, err := store.Get(ctx, execution.ID)
	require.NoError(t, err)

	assert.Equal(t, execution.ID, got.ID)
	assert.Equal(t, execution.WorkflowID, got.WorkflowID)
	assert.Equal(t, execution.UserID, got.UserID)
	assert.Equal(t, models.ExecutionStatusPending, got.Status)
	assert.Equal(t, "hi", got.Inputs["topic"])
	assert.True(t, execution.StartedAt.Equal(got.StartedAt))
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, models.NodeStatusPending, got.NodeStates["start"].Status)
	assert.Empty(t, got.Logs)
}

func testCreateDuplicate(t *testing.T, store persistence.ExecutionStore) {
	ctx := context.Background()
	execution := NewExecution()

	require.NoError(t, store.Create(ctx, execution))

	err := store.Create(ctx, execution)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrExecutionAlreadyExists)
}

func testGetNotFound(t *testing.T, store persistence.ExecutionStore) {
	ctx := context.Background()

	_, err := store.Get(ctx, uuid.New().String())
	require.Error(t, err)
	assert.True(t, persistence.IsExecutionNotFound(err))

	err = store.UpdateStatus(ctx, uuid.New().String(), models.ExecutionStatusRunning)
	assert.True(t, persistence.IsExecutionNotFound(err))

	_, err = store.GetLogs(ctx, uuid.New().String(), models.LogQuery{})
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func testStatusLifecycle(t *testing.T, store persistence.ExecutionStore) {
	ctx := context.Background()
	execution := NewExecution()

	require.NoError(t, store.Create(ctx, execution))
	require.NoError(t, store.UpdateStatus(ctx, execution.ID, models.ExecutionStatusRunning))
	require.NoError(t, store.UpdateStatus(ctx, execution.ID, models.ExecutionStatusCompleted))

	got, err := store.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	err = store.UpdateStatus(ctx, execution.ID, models.ExecutionStatusCancelled)
	require.Error(t, err)
	assert.True(t, persistence.IsTerminalExecution(err))

	got, err = store.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, got.Status)
}

func testNodeStates(t *testing.T, store persistence.ExecutionStore) {
	ctx := context.Background()
	execution := NewExecution()
	require.NoError(t, store.Create(ctx, execution))

	started := time.Now().UTC().Truncate(time.Millisecond)
	completed := started.Add(time.Second)

	require.NoError(t, store.UpdateNodeState(ctx, execution.ID, "a", models.NodeState{
		Status:    models.NodeStatusRunning,
		StartedAt: &started,
	}))

	got, err := store.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.CurrentNode)

	require.NoError(t, store.UpdateNodeState(ctx, execution.ID, "a", models.NodeState{
		Status:      models.NodeStatusCompleted,
		StartedAt:   &started,
		CompletedAt: &completed,
		Output:      map[string]any{"output": "hi", "model": "stub"},
	}))
	require.NoError(t, store.UpdateNodeState(ctx, execution.ID, "b", models.NodeState{
		Status: models.NodeStatusFailed,
		Error:  "boom",
	}))

	got, err = store.Get(ctx, execution.ID)
	require.NoError(t, err)

	a := got.NodeStates["a"]
	assert.Equal(t, models.NodeStatusCompleted, a.Status)
	require.NotNil(t, a.CompletedAt)
	assert.True(t, completed.Equal(*a.CompletedAt))
	assert.Equal(t, map[string]any{"output": "hi", "model": "stub"}, a.Output)
	assert.Equal(t, "boom", got.NodeStates["b"].Error)
	assert.Equal(t, models.NodeStatusPending, got.NodeStates["start"].Status)
}

func testResultAndError(t *testing.T, store persistence.ExecutionStore) {
	ctx := context.Background()
	execution := NewExecution()
	require.NoError(t, store.Create(ctx, execution))

	require.NoError(t, store.SetResult(ctx, execution.ID, map[string]any{"output": "HI"}))
	require.NoError(t, store.SetError(ctx, execution.ID, "something broke"))

	got, err := store.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"output": "HI"}, got.Result)
	assert.Equal(t, "something broke", got.Error)
}

func testListFilters(t *testing.T, store persistence.ExecutionStore) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	first := NewExecution(func(e *models.Execution) {
		e.WorkflowID = "wf-a"
		e.UserID = "u1"
		e.StartedAt = base
	})
	second := NewExecution(func(e *models.Execution) {
		e.WorkflowID = "wf-a"
		e.UserID = "u2"
		e.StartedAt = base.Add(time.Second)
	})
	third := NewExecution(func(e *models.Execution) {
		e.WorkflowID = "wf-b"
		e.UserID = "u1"
		e.StartedAt = base.Add(2 * time.Second)
	})

	for _, execution := range []*models.Execution{first, second, third} {
		require.NoError(t, store.Create(ctx, execution))
	}

	require.NoError(t, store.UpdateStatus(ctx, second.ID, models.ExecutionStatusRunning))

	ids := func(list []*models.Execution) []string {
		out := make([]string, 0, len(list))
		for _, e := range list {
			out = append(out, e.ID)
		}

		return out
	}

	all, err := store.List(ctx, models.ExecutionFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{third.ID, second.ID, first.ID}, ids(all))

	byWorkflow, err := store.List(ctx, models.ExecutionFilter{WorkflowID: "wf-a"})
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID, first.ID}, ids(byWorkflow))

	byUser, err := store.List(ctx, models.ExecutionFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{third.ID, first.ID}, ids(byUser))

	byStatus, err := store.List(ctx, models.ExecutionFilter{Status: models.ExecutionStatusRunning})
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, ids(byStatus))

	paged, err := store.List(ctx, models.ExecutionFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, ids(paged))
}

func testLogPagination(t *testing.T, store persistence.ExecutionStore) {
	ctx := context.Background()
	execution := NewExecution()
	require.NoError(t, store.Create(ctx, execution))

	base := time.Now().UTC().Truncate(time.Millisecond)

	for i := range 1200 {
		level := models.LogLevelInfo
		nodeID := "a"

		if i%100 == 0 {
			level = models.LogLevelError
			nodeID = "b"
		}

		require.NoError(t, store.AppendLog(ctx, execution.ID, models.LogEntry{
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
			Level:     level,
			NodeID:    nodeID,
			Message:   fmt.Sprintf("entry %d", i),
		}))
	}

	page, err := store.GetLogs(ctx, execution.ID, models.LogQuery{Limit: 500, Offset: 500})
	require.NoError(t, err)
	require.Len(t, page.Logs, 500)
	assert.Equal(t, execution.ID, page.ExecutionID)
	assert.Equal(t, 1200, page.Total)
	assert.Equal(t, 500, page.Limit)
	assert.Equal(t, 500, page.Offset)

	for i, entry := range page.Logs {
		assert.Equal(t, fmt.Sprintf("entry %d", 500+i), entry.Message)
	}

	errorsOnly, err := store.GetLogs(ctx, execution.ID, models.LogQuery{Level: models.LogLevelError, Limit: 1000})
	require.NoError(t, err)
	require.Len(t, errorsOnly.Logs, 12)
	assert.Equal(t, 12, errorsOnly.Total)

	for i, entry := range errorsOnly.Logs {
		assert.Equal(t, models.LogLevelError, entry.Level)
		assert.Equal(t, fmt.Sprintf("entry %d", i*100), entry.Message)
	}

	byNode, err := store.GetLogs(ctx, execution.ID, models.LogQuery{NodeID: "b", Limit: 5, Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 12, byNode.Total)
	require.Len(t, byNode.Logs, 2)
	assert.Equal(t, "entry 1000", byNode.Logs[0].Message)

	got, err := store.Get(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, got.Logs, 1200)
	assert.Equal(t, "entry 0", got.Logs[0].Message)
	assert.Equal(t, "entry 1199", got.Logs[1199].Message)
}

func testListRunning(t *testing.T, store persistence.ExecutionStore) {
	ctx := context.Background()

	pending := NewExecution()
	running := NewExecution()
	done := NewExecution()

	for _, execution := range []*models.Execution{pending, running, done} {
		require.NoError(t, store.Create(ctx, execution))
	}

	require.NoError(t, store.UpdateStatus(ctx, running.ID, models.ExecutionStatusRunning))
	require.NoError(t, store.UpdateStatus(ctx, done.ID, models.ExecutionStatusFailed))

	list, err := store.ListRunning(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(list))
	for _, execution := range list {
		ids = append(ids, execution.ID)
	}

	assert.ElementsMatch(t, []string{pending.ID, running.ID}, ids)
}
