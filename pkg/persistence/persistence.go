// Package persistence defines the execution store and helpers shared by its implementations.
package persistence

import (
	"context"
	"sort"
	"time"

	"github.com/dukex/agentflow/pkg/models"
)

// ExecutionStore is the durable record of executions, their node states and logs.
// Every method is atomic on its own.
type ExecutionStore interface {
	Create(ctx context.Context, execution *models.Execution) error
	UpdateStatus(ctx context.Context, executionID string, status models.ExecutionStatus) error
	UpdateNodeState(ctx context.Context, executionID string, nodeID string, state models.NodeState) error
	AppendLog(ctx context.Context, executionID string, entry models.LogEntry) error
	SetResult(ctx context.Context, executionID string, result any) error
	SetError(ctx context.Context, executionID string, message string) error

	Get(ctx context.Context, executionID string) (*models.Execution, error)
	List(ctx context.Context, filter models.ExecutionFilter) ([]*models.Execution, error)
	GetLogs(ctx context.Context, executionID string, query models.LogQuery) (*models.LogPage, error)
	ListRunning(ctx context.Context) ([]*models.Execution, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ApplyStatus moves execution to status, enforcing the state machine.
// Setting the current status again is a no-op.
func ApplyStatus(execution *models.Execution, status models.ExecutionStatus, at time.Time) error {
	if execution.Status == status {
		return nil
	}

	if execution.Status.IsTerminal() {
		return NewExecutionError("UpdateStatus", execution.ID, ErrTerminalExecution)
	}

	if !execution.Status.CanTransitionTo(status) {
		return &ExecutionError{
			Op:          "UpdateStatus",
			ExecutionID: execution.ID,
			Err:         ErrInvalidTransition,
			Message:     string(execution.Status) + " -> " + string(status),
		}
	}

	execution.Status = status

	if status.IsTerminal() {
		completed := at
		execution.CompletedAt = &completed
	}

	return nil
}

// ApplyNodeState records state for nodeID and tracks the current node.
func ApplyNodeState(execution *models.Execution, nodeID string, state models.NodeState) {
	if execution.NodeStates == nil {
		execution.NodeStates = make(map[string]models.NodeState)
	}

	execution.NodeStates[nodeID] = state

	if state.Status == models.NodeStatusRunning {
		execution.CurrentNode = nodeID
	}
}

// MatchesFilter reports whether execution passes the filter's field constraints.
func MatchesFilter(execution *models.Execution, filter models.ExecutionFilter) bool {
	if filter.WorkflowID != "" && execution.WorkflowID != filter.WorkflowID {
		return false
	}

	if filter.UserID != "" && execution.UserID != filter.UserID {
		return false
	}

	return filter.Status == "" || execution.Status == filter.Status
}

// FilterExecutions applies filter to executions, newest first, then paginates.
func FilterExecutions(executions []*models.Execution, filter models.ExecutionFilter) []*models.Execution {
	matched := make([]*models.Execution, 0, len(executions))

	for _, execution := range executions {
		if MatchesFilter(execution, filter) {
			matched = append(matched, execution)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*models.Execution{}
		}

		matched = matched[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}

	return matched
}

// PageLogs filters logs (kept in append order) and slices one page.
func PageLogs(executionID string, logs []models.LogEntry, query models.LogQuery) *models.LogPage {
	query = query.Normalize()

	matched := make([]models.LogEntry, 0, len(logs))

	for _, entry := range logs {
		if query.Matches(entry) {
			matched = append(matched, entry)
		}
	}

	page := &models.LogPage{
		ExecutionID: executionID,
		Logs:        []models.LogEntry{},
		Total:       len(matched),
		Limit:       query.Limit,
		Offset:      query.Offset,
	}

	if query.Offset >= len(matched) {
		return page
	}

	end := min(query.Offset+query.Limit, len(matched))
	page.Logs = append(page.Logs, matched[query.Offset:end]...)

	return page
}

// IsRunning reports whether the execution counts for ListRunning.
func IsRunning(execution *models.Execution) bool {
	return execution.Status == models.ExecutionStatusPending || execution.Status == models.ExecutionStatusRunning
}
