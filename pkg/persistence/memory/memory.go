// Package memory provides an in-process execution store.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/dukex/agentflow/pkg/models"
	"github.com/dukex/agentflow/pkg/persistence"
)

type record struct {
	execution *models.Execution
	logs      []models.LogEntry
}

// Store keeps executions in memory. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
	now     func() time.Time
}

var _ persistence.ExecutionStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		records: make(map[string]*record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Create(_ context.Context, execution *models.Execution) error {
	if execution.ID == "" {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrInvalidExecutionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[execution.ID]; exists {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	stored := clone(execution)
	logs := stored.Logs
	stored.Logs = nil

	s.records[execution.ID] = &record{execution: stored, logs: logs}

	return nil
}

func (s *Store) UpdateStatus(_ context.Context, executionID string, status models.ExecutionStatus) error {
	return s.mutate("UpdateStatus", executionID, func(r *record) error {
		return persistence.ApplyStatus(r.execution, status, s.now())
	})
}

func (s *Store) UpdateNodeState(_ context.Context, executionID string, nodeID string, state models.NodeState) error {
	return s.mutate("UpdateNodeState", executionID, func(r *record) error {
		persistence.ApplyNodeState(r.execution, nodeID, state)

		return nil
	})
}

func (s *Store) AppendLog(_ context.Context, executionID string, entry models.LogEntry) error {
	return s.mutate("AppendLog", executionID, func(r *record) error {
		r.logs = append(r.logs, entry)

		return nil
	})
}

func (s *Store) SetResult(_ context.Context, executionID string, result any) error {
	return s.mutate("SetResult", executionID, func(r *record) error {
		r.execution.Result = result

		return nil
	})
}

func (s *Store) SetError(_ context.Context, executionID string, message string) error {
	return s.mutate("SetError", executionID, func(r *record) error {
		r.execution.Error = message

		return nil
	})
}

func (s *Store) Get(_ context.Context, executionID string) (*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[executionID]
	if !ok {
		return nil, persistence.NewExecutionError("Get", executionID, persistence.ErrExecutionNotFound)
	}

	execution := clone(r.execution)
	execution.Logs = append([]models.LogEntry(nil), r.logs...)

	return execution, nil
}

func (s *Store) List(_ context.Context, filter models.ExecutionFilter) ([]*models.Execution, error) {
	return persistence.FilterExecutions(s.snapshot(), filter), nil
}

func (s *Store) GetLogs(_ context.Context, executionID string, query models.LogQuery) (*models.LogPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[executionID]
	if !ok {
		return nil, persistence.NewExecutionError("GetLogs", executionID, persistence.ErrExecutionNotFound)
	}

	return persistence.PageLogs(executionID, r.logs, query), nil
}

func (s *Store) ListRunning(_ context.Context) ([]*models.Execution, error) {
	running := make([]*models.Execution, 0)

	for _, execution := range s.snapshot() {
		if persistence.IsRunning(execution) {
			running = append(running, execution)
		}
	}

	return persistence.FilterExecutions(running, models.ExecutionFilter{}), nil
}

func (s *Store) HealthCheck(context.Context) error {
	return nil
}

func (s *Store) Close(context.Context) error {
	return nil
}

func (s *Store) mutate(op, executionID string, fn func(*record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[executionID]
	if !ok {
		return persistence.NewExecutionError(op, executionID, persistence.ErrExecutionNotFound)
	}

	return fn(r)
}

func (s *Store) snapshot() []*models.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	executions := make([]*models.Execution, 0, len(s.records))
	for _, r := range s.records {
		executions = append(executions, clone(r.execution))
	}

	return executions
}

func clone(execution *models.Execution) *models.Execution {
	copied := *execution
	copied.Inputs = maps.Clone(execution.Inputs)
	copied.NodeStates = maps.Clone(execution.NodeStates)

	if copied.NodeStates == nil {
		copied.NodeStates = make(map[string]models.NodeState)
	}

	if execution.CompletedAt != nil {
		completed := *execution.CompletedAt
		copied.CompletedAt = &completed
	}

	copied.Logs = append([]models.LogEntry(nil), execution.Logs...)

	return &copied
}
