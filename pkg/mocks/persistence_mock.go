// Package mocks holds testify mocks of the engine's interfaces.
package mocks

import (
	"context"

	"github.com/dukex/agentflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockExecutionStore is a mock implementation of persistence.ExecutionStore interface.
type MockExecutionStore struct {
	mock.Mock
}

func (m *MockExecutionStore) Create(ctx context.Context, execution *models.Execution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionStore) UpdateStatus(ctx context.Context, executionID string, status models.ExecutionStatus) error {
	args := m.Called(ctx, executionID, status)

	return args.Error(0)
}

func (m *MockExecutionStore) UpdateNodeState(ctx context.Context, executionID string, nodeID string, state models.NodeState) error {
	args := m.Called(ctx, executionID, nodeID, state)

	return args.Error(0)
}

func (m *MockExecutionStore) AppendLog(ctx context.Context, executionID string, entry models.LogEntry) error {
	args := m.Called(ctx, executionID, entry)

	return args.Error(0)
}

func (m *MockExecutionStore) SetResult(ctx context.Context, executionID string, result any) error {
	args := m.Called(ctx, executionID, result)

	return args.Error(0)
}

func (m *MockExecutionStore) SetError(ctx context.Context, executionID string, message string) error {
	args := m.Called(ctx, executionID, message)

	return args.Error(0)
}

func (m *MockExecutionStore) Get(ctx context.Context, executionID string) (*models.Execution, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockExecutionStore) List(ctx context.Context, filter models.ExecutionFilter) ([]*models.Execution, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

func (m *MockExecutionStore) GetLogs(ctx context.Context, executionID string, query models.LogQuery) (*models.LogPage, error) {
	args := m.Called(ctx, executionID, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.LogPage), args.Error(1)
}

func (m *MockExecutionStore) ListRunning(ctx context.Context) ([]*models.Execution, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

func (m *MockExecutionStore) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockExecutionStore) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
