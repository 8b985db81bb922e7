package mocks

import (
	"context"

	"github.com/dukex/agentflow/pkg/events"
	"github.com/dukex/agentflow/pkg/llm"
	"github.com/stretchr/testify/mock"
)

// MockLLMClient is a mock implementation of llm.Client interface.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*llm.ChatResponse), args.Error(1)
}

func (m *MockLLMClient) DefaultModel() string {
	args := m.Called()

	return args.String(0)
}

// MockEventPublisher is a mock implementation of eventbus.EventPublisher interface.
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, key string, event events.Event) error {
	args := m.Called(ctx, key, event)

	return args.Error(0)
}
