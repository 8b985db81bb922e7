package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/dukex/agentflow/pkg/llm"
)

// StubLLM is a scripted llm.Client that records every request.
type StubLLM struct {
	mu       sync.Mutex
	Model    string
	Respond  func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
	requests []llm.ChatRequest
}

func (s *StubLLM) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	return s.Respond(ctx, req)
}

func (s *StubLLM) DefaultModel() string {
	if s.Model == "" {
		return "stub-model"
	}

	return s.Model
}

func (s *StubLLM) Requests() []llm.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]llm.ChatRequest(nil), s.requests...)
}

// EchoLLM replies with the last user message, uppercased when the system
// prompt asks for it.
func EchoLLM() *StubLLM {
	return &StubLLM{
		Respond: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			reply := LastUserMessage(req)
			if strings.Contains(strings.ToLower(SystemPrompt(req)), "uppercase") {
				reply = strings.ToUpper(reply)
			}

			return &llm.ChatResponse{Content: reply, Usage: &llm.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2}}, nil
		},
	}
}

// ToolCallingLLM requests the same tool call on every turn.
func ToolCallingLLM(toolName, arguments string) *StubLLM {
	return &StubLLM{
		Respond: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			return &llm.ChatResponse{
				ToolCalls: []llm.ToolCall{{ID: "call-" + toolName, Name: toolName, Arguments: arguments}},
			}, nil
		},
	}
}

// LastUserMessage returns the content of the last user message in req.
func LastUserMessage(req llm.ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			return req.Messages[i].Content
		}
	}

	return ""
}

// SystemPrompt returns the first system message in req.
func SystemPrompt(req llm.ChatRequest) string {
	for _, msg := range req.Messages {
		if msg.Role == llm.RoleSystem {
			return msg.Content
		}
	}

	return ""
}

// StaticClients hands out the same client for every user and model.
type StaticClients struct {
	Client llm.Client
	Err    error
}

func (s StaticClients) ForUser(context.Context, string, string) (llm.Client, error) {
	if s.Err != nil {
		return nil, s.Err
	}

	return s.Client, nil
}
