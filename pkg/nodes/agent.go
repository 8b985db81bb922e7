package nodes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/agentflow/pkg/agent"
	"github.com/dukex/agentflow/pkg/llm"
	"github.com/dukex/agentflow/pkg/memory"
	"github.com/dukex/agentflow/pkg/models"
	"github.com/dukex/agentflow/pkg/template"
)

// ClientProvider resolves the chat client for a user and an optional model.
type ClientProvider interface {
	ForUser(ctx context.Context, userID, model string) (llm.Client, error)
}

// IterationLimits supplies the per-user tool-loop cap used when a node sets none.
type IterationLimits interface {
	IterationLimit(userID string) int
}

type AgentEvaluator struct {
	clients ClientProvider
	runtime *agent.Runtime
	limits  IterationLimits
	logger  *slog.Logger
}

// NewAgentEvaluator builds the agent evaluator. limits may be nil.
func NewAgentEvaluator(clients ClientProvider, runtime *agent.Runtime, limits IterationLimits, logger *slog.Logger) *AgentEvaluator {
	return &AgentEvaluator{
		clients: clients,
		runtime: runtime,
		limits:  limits,
		logger:  logger.With("module", "agent_evaluator"),
	}
}

func (e *AgentEvaluator) Type() models.NodeType {
	return models.NodeTypeAgent
}

// Evaluate runs one agent turn and outputs {output, tool_trace, model,
// iterations, tokens?}. A failed turn still outputs the partial trace when the
// runtime produced one.
func (e *AgentEvaluator) Evaluate(ctx context.Context, node *models.Node, inputs map[string]any, env *Env) (Result, error) {
	cfg := models.AgentConfig{}
	if node.AgentConfig != nil {
		cfg = *node.AgentConfig
	}

	client, err := e.clients.ForUser(ctx, env.UserID, cfg.Model)
	if err != nil {
		return Failed(nil), err
	}

	systemPrompt, err := e.systemPrompt(node, cfg.SystemPrompt, inputs, env)
	if err != nil {
		return Failed(nil), err
	}

	req := agent.Request{
		SystemPrompt:  systemPrompt,
		UserMessage:   agent.BuildUserMessage(inputs),
		Model:         cfg.Model,
		Temperature:   cfg.Temperature,
		MaxTokens:     cfg.MaxTokens,
		Tools:         cfg.Tools,
		MaxIterations: e.maxIterations(cfg, env.UserID),
		MemoryOptions: memory.DefaultContextOptions(),
	}

	if cfg.Memory != nil && cfg.Memory.Enabled && env.Memory != nil {
		agentID := cfg.AgentID
		if agentID == "" {
			agentID = node.ID
		}

		req.Memory = env.Memory.ForAgent(agentID, *cfg.Memory)
		req.SaveToLongTerm = cfg.Memory.SaveToLongTerm
		req.MemoryOptions.IncludeLongTerm = req.Memory.HasLongTerm()

		if cfg.Memory.ConversationMessages > 0 {
			req.MemoryOptions.ConversationMessages = cfg.Memory.ConversationMessages
		}

		if cfg.Memory.LongTermResults > 0 {
			req.MemoryOptions.LongTermResults = cfg.Memory.LongTermResults
		}
	}

	result, err := e.runtime.Run(ctx, client, req)
	if err != nil {
		if result != nil {
			return Failed(agentOutput(result)), err
		}

		return Failed(nil), err
	}

	return Completed(agentOutput(result)), nil
}

func (e *AgentEvaluator) maxIterations(cfg models.AgentConfig, userID string) int {
	if cfg.MaxIterations != nil {
		return *cfg.MaxIterations
	}

	if e.limits != nil {
		return e.limits.IterationLimit(userID)
	}

	return agent.DefaultMaxIterations
}

func (e *AgentEvaluator) systemPrompt(node *models.Node, prompt string, inputs map[string]any, env *Env) (string, error) {
	if !template.NeedsTemplating(prompt) {
		return prompt, nil
	}

	rendered, err := template.RenderText(prompt, map[string]any{
		"inputs":    inputs,
		"variables": env.Variables,
		"node":      map[string]any{"id": node.ID, "name": node.DisplayName()},
	})
	if err != nil {
		return "", fmt.Errorf("failed to render system prompt: %w", err)
	}

	return rendered, nil
}

func agentOutput(result *agent.Result) map[string]any {
	output := map[string]any{
		"output":     result.Content,
		"tool_trace": result.ToolTrace,
		"model":      result.Model,
		"iterations": result.Iterations,
	}

	if result.Usage != nil {
		output["tokens"] = result.Usage.TotalTokens
	}

	return output
}
