// Package agent runs one agent turn: a chat with optional memory context and a
// bounded tool-calling loop.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/dukex/agentflow/pkg/llm"
	"github.com/dukex/agentflow/pkg/memory"
	"github.com/dukex/agentflow/pkg/otelhelper"
	"github.com/dukex/agentflow/pkg/tools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const DefaultMaxIterations = 10

// Request is the resolved context of one agent turn.
type Request struct {
	SystemPrompt  string
	UserMessage   string
	Model         string
	Temperature   *float64
	MaxTokens     int
	Tools         []string
	MaxIterations int

	// History holds prior turns for multi-turn conversations.
	History []llm.Message

	Memory         *memory.Manager
	MemoryOptions  memory.ContextOptions
	SaveToLongTerm bool
}

// TraceEntry records one tool invocation.
type TraceEntry struct {
	Iteration  int            `json:"iteration"`
	ToolCallID string         `json:"tool_call_id"`
	Tool       string         `json:"tool"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type Result struct {
	Content    string       `json:"content"`
	ToolTrace  []TraceEntry `json:"tool_trace"`
	Model      string       `json:"model"`
	Usage      *llm.Usage   `json:"usage,omitempty"`
	Iterations int          `json:"iterations"`
}

type Runtime struct {
	tools  tools.Invoker
	logger *slog.Logger
	tracer trace.Tracer
}

func NewRuntime(invoker tools.Invoker, logger *slog.Logger, tracer trace.Tracer) *Runtime {
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	return &Runtime{
		tools:  invoker,
		logger: logger.With("module", "agent"),
		tracer: tracer,
	}
}

// Run drives the chat until the model answers without tool calls. Each round of
// tool calls counts as one iteration; a reply with tool calls after
// req.MaxIterations rounds fails with ToolLoopExhaustedError, which carries the
// partial Result.
func (r *Runtime) Run(ctx context.Context, client llm.Client, req Request) (*Result, error) {
	model := req.Model
	if model == "" {
		model = client.DefaultModel()
	}

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "agent.run", attribute.String(otelhelper.ModelKey, model))
	defer span.End()

	definitions, err := r.definitions(req.Tools)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	messages := r.buildMessages(ctx, req)
	result := &Result{Model: model, ToolTrace: []TraceEntry{}}

	for {
		resp, err := client.Chat(ctx, llm.ChatRequest{
			Messages:    messages,
			Model:       model,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
			Tools:       definitions,
		})
		if err != nil {
			otelhelper.SetError(span, err)

			return nil, err
		}

		result.Content = resp.Content
		result.Usage = addUsage(result.Usage, resp.Usage)

		if resp.Model != "" {
			result.Model = resp.Model
		}

		if len(resp.ToolCalls) == 0 {
			r.remember(ctx, req, result.Content)

			return result, nil
		}

		if result.Iterations >= req.MaxIterations {
			exhausted := &ToolLoopExhaustedError{MaxIterations: req.MaxIterations, Result: result}
			otelhelper.SetError(span, exhausted)

			return result, exhausted
		}

		messages = append(messages, resp.AssistantMessage())

		for _, call := range resp.ToolCalls {
			entry, message := r.invoke(ctx, result.Iterations, call)
			result.ToolTrace = append(result.ToolTrace, entry)
			messages = append(messages, message)
		}

		result.Iterations++
		span.SetAttributes(attribute.Int(otelhelper.IterationKey, result.Iterations))
	}
}

func (r *Runtime) definitions(names []string) ([]llm.ToolDefinition, error) {
	if len(names) == 0 {
		return nil, nil
	}

	if r.tools == nil {
		return nil, fmt.Errorf("%w: %s", tools.ErrUnknownTool, strings.Join(names, ", "))
	}

	defs, err := r.tools.Definitions(names...)
	if err != nil {
		return nil, err
	}

	out := make([]llm.ToolDefinition, len(defs))
	for i, def := range defs {
		out[i] = llm.ToolDefinition{Name: def.Name, Description: def.Description, Parameters: def.Parameters}
	}

	return out, nil
}

func (r *Runtime) buildMessages(ctx context.Context, req Request) []llm.Message {
	messages := make([]llm.Message, 0, len(req.History)+3)

	if req.SystemPrompt != "" {
		messages = append(messages, llm.SystemMessage(req.SystemPrompt))
	}

	if req.Memory != nil {
		if memoryContext := req.Memory.GetContextForPrompt(ctx, req.UserMessage, req.MemoryOptions); memoryContext != "" {
			messages = append(messages, llm.SystemMessage(memoryContext))
		}
	}

	messages = append(messages, req.History...)

	return append(messages, llm.UserMessage(req.UserMessage))
}

// invoke runs one tool call. Failures become error payloads for the model.
func (r *Runtime) invoke(ctx context.Context, iteration int, call llm.ToolCall) (TraceEntry, llm.Message) {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "agent.tool", attribute.String(otelhelper.ToolNameKey, call.Name))
	defer span.End()

	entry := TraceEntry{Iteration: iteration, ToolCallID: call.ID, Tool: call.Name}

	var result tools.Result

	args, err := parseArguments(call.Arguments)

	switch {
	case err != nil:
		result = tools.Err(err.Error(), nil)
	case r.tools == nil:
		result = tools.Err(fmt.Sprintf("%v: %s", tools.ErrUnknownTool, call.Name), nil)
	default:
		entry.Arguments = args
		result = r.tools.Invoke(ctx, call.Name, args)
	}

	payload := result.Payload()
	if result.IsError() {
		entry.Error = result.Err
		r.logger.WarnContext(ctx, "Tool call failed", "tool", call.Name, "error", result.Err)
	} else {
		entry.Result = payload
	}

	content, err := json.Marshal(payload)
	if err != nil {
		content = []byte(fmt.Sprintf("%v", payload))
	}

	return entry, llm.ToolMessage(call.ID, call.Name, string(content))
}

func (r *Runtime) remember(ctx context.Context, req Request, content string) {
	if req.Memory == nil {
		return
	}

	err := req.Memory.AddInteraction(ctx, req.UserMessage, content, nil, req.SaveToLongTerm)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to record interaction", "agent_id", req.Memory.AgentID(), "error", err)
	}
}

func parseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}

	args := make(map[string]any)

	err := json.Unmarshal([]byte(raw), &args)
	if err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}

	return args, nil
}

func addUsage(total, next *llm.Usage) *llm.Usage {
	if next == nil {
		return total
	}

	if total == nil {
		total = &llm.Usage{}
	}

	total.PromptTokens += next.PromptTokens
	total.CompletionTokens += next.CompletionTokens
	total.TotalTokens += next.TotalTokens

	return total
}

// BuildUserMessage turns resolved inputs into the user message: a single value
// as its string form, several as "key: value" lines in key order.
func BuildUserMessage(inputs map[string]any) string {
	switch len(inputs) {
	case 0:
		return ""
	case 1:
		for _, value := range inputs {
			return Stringify(value)
		}
	}

	keys := slices.Sorted(maps.Keys(inputs))
	lines := make([]string, len(keys))

	for i, key := range keys {
		lines[i] = key + ": " + Stringify(inputs[key])
	}

	return strings.Join(lines, "\n")
}

// Stringify renders strings verbatim and other values as JSON.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}

	return string(data)
}
