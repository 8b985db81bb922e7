package llm

import (
	"context"

	"github.com/tmc/langchaingo/llms"
)

// langchainClient adapts a langchaingo model to Client.
type langchainClient struct {
	model        llms.Model
	provider     string
	defaultModel string
}

// NewLangchainClient wraps model. provider names the backend in errors.
func NewLangchainClient(model llms.Model, provider, defaultModel string) Client {
	return &langchainClient{model: model, provider: provider, defaultModel: defaultModel}
}

func (c *langchainClient) DefaultModel() string {
	return c.defaultModel
}

func (c *langchainClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	resp, err := c.model.GenerateContent(ctx, toMessageContents(req.Messages), callOptions(req, model)...)
	if err != nil {
		return nil, &ProviderError{Provider: c.provider, Model: model, Err: err}
	}

	return fromContentResponse(resp, model), nil
}

func toMessageContents(messages []Message) []llms.MessageContent {
	result := make([]llms.MessageContent, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			result = append(result, llms.TextParts(llms.ChatMessageTypeSystem, msg.Content))
		case RoleAssistant:
			parts := make([]llms.ContentPart, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				parts = append(parts, llms.TextPart(msg.Content))
			}

			for _, call := range msg.ToolCalls {
				parts = append(parts, llms.ToolCall{
					ID:   call.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}

			result = append(result, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts})
		case RoleTool:
			result = append(result, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: msg.ToolCallID,
						Name:       msg.Name,
						Content:    msg.Content,
					},
				},
			})
		default:
			result = append(result, llms.TextParts(llms.ChatMessageTypeHuman, msg.Content))
		}
	}

	return result
}

func callOptions(req ChatRequest, model string) []llms.CallOption {
	opts := make([]llms.CallOption, 0, 4)

	if model != "" {
		opts = append(opts, llms.WithModel(model))
	}

	if req.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*req.Temperature))
	}

	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	if len(req.Tools) > 0 {
		tools := make([]llms.Tool, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, llms.Tool{
				Type: "function",
				Function: &llms.FunctionDefinition{
					Name:        tool.Name,
					Description: tool.Description,
					Parameters:  tool.Parameters,
				},
			})
		}

		opts = append(opts, llms.WithTools(tools))
	}

	return opts
}

func fromContentResponse(resp *llms.ContentResponse, model string) *ChatResponse {
	out := &ChatResponse{Model: model}
	if resp == nil || len(resp.Choices) == 0 {
		return out
	}

	choice := resp.Choices[0]
	out.Content = choice.Content

	for _, call := range choice.ToolCalls {
		if call.FunctionCall == nil {
			continue
		}

		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.FunctionCall.Name,
			Arguments: call.FunctionCall.Arguments,
		})
	}

	out.Usage = usageFrom(choice.GenerationInfo)

	return out
}

// usageFrom reads token counts from generation info. Providers use different keys.
func usageFrom(info map[string]any) *Usage {
	if len(info) == 0 {
		return nil
	}

	usage := &Usage{
		PromptTokens:     firstInt(info, "PromptTokens", "InputTokens", "input_tokens", "prompt_tokens"),
		CompletionTokens: firstInt(info, "CompletionTokens", "OutputTokens", "output_tokens", "completion_tokens"),
		TotalTokens:      firstInt(info, "TotalTokens", "total_tokens"),
	}

	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	if usage.TotalTokens == 0 {
		return nil
	}

	return usage
}

func firstInt(info map[string]any, keys ...string) int {
	for _, key := range keys {
		switch v := info[key].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}

	return 0
}
