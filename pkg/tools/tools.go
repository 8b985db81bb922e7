// Package tools defines the tool contract exposed to agents and the registry that dispatches calls.
package tools

import (
	"context"
	"errors"
	"fmt"
)

var ErrUnknownTool = errors.New("unknown tool")

type ParameterType string

const (
	TypeString  ParameterType = "string"
	TypeNumber  ParameterType = "number"
	TypeBoolean ParameterType = "boolean"
	TypeArray   ParameterType = "array"
	TypeObject  ParameterType = "object"
)

// Parameter describes one named argument of a tool.
type Parameter struct {
	Name        string        `json:"name"`
	Type        ParameterType `json:"type"`
	Description string        `json:"description"`
	Required    bool          `json:"required"`
	Default     any           `json:"default,omitempty"`
}

// Tool is a named capability an agent can call.
// Invoke receives arguments that already passed schema validation with defaults applied.
type Tool interface {
	Name() string
	Description() string
	Parameters() []Parameter
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// Definition is the schema of a tool in the shape LLM tool-calling interfaces expect.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Invoker is what the agent runtime needs from a registry.
type Invoker interface {
	Definitions(names ...string) ([]Definition, error)
	Invoke(ctx context.Context, name string, args map[string]any) Result
}

// Result is either a value or an error message, never both.
type Result struct {
	Value   any
	Err     string
	Details map[string]any
}

func Ok(value any) Result {
	return Result{Value: value}
}

func Err(message string, details map[string]any) Result {
	return Result{Err: message, Details: details}
}

func (r Result) IsError() bool {
	return r.Err != ""
}

// Payload is the value handed back to the LLM: the value itself, or an
// {"error": message} envelope merged with any details.
func (r Result) Payload() any {
	if !r.IsError() {
		return r.Value
	}

	envelope := make(map[string]any, len(r.Details)+1)
	for k, v := range r.Details {
		envelope[k] = v
	}

	envelope["error"] = r.Err

	return envelope
}

// InvocationError lets a tool attach context to the error envelope.
type InvocationError struct {
	Message string
	Details map[string]any
}

func (e *InvocationError) Error() string {
	return e.Message
}

func invocationErrorf(details map[string]any, format string, args ...any) error {
	return &InvocationError{Message: fmt.Sprintf(format, args...), Details: details}
}

// Schema builds a JSON schema object for params.
func Schema(params []Parameter) map[string]any {
	properties := make(map[string]any, len(params))
	required := make([]string, 0, len(params))

	for _, param := range params {
		property := map[string]any{
			"type":        string(param.Type),
			"description": param.Description,
		}
		if param.Default != nil {
			property["default"] = param.Default
		}

		properties[param.Name] = property

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

// DefinitionOf returns the LLM-facing definition of tool.
func DefinitionOf(tool Tool) Definition {
	return Definition{
		Name:        tool.Name(),
		Description: tool.Description(),
		Parameters:  Schema(tool.Parameters()),
	}
}
