package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Registry maps tool names to tool instances. Registration overwrites on name collision.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger.With("module", "tool_registry"),
	}
}

func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name()]; exists {
		r.logger.Warn("Overwriting registered tool", "tool", tool.Name())
	}

	r.tools[tool.Name()] = tool
}

func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	return tool, nil
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.tools))
}

// Definitions returns the definitions of the named tools in the given order,
// or of every tool sorted by name when no names are passed.
func (r *Registry) Definitions(names ...string) ([]Definition, error) {
	if len(names) == 0 {
		names = r.Names()
	}

	definitions := make([]Definition, 0, len(names))

	for _, name := range names {
		tool, err := r.Get(name)
		if err != nil {
			return nil, err
		}

		definitions = append(definitions, DefinitionOf(tool))
	}

	return definitions, nil
}

// Invoke validates args against the tool's schema and calls it. Every failure,
// including a panic inside the tool, is returned as an error Result.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (result Result) {
	tool, err := r.Get(name)
	if err != nil {
		return Err(err.Error(), nil)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.ErrorContext(ctx, "Tool panicked", "tool", name, "panic", recovered)
			result = Err(fmt.Sprintf("tool %s panicked: %v", name, recovered), nil)
		}
	}()

	args = withDefaults(tool.Parameters(), args)

	err = validateArgs(tool.Parameters(), args)
	if err != nil {
		r.logger.WarnContext(ctx, "Tool arguments rejected", "tool", name, "error", err)

		return Err(err.Error(), nil)
	}

	r.logger.DebugContext(ctx, "Invoking tool", "tool", name)

	value, err := tool.Invoke(ctx, args)
	if err != nil {
		r.logger.WarnContext(ctx, "Tool invocation failed", "tool", name, "error", err)

		var invocationErr *InvocationError
		if errors.As(err, &invocationErr) {
			return Err(invocationErr.Message, invocationErr.Details)
		}

		return Err(err.Error(), nil)
	}

	return Ok(value)
}

func withDefaults(params []Parameter, args map[string]any) map[string]any {
	merged := make(map[string]any, len(args)+len(params))
	maps.Copy(merged, args)

	for _, param := range params {
		if _, ok := merged[param.Name]; !ok && param.Default != nil {
			merged[param.Name] = param.Default
		}
	}

	return merged
}

func validateArgs(params []Parameter, args map[string]any) error {
	schemaLoader := gojsonschema.NewGoLoader(Schema(params))
	dataLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("failed to validate arguments: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, resultErr := range result.Errors() {
			errs = append(errs, resultErr.String())
		}

		return fmt.Errorf("invalid arguments: %s", strings.Join(errs, "; "))
	}

	return nil
}
