package nodes

import (
	"context"
	"fmt"
	"reflect"

	"github.com/dukex/agentflow/pkg/models"
)

// LoopEvaluator exposes the iterable of a loop node. The executor runs the
// loop body over it.
type LoopEvaluator struct{}

func (LoopEvaluator) Type() models.NodeType {
	return models.NodeTypeLoop
}

// Evaluate outputs {loop_type, items, max_iterations}. for_each items come from
// items_source and are truncated to the iteration cap; times yields the
// indices 0..cap-1; while carries no items.
func (LoopEvaluator) Evaluate(_ context.Context, node *models.Node, inputs map[string]any, _ *Env) (Result, error) {
	cfg := node.LoopConfig
	if cfg == nil {
		return Failed(nil), ErrMissingConfig
	}

	limit := cfg.IterationCap()

	var items []any

	switch cfg.LoopType {
	case models.LoopForEach:
		raw, ok := models.LookupField(inputs, cfg.ItemsSource)
		if !ok {
			return Failed(nil), fmt.Errorf("items source %q not found in loop inputs", cfg.ItemsSource)
		}

		list, err := toList(raw)
		if err != nil {
			return Failed(nil), fmt.Errorf("items source %q: %w", cfg.ItemsSource, err)
		}

		if len(list) > limit {
			list = list[:limit]
		}

		items = list
	case models.LoopTimes:
		items = make([]any, limit)
		for i := range limit {
			items[i] = i
		}
	case models.LoopWhile:
		if cfg.Condition == nil {
			return Failed(nil), fmt.Errorf("while loop requires a condition: %w", ErrMissingConfig)
		}
	default:
		return Failed(nil), fmt.Errorf("unsupported loop type %q", cfg.LoopType)
	}

	return Completed(map[string]any{
		"loop_type":      string(cfg.LoopType),
		"items":          items,
		"max_iterations": limit,
	}), nil
}

func toList(value any) ([]any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case nil:
		return []any{}, nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected a list, got %T", value)
	}

	list := make([]any, rv.Len())
	for i := range list {
		list[i] = rv.Index(i).Interface()
	}

	return list, nil
}
