package nodes

import (
	"context"
	"maps"

	"github.com/dukex/agentflow/pkg/models"
)

// StartEvaluator outputs a copy of the top-level execution inputs.
type StartEvaluator struct{}

func (StartEvaluator) Type() models.NodeType {
	return models.NodeTypeStart
}

func (StartEvaluator) Evaluate(_ context.Context, _ *models.Node, _ map[string]any, env *Env) (Result, error) {
	output := make(map[string]any, len(env.Inputs))
	maps.Copy(output, env.Inputs)

	return Completed(output), nil
}

// EndEvaluator collects the terminal value: the "output" field of its inputs
// when present, otherwise the inputs themselves.
type EndEvaluator struct{}

func (EndEvaluator) Type() models.NodeType {
	return models.NodeTypeEnd
}

func (EndEvaluator) Evaluate(_ context.Context, _ *models.Node, inputs map[string]any, _ *Env) (Result, error) {
	if value, ok := inputs["output"]; ok {
		return Completed(map[string]any{"output": value}), nil
	}

	output := make(map[string]any, len(inputs))
	maps.Copy(output, inputs)

	return Completed(map[string]any{"output": output}), nil
}
