package workflow

import (
	"maps"

	"github.com/dukex/agentflow/pkg/models"
)

// outputField is the field that aliases a scalar node output.
const outputField = "output"

// ResolveInputs builds the inputs of node. Explicit bindings read from upstream
// outputs or the top-level inputs; a binding whose source node was skipped is
// left out. A node without bindings receives the output of its last live
// predecessor.
func (c *ExecutionContext) ResolveInputs(node *models.Node) (map[string]any, error) {
	if len(node.Inputs) == 0 {
		return c.implicitInputs(node), nil
	}

	resolved := make(map[string]any, len(node.Inputs))

	for _, binding := range node.Inputs {
		value, ok, err := c.resolveBinding(node, binding)
		if err != nil {
			return nil, err
		}

		if ok {
			resolved[binding.Name] = value
		}
	}

	return resolved, nil
}

func (c *ExecutionContext) resolveBinding(node *models.Node, binding models.InputBinding) (any, bool, error) {
	fail := func(reason string) (any, bool, error) {
		if binding.Default != nil {
			return binding.Default, true, nil
		}

		return nil, false, &InputBindingError{
			NodeID:     node.ID,
			Input:      binding.Name,
			SourceNode: binding.SourceNode,
			Reason:     reason,
		}
	}

	if binding.SourceNode == "" {
		field := binding.SourceField
		if field == "" {
			field = binding.Name
		}

		value, ok := models.LookupField(c.Inputs, field)
		if !ok {
			return fail("field " + field + " is missing from execution inputs")
		}

		return value, true, nil
	}

	if c.Graph.Node(binding.SourceNode) == nil {
		return fail("source node does not exist")
	}

	if c.NodeStatus(binding.SourceNode) == models.NodeStatusSkipped {
		return nil, false, nil
	}

	output, ok := c.outputs[binding.SourceNode]
	if !ok {
		return fail("source node has not produced output")
	}

	field := binding.SourceField
	if field == "" {
		field = outputField
	}

	if mapped, isMap := output.(map[string]any); isMap {
		value, found := models.LookupField(mapped, field)
		if !found {
			return fail("field " + field + " is missing from source output")
		}

		return value, true, nil
	}

	if field == outputField {
		return output, true, nil
	}

	return fail("source output is not an object and has no field " + field)
}

func (c *ExecutionContext) implicitInputs(node *models.Node) map[string]any {
	if node.Type == models.NodeTypeStart {
		return map[string]any{}
	}

	source, ok := c.lastLivePredecessor(node.ID)
	if !ok {
		return maps.Clone(c.Inputs)
	}

	return asInputs(c.outputs[source])
}

// asInputs turns an upstream output into node inputs: the "output" field of an
// object when present, the whole object otherwise, and a scalar under "output".
func asInputs(output any) map[string]any {
	mapped, ok := output.(map[string]any)
	if !ok {
		if output == nil {
			return map[string]any{}
		}

		return map[string]any{outputField: output}
	}

	if value, has := mapped[outputField]; has {
		return map[string]any{outputField: value}
	}

	return maps.Clone(mapped)
}

// IsLive reports whether at least one planning edge into id is active: its
// source completed and, for condition sources, the edge label matches the
// taken branch.
func (c *ExecutionContext) IsLive(id string) bool {
	if id == c.Graph.StartID {
		return true
	}

	for _, edge := range c.Graph.Incoming(id) {
		if c.edgeActive(edge) {
			return true
		}
	}

	return false
}

func (c *ExecutionContext) edgeActive(edge *models.Edge) bool {
	output, ok := c.outputs[edge.Source]
	if !ok {
		return false
	}

	if edge.Condition == "" {
		return true
	}

	mapped, isMap := output.(map[string]any)
	if !isMap {
		return false
	}

	branch, _ := mapped["branch"].(string)

	return branch == edge.Condition
}

func (c *ExecutionContext) lastLivePredecessor(id string) (string, bool) {
	best, bestRank := "", -1

	for _, edge := range c.Graph.Incoming(id) {
		if !c.edgeActive(edge) {
			continue
		}

		if rank := c.Graph.Rank(edge.Source); rank > bestRank {
			best, bestRank = edge.Source, rank
		}
	}

	return best, bestRank >= 0
}
