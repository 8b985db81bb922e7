package nodes

import (
	"context"
	"errors"

	"github.com/dukex/agentflow/pkg/models"
)

var ErrMissingConfig = errors.New("node config missing")

type ConditionEvaluator struct{}

func (ConditionEvaluator) Type() models.NodeType {
	return models.NodeTypeCondition
}

// Evaluate outputs {result, branch}. A false condition or a missing field is a
// completed evaluation with branch "false".
func (ConditionEvaluator) Evaluate(_ context.Context, node *models.Node, inputs map[string]any, _ *Env) (Result, error) {
	if node.ConditionConfig == nil {
		return Failed(nil), ErrMissingConfig
	}

	passed := node.ConditionConfig.Evaluate(inputs)

	branch := models.BranchFalse
	if passed {
		branch = models.BranchTrue
	}

	return Completed(map[string]any{"result": passed, "branch": branch}), nil
}
