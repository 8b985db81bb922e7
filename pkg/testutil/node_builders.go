// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"fmt"

	"github.com/dukex/agentflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestNode creates an agent node with default values that can be overridden.
func CreateTestNode(overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:   uuid.New().String(),
		Type: models.NodeTypeAgent,
		Name: "Test Agent",
		AgentConfig: &models.AgentConfig{
			SystemPrompt: "You are a helpful assistant.",
		},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

func StartNode(id string) *models.Node {
	return &models.Node{ID: id, Type: models.NodeTypeStart, Name: "Start"}
}

func EndNode(id string) *models.Node {
	return &models.Node{ID: id, Type: models.NodeTypeEnd, Name: "End"}
}

// AgentNode creates an agent node named after its id.
func AgentNode(id, systemPrompt string, overrides ...func(*models.Node)) *models.Node {
	base := []func(*models.Node){
		func(n *models.Node) {
			n.ID = id
			n.Name = id
			n.AgentConfig.SystemPrompt = systemPrompt
		},
	}

	return CreateTestNode(append(base, overrides...)...)
}

func ConditionNode(id string, conditionType models.ConditionType, field string, value any) *models.Node {
	return &models.Node{
		ID:   id,
		Type: models.NodeTypeCondition,
		Name: id,
		ConditionConfig: &models.ConditionConfig{
			ConditionType: conditionType,
			Field:         field,
			Value:         value,
		},
	}
}

func LoopNode(id string, config models.LoopConfig) *models.Node {
	return &models.Node{ID: id, Type: models.NodeTypeLoop, Name: id, LoopConfig: &config}
}

// WithName sets the node name.
func WithName(name string) func(*models.Node) {
	return func(n *models.Node) {
		n.Name = name
	}
}

// WithInputs sets the node input bindings.
func WithInputs(bindings ...models.InputBinding) func(*models.Node) {
	return func(n *models.Node) {
		n.Inputs = bindings
	}
}

// WithTools enables tools on an agent node.
func WithTools(names ...string) func(*models.Node) {
	return func(n *models.Node) {
		n.AgentConfig.Tools = names
	}
}

func WithMaxIterations(maxIterations int) func(*models.Node) {
	return func(n *models.Node) {
		n.AgentConfig.MaxIterations = &maxIterations
	}
}

func WithModel(model string) func(*models.Node) {
	return func(n *models.Node) {
		n.AgentConfig.Model = model
	}
}

func WithMemory(cfg models.MemoryConfig) func(*models.Node) {
	return func(n *models.Node) {
		n.AgentConfig.Memory = &cfg
	}
}

// Edge connects source to target.
func Edge(source, target string) *models.Edge {
	return &models.Edge{ID: fmt.Sprintf("%s->%s", source, target), Source: source, Target: target}
}

// BranchEdge connects a condition node to target under label.
func BranchEdge(source, target, label string) *models.Edge {
	return &models.Edge{ID: fmt.Sprintf("%s-%s->%s", source, label, target), Source: source, Target: target, Condition: label}
}

// Chain connects ids in sequence.
func Chain(ids ...string) []*models.Edge {
	edges := make([]*models.Edge, 0, len(ids))
	for i := 1; i < len(ids); i++ {
		edges = append(edges, Edge(ids[i-1], ids[i]))
	}

	return edges
}

// CreateTestWorkflow assembles a workflow definition.
func CreateTestWorkflow(name string, nodes []*models.Node, edges []*models.Edge) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:    "wf-" + name,
		Name:  name,
		Nodes: nodes,
		Edges: edges,
	}
}
