// Package workflow plans and executes workflow definitions.
package workflow

import (
	"fmt"
	"slices"

	"github.com/dukex/agentflow/pkg/models"
	"github.com/go-playground/validator/v10"
)

// Graph is the evaluation plan of a workflow definition. Edges running from a
// loop body back into its loop node are kept apart from the planning edges.
type Graph struct {
	Definition *models.WorkflowDefinition

	// Order is a topological order of the planning edges, ties broken by
	// definition order.
	Order   []string
	StartID string

	nodes     map[string]*models.Node
	position  map[string]int
	incoming  map[string][]*models.Edge
	outgoing  map[string][]*models.Edge
	loopEdges map[string][]*models.Edge
	bodies    map[string][]string
}

// NewGraph validates def and builds its plan. Every broken rule is reported in
// a single ValidationError.
func NewGraph(def *models.WorkflowDefinition) (*Graph, error) {
	if def == nil {
		return nil, &ValidationError{Problems: []string{"workflow definition is required"}}
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	err := validate.Struct(def)
	if err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}

	g := &Graph{
		Definition: def,
		nodes:      make(map[string]*models.Node, len(def.Nodes)),
		position:   make(map[string]int, len(def.Nodes)),
		incoming:   make(map[string][]*models.Edge),
		outgoing:   make(map[string][]*models.Edge),
		loopEdges:  make(map[string][]*models.Edge),
		bodies:     make(map[string][]string),
	}

	problems := g.indexNodes(def)
	problems = append(problems, g.checkEdges(def)...)

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	g.splitLoopEdges(def)

	order, cyclic := g.topologicalOrder()
	if cyclic {
		problems = append(problems, "graph contains a cycle outside of loop edges")
	}

	problems = append(problems, g.checkReachability()...)

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	g.Order = order
	g.computeBodies()

	return g, nil
}

// Validate reports whether def is a runnable workflow.
func Validate(def *models.WorkflowDefinition) error {
	_, err := NewGraph(def)

	return err
}

func (g *Graph) indexNodes(def *models.WorkflowDefinition) []string {
	var (
		problems []string
		starts   int
		ends     int
	)

	for i, node := range def.Nodes {
		if _, exists := g.nodes[node.ID]; exists {
			problems = append(problems, fmt.Sprintf("duplicate node id %q", node.ID))

			continue
		}

		g.nodes[node.ID] = node
		g.position[node.ID] = i

		switch node.Type {
		case models.NodeTypeStart:
			starts++
			g.StartID = node.ID
		case models.NodeTypeEnd:
			ends++
		case models.NodeTypeCondition:
			if node.ConditionConfig == nil {
				problems = append(problems, fmt.Sprintf("condition node %q requires condition_config", node.ID))
			}
		case models.NodeTypeLoop:
			if node.LoopConfig == nil {
				problems = append(problems, fmt.Sprintf("loop node %q requires loop_config", node.ID))
			} else if node.LoopConfig.LoopType == models.LoopWhile && node.LoopConfig.Condition == nil {
				problems = append(problems, fmt.Sprintf("while loop %q requires a condition", node.ID))
			}
		case models.NodeTypeAgent:
		}
	}

	if starts != 1 {
		problems = append(problems, fmt.Sprintf("workflow must have exactly one start node, found %d", starts))
	}

	if ends == 0 {
		problems = append(problems, "workflow must have at least one end node")
	}

	return problems
}

func (g *Graph) checkEdges(def *models.WorkflowDefinition) []string {
	var problems []string

	seen := make(map[string]bool, len(def.Edges))

	for _, edge := range def.Edges {
		if seen[edge.ID] {
			problems = append(problems, fmt.Sprintf("duplicate edge id %q", edge.ID))
		}

		seen[edge.ID] = true

		source, ok := g.nodes[edge.Source]
		if !ok {
			problems = append(problems, fmt.Sprintf("edge %q references unknown source %q", edge.ID, edge.Source))

			continue
		}

		if _, ok := g.nodes[edge.Target]; !ok {
			problems = append(problems, fmt.Sprintf("edge %q references unknown target %q", edge.ID, edge.Target))

			continue
		}

		if source.Type == models.NodeTypeCondition && edge.Condition == "" {
			problems = append(problems, fmt.Sprintf("edge %q leaves condition node %q without a branch label", edge.ID, edge.Source))
		}
	}

	return problems
}

// splitLoopEdges separates edges that close a cycle through a loop node.
func (g *Graph) splitLoopEdges(def *models.WorkflowDefinition) {
	for _, edge := range def.Edges {
		target := g.nodes[edge.Target]

		if target.Type == models.NodeTypeLoop && g.reaches(edge.Target, edge.Source, def.Edges) {
			g.loopEdges[edge.Target] = append(g.loopEdges[edge.Target], edge)

			continue
		}

		g.outgoing[edge.Source] = append(g.outgoing[edge.Source], edge)
		g.incoming[edge.Target] = append(g.incoming[edge.Target], edge)
	}
}

// reaches reports whether to is reachable from loopID without re-entering loopID.
func (g *Graph) reaches(loopID, to string, edges []*models.Edge) bool {
	visited := map[string]bool{loopID: true}
	queue := []string{loopID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current == to {
			return true
		}

		for _, edge := range edges {
			if edge.Source != current || edge.Target == loopID || visited[edge.Target] {
				continue
			}

			visited[edge.Target] = true
			queue = append(queue, edge.Target)
		}
	}

	return false
}

func (g *Graph) topologicalOrder() ([]string, bool) {
	inDegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = len(g.incoming[id])
	}

	var ready []string

	for id, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(g.nodes))

	for len(ready) > 0 {
		slices.SortFunc(ready, func(a, b string) int { return g.position[a] - g.position[b] })

		current := ready[0]
		ready = ready[1:]
		order = append(order, current)

		for _, edge := range g.outgoing[current] {
			inDegree[edge.Target]--
			if inDegree[edge.Target] == 0 {
				ready = append(ready, edge.Target)
			}
		}
	}

	return order, len(order) != len(g.nodes)
}

func (g *Graph) checkReachability() []string {
	if g.StartID == "" {
		return nil
	}

	reached := map[string]bool{g.StartID: true}
	queue := []string{g.StartID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, edge := range g.outgoing[current] {
			if !reached[edge.Target] {
				reached[edge.Target] = true
				queue = append(queue, edge.Target)
			}
		}
	}

	var problems []string

	for _, node := range g.Definition.Nodes {
		if !reached[node.ID] {
			problems = append(problems, fmt.Sprintf("node %q is not reachable from start", node.ID))
		}
	}

	return problems
}

// computeBodies collects, per loop node, the nodes lying on a path from the
// loop node to the source of one of its loop edges.
func (g *Graph) computeBodies() {
	for loopID, edges := range g.loopEdges {
		forward := g.closure(loopID, g.outgoing, func(e *models.Edge) string { return e.Target })

		backward := make(map[string]bool)
		for _, edge := range edges {
			backward[edge.Source] = true

			for id := range g.closure(edge.Source, g.incoming, func(e *models.Edge) string { return e.Source }) {
				backward[id] = true
			}
		}

		var body []string

		for _, id := range g.Order {
			if id != loopID && forward[id] && backward[id] {
				body = append(body, id)
			}
		}

		g.bodies[loopID] = body
	}
}

func (g *Graph) closure(from string, adjacency map[string][]*models.Edge, next func(*models.Edge) string) map[string]bool {
	seen := make(map[string]bool)
	queue := []string{from}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, edge := range adjacency[current] {
			id := next(edge)
			if !seen[id] {
				seen[id] = true
				queue = append(queue, id)
			}
		}
	}

	return seen
}

func (g *Graph) Node(id string) *models.Node {
	return g.nodes[id]
}

// Incoming returns the planning edges entering id.
func (g *Graph) Incoming(id string) []*models.Edge {
	return g.incoming[id]
}

// Outgoing returns the planning edges leaving id.
func (g *Graph) Outgoing(id string) []*models.Edge {
	return g.outgoing[id]
}

// LoopEdges returns the back edges closing the body of loopID.
func (g *Graph) LoopEdges(loopID string) []*models.Edge {
	return g.loopEdges[loopID]
}

// LoopBody returns the body of loopID in planning order.
func (g *Graph) LoopBody(loopID string) []string {
	return g.bodies[loopID]
}

// Position is the index of id in the definition's node list.
func (g *Graph) Position(id string) int {
	return g.position[id]
}

// Rank is the index of id in Order.
func (g *Graph) Rank(id string) int {
	return slices.Index(g.Order, id)
}
