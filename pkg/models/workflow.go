// Package models defines the workflow definition and execution record models.
package models

// NodeType identifies the evaluator responsible for a node.
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeEnd       NodeType = "end"
	NodeTypeAgent     NodeType = "agent"
	NodeTypeCondition NodeType = "condition"
	NodeTypeLoop      NodeType = "loop"
)

// Edge labels used on edges leaving condition nodes.
const (
	BranchTrue  = "true"
	BranchFalse = "false"
)

// WorkflowDefinition is the immutable graph handed to the executor.
type WorkflowDefinition struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name"                  validate:"required"`
	Description string         `json:"description,omitempty"`
	Version     string         `json:"version,omitempty"`
	Nodes       []*Node        `json:"nodes"                 validate:"required,min=2,dive,required"`
	Edges       []*Edge        `json:"edges"                 validate:"dive,required"`
	Variables   map[string]any `json:"variables,omitempty"`
}

// WorkflowID is the identifier recorded on executions of this definition.
func (w *WorkflowDefinition) WorkflowID() string {
	if w.ID != "" {
		return w.ID
	}

	return w.Name
}

// NodeByID returns the node with the given id, or nil.
func (w *WorkflowDefinition) NodeByID(id string) *Node {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

type Node struct {
	ID              string           `json:"id"                         validate:"required"`
	Type            NodeType         `json:"type"                       validate:"required,oneof=start end agent condition loop"`
	Name            string           `json:"name,omitempty"`
	Position        *Position        `json:"position,omitempty"`
	AgentConfig     *AgentConfig     `json:"agent_config,omitempty"`
	ConditionConfig *ConditionConfig `json:"condition_config,omitempty"`
	LoopConfig      *LoopConfig      `json:"loop_config,omitempty"`
	Inputs          []InputBinding   `json:"inputs,omitempty"           validate:"dive"`
}

// DisplayName falls back to the id when the node has no name.
func (n *Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}

	return n.ID
}

// IsMarker reports whether the node is a start or end marker.
func (n *Node) IsMarker() bool {
	return n.Type == NodeTypeStart || n.Type == NodeTypeEnd
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// InputBinding pulls a value into a node's resolved inputs, either from another
// node's output (SourceNode set) or from the top-level execution inputs.
type InputBinding struct {
	Name        string `json:"name"                  validate:"required"`
	SourceNode  string `json:"source_node,omitempty"`
	SourceField string `json:"source_field,omitempty"`
	Default     any    `json:"default,omitempty"`
}

type Edge struct {
	ID        string `json:"id"                  validate:"required"`
	Source    string `json:"source"              validate:"required"`
	Target    string `json:"target"              validate:"required"`
	Condition string `json:"condition,omitempty" validate:"omitempty,oneof=true false"`
}

type AgentConfig struct {
	AgentID       string        `json:"agent_id,omitempty"`
	Model         string        `json:"model,omitempty"`
	SystemPrompt  string        `json:"system_prompt,omitempty"`
	Temperature   *float64      `json:"temperature,omitempty"    validate:"omitempty,gte=0,lte=2"`
	MaxTokens     int           `json:"max_tokens,omitempty"     validate:"gte=0"`
	Tools         []string      `json:"tools,omitempty"`
	MaxIterations *int          `json:"max_iterations,omitempty" validate:"omitempty,gte=0"`
	Memory        *MemoryConfig `json:"memory,omitempty"`
}

type MemoryConfig struct {
	Enabled              bool `json:"enabled"`
	MaxMessages          int  `json:"max_messages,omitempty"          validate:"gte=0"`
	LongTerm             bool `json:"long_term,omitempty"`
	SaveToLongTerm       bool `json:"save_to_long_term,omitempty"`
	ConversationMessages int  `json:"conversation_messages,omitempty" validate:"gte=0"`
	LongTermResults      int  `json:"long_term_results,omitempty"     validate:"gte=0"`
}

type ConditionType string

const (
	ConditionEquals      ConditionType = "equals"
	ConditionNotEquals   ConditionType = "not_equals"
	ConditionContains    ConditionType = "contains"
	ConditionGreaterThan ConditionType = "greater_than"
	ConditionLessThan    ConditionType = "less_than"
	ConditionTruthy      ConditionType = "truthy"
)

type ConditionConfig struct {
	ConditionType ConditionType `json:"condition_type" validate:"required,oneof=equals not_equals contains greater_than less_than truthy"`
	Field         string        `json:"field"          validate:"required"`
	Value         any           `json:"value,omitempty"`
}

type LoopType string

const (
	LoopForEach LoopType = "for_each"
	LoopWhile   LoopType = "while"
	LoopTimes   LoopType = "times"
)

// DefaultLoopIterations caps loops that do not set max_iterations.
const DefaultLoopIterations = 10

type LoopConfig struct {
	LoopType      LoopType         `json:"loop_type"                validate:"required,oneof=for_each while times"`
	ItemsSource   string           `json:"items_source,omitempty"`
	MaxIterations int              `json:"max_iterations,omitempty" validate:"gte=0"`
	Condition     *ConditionConfig `json:"condition,omitempty"`
}

// IterationCap returns the configured cap or the default.
func (l *LoopConfig) IterationCap() int {
	if l.MaxIterations > 0 {
		return l.MaxIterations
	}

	return DefaultLoopIterations
}
