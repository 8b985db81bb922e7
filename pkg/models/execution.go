package models

import (
	"log/slog"
	"time"
)

type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	switch s {
	case ExecutionStatusPending:
		return next == ExecutionStatusRunning || next.IsTerminal()
	case ExecutionStatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

type NodeState struct {
	Status      NodeStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Output      any        `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Execution is the durable record of one workflow run.
type Execution struct {
	ID          string               `json:"execution_id"`
	WorkflowID  string               `json:"workflow_id"`
	UserID      string               `json:"user_id,omitempty"`
	Status      ExecutionStatus      `json:"status"`
	CurrentNode string               `json:"current_node,omitempty"`
	Inputs      map[string]any       `json:"inputs,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	Result      any                  `json:"result,omitempty"`
	Error       string               `json:"error,omitempty"`
	NodeStates  map[string]NodeState `json:"node_states"`
	Logs        []LogEntry           `json:"logs,omitempty"`
}

type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// SlogLevel maps the execution log level onto slog.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarning:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	NodeID    string    `json:"node_id,omitempty"`
	Message   string    `json:"message"`
}

// ExecutionFilter narrows List results. Zero values mean "any".
type ExecutionFilter struct {
	WorkflowID string          `json:"workflow_id,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	Status     ExecutionStatus `json:"status,omitempty"     validate:"omitempty,oneof=pending running completed failed cancelled"`
	Limit      int             `json:"limit,omitempty"      validate:"gte=0"`
	Offset     int             `json:"offset,omitempty"     validate:"gte=0"`
}

const (
	DefaultLogLimit = 100
	MaxLogLimit     = 1000
)

type LogQuery struct {
	Level  LogLevel `json:"level,omitempty"   validate:"omitempty,oneof=DEBUG INFO WARNING ERROR"`
	NodeID string   `json:"node_id,omitempty"`
	Limit  int      `json:"limit,omitempty"   validate:"gte=0"`
	Offset int      `json:"offset,omitempty"  validate:"gte=0"`
}

// Normalize applies the default and maximum page size.
func (q LogQuery) Normalize() LogQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultLogLimit
	}

	if q.Limit > MaxLogLimit {
		q.Limit = MaxLogLimit
	}

	if q.Offset < 0 {
		q.Offset = 0
	}

	return q
}

// Matches reports whether entry passes the level and node filters.
func (q LogQuery) Matches(entry LogEntry) bool {
	if q.Level != "" && entry.Level != q.Level {
		return false
	}

	return q.NodeID == "" || entry.NodeID == q.NodeID
}

type LogPage struct {
	ExecutionID string     `json:"execution_id"`
	Logs        []LogEntry `json:"logs"`
	Total       int        `json:"total"`
	Limit       int        `json:"limit"`
	Offset      int        `json:"offset"`
}
