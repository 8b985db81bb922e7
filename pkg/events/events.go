// Package events defines the typed events published for an execution.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukex/agentflow/pkg/models"
)

type EventType string

// Topic is the external topic execution events are forwarded to.
const Topic = "agentflow.execution.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	StatusEvent     EventType = "status"
	NodeUpdateEvent EventType = "node_update"
	LogEvent        EventType = "log"
	CompletionEvent EventType = "completion"
	ErrorEvent      EventType = "error"
	PongEvent       EventType = "pong"
)

// Event is implemented by every event pointer type.
type Event interface {
	GetType() EventType
	Base() *BaseEvent
}

// BaseEvent carries the fields shared by every event. Sequence is assigned by
// the publisher and increases monotonically per execution.
type BaseEvent struct {
	Type        EventType `json:"type"`
	ExecutionID string    `json:"execution_id"`
	Timestamp   time.Time `json:"timestamp"`
	Sequence    uint64    `json:"sequence"`
}

func (b *BaseEvent) Base() *BaseEvent {
	return b
}

func newBase(eventType EventType, executionID string, at time.Time) BaseEvent {
	return BaseEvent{Type: eventType, ExecutionID: executionID, Timestamp: at.UTC()}
}

type Status struct {
	BaseEvent

	Status models.ExecutionStatus `json:"status"`
}

func NewStatus(executionID string, status models.ExecutionStatus, at time.Time) *Status {
	return &Status{BaseEvent: newBase(StatusEvent, executionID, at), Status: status}
}

func (e *Status) GetType() EventType {
	return StatusEvent
}

type NodeUpdate struct {
	BaseEvent

	NodeID    string           `json:"node_id"`
	NodeState models.NodeState `json:"node_state"`
}

func NewNodeUpdate(executionID, nodeID string, state models.NodeState, at time.Time) *NodeUpdate {
	return &NodeUpdate{BaseEvent: newBase(NodeUpdateEvent, executionID, at), NodeID: nodeID, NodeState: state}
}

func (e *NodeUpdate) GetType() EventType {
	return NodeUpdateEvent
}

type Log struct {
	BaseEvent

	Log models.LogEntry `json:"log"`
}

func NewLog(executionID string, entry models.LogEntry) *Log {
	return &Log{BaseEvent: newBase(LogEvent, executionID, entry.Timestamp), Log: entry}
}

func (e *Log) GetType() EventType {
	return LogEvent
}

type Completion struct {
	BaseEvent

	Status models.ExecutionStatus `json:"status"`
	Result any                    `json:"result,omitempty"`
}

func NewCompletion(executionID string, result any, at time.Time) *Completion {
	return &Completion{
		BaseEvent: newBase(CompletionEvent, executionID, at),
		Status:    models.ExecutionStatusCompleted,
		Result:    result,
	}
}

func (e *Completion) GetType() EventType {
	return CompletionEvent
}

// Error is the terminal event of a failed or cancelled execution.
type Error struct {
	BaseEvent

	Status models.ExecutionStatus `json:"status"`
	Error  string                 `json:"error"`
}

func NewError(executionID string, status models.ExecutionStatus, message string, at time.Time) *Error {
	return &Error{BaseEvent: newBase(ErrorEvent, executionID, at), Status: status, Error: message}
}

func (e *Error) GetType() EventType {
	return ErrorEvent
}

type Pong struct {
	BaseEvent
}

func NewPong(executionID string, at time.Time) *Pong {
	return &Pong{BaseEvent: newBase(PongEvent, executionID, at)}
}

func (e *Pong) GetType() EventType {
	return PongEvent
}

// IsTerminal reports whether e ends an execution's event stream.
func IsTerminal(e Event) bool {
	t := e.GetType()

	return t == CompletionEvent || t == ErrorEvent
}

// Decode unmarshals payload into the event type named by eventType.
//
// nolint:ireturn // events are decoded polymorphically
func Decode(eventType EventType, payload []byte) (Event, error) {
	var event Event

	switch eventType {
	case StatusEvent:
		event = &Status{}
	case NodeUpdateEvent:
		event = &NodeUpdate{}
	case LogEvent:
		event = &Log{}
	case CompletionEvent:
		event = &Completion{}
	case ErrorEvent:
		event = &Error{}
	case PongEvent:
		event = &Pong{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	err := json.Unmarshal(payload, event)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", eventType, err)
	}

	return event, nil
}
