package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrExecutionNotFound indicates no execution exists with the given id.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionAlreadyExists indicates Create was called with a duplicate id.
	ErrExecutionAlreadyExists = errors.New("execution already exists")

	// ErrTerminalExecution indicates a write to an execution that already reached a terminal status.
	ErrTerminalExecution = errors.New("execution is in a terminal state")

	// ErrInvalidTransition indicates a status change the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid execution status transition")

	// ErrInvalidExecutionID indicates an id that is empty or unsafe for the backend.
	ErrInvalidExecutionID = errors.New("invalid execution id")
)

// ExecutionError wraps execution store errors with additional context.
type ExecutionError struct {
	Op          string
	ExecutionID string
	Err         error
	Message     string
}

func (e *ExecutionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for execution %s: %s (%v)", e.Op, e.ExecutionID, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExecutionID: executionID,
		Err:         err,
	}
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsTerminalExecution checks if an error indicates a write to a finished execution.
func IsTerminalExecution(err error) bool {
	return errors.Is(err, ErrTerminalExecution)
}
