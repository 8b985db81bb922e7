package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidWorkflow indicates a definition that violates the graph rules.
	ErrInvalidWorkflow = errors.New("invalid workflow definition")

	// ErrInputBinding indicates a node input that could not be resolved.
	ErrInputBinding = errors.New("input binding failed")

	// ErrExecutionTimeout indicates the execution overran its wall-clock budget.
	ErrExecutionTimeout = errors.New("execution timed out")

	// ErrExecutionCancelled indicates the execution observed a cancel request.
	ErrExecutionCancelled = errors.New("execution cancelled")
)

// ValidationError lists every rule a definition breaks.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidWorkflow, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidWorkflow
}

type InputBindingError struct {
	NodeID     string
	Input      string
	SourceNode string
	Reason     string
}

func (e *InputBindingError) Error() string {
	if e.SourceNode != "" {
		return fmt.Sprintf("input %q of node %s (from %s): %s", e.Input, e.NodeID, e.SourceNode, e.Reason)
	}

	return fmt.Sprintf("input %q of node %s: %s", e.Input, e.NodeID, e.Reason)
}

func (e *InputBindingError) Unwrap() error {
	return ErrInputBinding
}

// NodeError reports the node whose evaluation failed an execution.
type NodeError struct {
	NodeID   string
	NodeName string
	Err      error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s: %v", e.NodeName, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

func IsInvalidWorkflow(err error) bool {
	return errors.Is(err, ErrInvalidWorkflow)
}

func IsInputBindingError(err error) bool {
	return errors.Is(err, ErrInputBinding)
}

func IsExecutionTimeout(err error) bool {
	return errors.Is(err, ErrExecutionTimeout)
}
