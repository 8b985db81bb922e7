// Package services exposes the execution control surface.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/agentflow/pkg/persistence"
	"github.com/dukex/agentflow/pkg/workflow"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest = errors.New("invalid request")
	ErrWorkflowNil    = errors.New("workflow cannot be nil")

	// Business Logic Conflicts (409 Conflict).
	ErrInvalidState = errors.New("invalid execution state")

	// ErrSubscriptionNotFound is returned by Ping for a subscriber that is
	// not attached to the execution (404).
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrShuttingDown is returned by Start once Shutdown began (503).
	ErrShuttingDown = errors.New("execution service is shutting down")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, workflow.ErrInvalidWorkflow)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsExecutionNotFound(err) || errors.Is(err, ErrSubscriptionNotFound)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewInvalidStateError reports an operation the execution's status forbids.
func NewInvalidStateError(op, executionID string, status string) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    "INVALID_STATE",
		Message: fmt.Sprintf("execution %s is %s", executionID, status),
		Err:     ErrInvalidState,
	}
}
