package agent

import (
	"errors"
	"fmt"
)

var ErrToolLoopExhausted = errors.New("tool loop exhausted")

// ToolLoopExhaustedError is returned when the model keeps requesting tools past
// the iteration cap. Result holds the trace and last assistant text.
type ToolLoopExhaustedError struct {
	MaxIterations int
	Result        *Result
}

func (e *ToolLoopExhaustedError) Error() string {
	return fmt.Sprintf("tool loop exhausted after %d iterations", e.MaxIterations)
}

func (e *ToolLoopExhaustedError) Unwrap() error {
	return ErrToolLoopExhausted
}

func IsToolLoopExhausted(err error) bool {
	return errors.Is(err, ErrToolLoopExhausted)
}
