package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig reports that no usable provider configuration could be resolved.
	ErrConfig          = errors.New("llm configuration error")
	ErrUnknownProvider = errors.New("unknown provider type")
	ErrProvider        = errors.New("llm provider error")
)

// ProviderError wraps a failure returned by a provider.
type ProviderError struct {
	Provider string
	Model    string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("%s (%s): %v", e.Provider, e.Model, e.Err)
	}

	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfig)
}

func IsProviderError(err error) bool {
	return errors.Is(err, ErrProvider)
}
