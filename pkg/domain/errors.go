package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTemplateNotFound is returned when a template name is not present in the store.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrInvalidName is returned when a template name cannot be used as a storage key.
	ErrInvalidName = errors.New("invalid template name")

	// ErrConfiguration is the sentinel wrapped by every ConfigurationError.
	ErrConfiguration = errors.New("configuration error")

	// ErrBackend is the sentinel wrapped by every BackendError.
	ErrBackend = errors.New("backend error")
)

// ConfigurationError reports a request payload that does not match the tags of a template.
type ConfigurationError struct {
	Tag    string
	Input  string
	NodeID string
	Reason string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.NodeID != "":
		return fmt.Sprintf("tag %q input %q (node %s): %s", e.Tag, e.Input, e.NodeID, e.Reason)
	case e.Input != "":
		return fmt.Sprintf("tag %q input %q: %s", e.Tag, e.Input, e.Reason)
	case e.Tag != "":
		return fmt.Sprintf("tag %q: %s", e.Tag, e.Reason)
	}
	return e.Reason
}

// Unwrap allows errors.Is(err, ErrConfiguration).
func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// BackendError wraps a failure of the execution backend (queueing, history, artifacts or
// an execution error reported on the event stream).
type BackendError struct {
	Op       string
	PromptID string
	Err      error
}

func (e *BackendError) Error() string {
	if e.PromptID != "" {
		return fmt.Sprintf("backend %s (prompt %s): %v", e.Op, e.PromptID, e.Err)
	}
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is reports true for ErrBackend so callers can classify without errors.As.
func (e *BackendError) Is(target error) bool {
	return target == ErrBackend
}
