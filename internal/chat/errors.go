package chat

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidMessage       = errors.New("invalid message format")
	ErrModelNotAvailable    = errors.New("model not available")
)

// MissingParamsError names the request fields the caller left empty.
type MissingParamsError struct {
	Fields []string
}

func (e *MissingParamsError) Error() string {
	return fmt.Sprintf("missing parameters: %s", strings.Join(e.Fields, ", "))
}

// InferenceError wraps a backend failure after the retry policy is exhausted.
// The user message persisted before the call stays in history; the caller may
// retry the same message.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference request failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
