package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig rejects bad start parameters before any state mutation.
	ErrInvalidConfig = errors.New("invalid session config")
	// ErrSessionNotFound reports an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionBusy rejects a continue while a turn is in flight.
	ErrSessionBusy = errors.New("session is busy")
)

// ToolExecutionError reports a tool failure inside a turn. It is fed back to
// the agent as conversational context, never session-fatal.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// PermissionDeniedError reports a denied gate decision. Like tool failures
// it is surfaced to the backend as a tool result, not a session error.
type PermissionDeniedError struct {
	Tool string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied for tool %s", e.Tool)
}

// BackendError reports a failure of the agent backend stream itself.
// Session-fatal: the runner transitions to error and never resumes.
type BackendError struct {
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("agent backend failed: %v", e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
