// Package sandbox launches tool work inside an isolated execution
// environment. The engine does not implement isolation technology itself; it
// selects a backend here and treats launch failures as recoverable tool
// errors, never session-fatal ones.
package sandbox

import (
	"context"
	"fmt"
	"time"
)

// Job holds the execution parameters for one isolated run.
type Job struct {
	Language string            // interpreter for script jobs: "python", "node", "bash", "ruby"
	Script   string            // script content for interpreter jobs
	WasmPath string            // path to a WASI module; takes precedence over Script
	Args     []string          // argv for WASI modules
	Env      map[string]string // environment inside the sandbox
	WorkDir  string            // host directory exposed to the job
	MemoryMB int               // memory ceiling, 0 = backend default
	Timeout  time.Duration     // wall-clock ceiling, 0 = backend default
}

// Output captures what the job wrote.
type Output struct {
	Stdout string
	Stderr string
}

// Sandbox is an isolated execution backend.
type Sandbox interface {
	// Run executes the job and returns its output. Errors that occur before
	// the job starts are *LaunchError; errors after are execution failures.
	Run(ctx context.Context, job Job) (Output, error)

	// Available reports whether this backend can run on the current platform.
	Available() bool
}

// LaunchError indicates the isolated environment failed to start at all.
// Recoverable at the turn level: the tool call fails, the session continues.
type LaunchError struct {
	Backend string
	Reason  string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("sandbox %s failed to launch: %s: %v", e.Backend, e.Reason, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// LimitError indicates the job exceeded a resource ceiling.
type LimitError struct {
	Resource string // "memory" or "time"
	Limit    string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("sandbox resource limit exceeded: %s (limit: %s)", e.Resource, e.Limit)
}
