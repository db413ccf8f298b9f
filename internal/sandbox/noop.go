package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// NoopSandbox provides no isolation. Used for tests and as a last resort
// when no real backend is available.
type NoopSandbox struct{}

// Available always returns true.
func (n *NoopSandbox) Available() bool { return true }

// Run executes the interpreter job directly, without isolation.
func (n *NoopSandbox) Run(ctx context.Context, job Job) (Output, error) {
	interpreter, ext, err := interpreterForLanguage(job.Language)
	if err != nil {
		return Output{}, &LaunchError{Backend: "noop", Reason: "unknown language", Err: err}
	}

	jobDir, err := os.MkdirTemp("", "steward-noop-*")
	if err != nil {
		return Output{}, &LaunchError{Backend: "noop", Reason: "create job dir", Err: err}
	}
	defer func() { _ = os.RemoveAll(jobDir) }()

	scriptPath := filepath.Join(jobDir, "job"+ext)
	if err := os.WriteFile(scriptPath, []byte(job.Script), 0600); err != nil {
		return Output{}, &LaunchError{Backend: "noop", Reason: "write script", Err: err}
	}

	cmd := exec.CommandContext(ctx, interpreter, scriptPath)
	cmd.Dir = jobDir
	// A grandchild can keep stdout open after the interpreter is killed;
	// do not let that hold up cancellation.
	cmd.WaitDelay = time.Second
	for k, v := range job.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Output{Stdout: stdout.String(), Stderr: stderr.String()}, err
	}
	return Output{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}
