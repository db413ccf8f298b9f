package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

// ProcessSandbox isolates interpreter jobs with OS-level process controls:
// ulimit for memory, context timeout plus process kill for time, and a
// throwaway directory for the filesystem.
type ProcessSandbox struct{}

// Available reports whether process isolation works on this platform.
func (p *ProcessSandbox) Available() bool {
	return runtime.GOOS == "linux" || runtime.GOOS == "darwin"
}

// Run executes an interpreter job under ulimit restrictions.
func (p *ProcessSandbox) Run(ctx context.Context, job Job) (Output, error) {
	if !p.Available() {
		return Output{}, &LaunchError{Backend: "process", Reason: "unsupported platform",
			Err: fmt.Errorf("%s not supported", runtime.GOOS)}
	}

	interpreter, ext, err := interpreterForLanguage(job.Language)
	if err != nil {
		return Output{}, &LaunchError{Backend: "process", Reason: "unknown language", Err: err}
	}
	if _, err := exec.LookPath(interpreter); err != nil {
		return Output{}, &LaunchError{Backend: "process", Reason: "interpreter missing", Err: err}
	}

	jobDir, err := os.MkdirTemp("", "steward-sandbox-*")
	if err != nil {
		return Output{}, &LaunchError{Backend: "process", Reason: "create job dir", Err: err}
	}
	defer func() { _ = os.RemoveAll(jobDir) }()

	scriptPath := filepath.Join(jobDir, "job"+ext)
	if err := os.WriteFile(scriptPath, []byte(job.Script), 0600); err != nil {
		return Output{}, &LaunchError{Backend: "process", Reason: "write script", Err: err}
	}

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wrapperPath := filepath.Join(jobDir, "wrapper.sh")
	if err := os.WriteFile(wrapperPath, []byte(p.wrapperScript(interpreter, scriptPath, job)), 0700); err != nil {
		return Output{}, &LaunchError{Backend: "process", Reason: "write wrapper", Err: err}
	}

	cmd := exec.CommandContext(execCtx, "bash", wrapperPath)
	cmd.Dir = jobDir
	// A grandchild can keep stdout open after bash is killed; do not let
	// that hold up the timeout.
	cmd.WaitDelay = time.Second

	// Minimal environment, never inherit the host's.
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		fmt.Sprintf("HOME=%s", jobDir),
		fmt.Sprintf("TMPDIR=%s", jobDir),
	}
	for k, v := range job.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return out, &LimitError{Resource: "time", Limit: timeout.String()}
		}
		// Exit code 137 = killed by the memory ceiling.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 137 {
			return out, &LimitError{Resource: "memory", Limit: fmt.Sprintf("%dMB", job.MemoryMB)}
		}
		return out, err
	}
	return out, nil
}

func (p *ProcessSandbox) wrapperScript(interpreter, scriptPath string, job Job) string {
	var script bytes.Buffer
	script.WriteString("#!/bin/bash\nset -e\n")

	if job.MemoryMB > 0 {
		fmt.Fprintf(&script, "ulimit -v %d 2>/dev/null || true\n", job.MemoryMB*1024)
	}
	script.WriteString("ulimit -f 16384 2>/dev/null || true\n")
	script.WriteString("ulimit -u 64 2>/dev/null || true\n")

	fmt.Fprintf(&script, "cd %s\n", strconv.Quote(filepath.Dir(scriptPath)))
	fmt.Fprintf(&script, "exec %s %s\n", interpreter, strconv.Quote(scriptPath))
	return script.String()
}

func interpreterForLanguage(lang string) (interpreter, ext string, err error) {
	switch lang {
	case "python", "python3":
		return "python3", ".py", nil
	case "javascript", "node":
		return "node", ".js", nil
	case "bash", "sh":
		return "bash", ".sh", nil
	case "ruby":
		return "ruby", ".rb", nil
	default:
		return "", "", fmt.Errorf("unsupported language %q", lang)
	}
}
