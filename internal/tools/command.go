package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/steward-dev/steward/internal/backend"
	"github.com/steward-dev/steward/internal/execmode"
	"github.com/steward-dev/steward/internal/sandbox"
)

// RunCommandTool executes a binary with arguments. Local placement requires
// the binary to be allowlisted; sandbox placement hands the whole command
// line to the isolated environment instead.
type RunCommandTool struct {
	Root      string
	Allowlist []string
	Env       map[string]string
	Timeout   time.Duration
}

// RunCommandDefinition describes the run_command tool to the backend.
func RunCommandDefinition() backend.ToolDefinition {
	return backend.ToolDefinition{
		Name:        "run_command",
		Description: "Run a command in the working directory.",
		InputSchema: objectSchema([]string{"command"}, map[string]any{
			"command": map[string]any{"type": "string"},
			"args":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		}),
	}
}

func (t *RunCommandTool) Execute(ctx context.Context, input map[string]any, p Placement) (string, error) {
	binary, err := stringInput(input, "command")
	if err != nil {
		return "", err
	}
	var args []string
	if raw, ok := input["args"].([]any); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				args = append(args, s)
			}
		}
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	if p.Mode == execmode.ModeSandbox {
		if p.Sandbox == nil {
			return "", fmt.Errorf("run_command: sandbox placement with no sandbox backend")
		}
		line := shellQuote(binary)
		for _, a := range args {
			line += " " + shellQuote(a)
		}
		out, err := p.Sandbox.Run(ctx, sandbox.Job{
			Language: "bash",
			Script:   line + "\n",
			Env:      t.Env,
			WorkDir:  t.Root,
			Timeout:  timeout,
		})
		if err != nil {
			return "", fmt.Errorf("run_command: %w: %s", err, out.Stderr)
		}
		return out.Stdout, nil
	}

	if err := ValidateBinary(binary, t.Allowlist); err != nil {
		return "", fmt.Errorf("run_command: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, binary, args...)
	cmd.Dir = t.Root
	for k, v := range t.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("run_command %s: %w: %s", binary, err, stderr.String())
	}
	return stdout.String(), nil
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$&|;<>()*?[]#~%") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
