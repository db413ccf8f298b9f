package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/steward-dev/steward/internal/backend"
	"github.com/steward-dev/steward/internal/execmode"
	"github.com/steward-dev/steward/internal/sandbox"
)

// RunScriptTool executes an inline script the agent wrote. Sandbox placement
// uses the isolated backend from the call; local placement falls back to
// direct execution.
type RunScriptTool struct {
	Root        string
	Env         map[string]string
	MemoryLimit int // MB
	Timeout     time.Duration
	Local       sandbox.Sandbox // used when placement is local; defaults to NoopSandbox
}

// RunScriptDefinition describes the run_script tool to the backend.
func RunScriptDefinition() backend.ToolDefinition {
	return backend.ToolDefinition{
		Name:        "run_script",
		Description: "Execute an inline script (python, node, bash, or ruby).",
		InputSchema: objectSchema([]string{"language", "code"}, map[string]any{
			"language": map[string]any{"type": "string"},
			"code":     map[string]any{"type": "string"},
		}),
	}
}

func (t *RunScriptTool) Execute(ctx context.Context, input map[string]any, p Placement) (string, error) {
	language, err := stringInput(input, "language")
	if err != nil {
		return "", err
	}
	code, err := stringInput(input, "code")
	if err != nil {
		return "", err
	}

	var sb sandbox.Sandbox
	if p.Mode == execmode.ModeSandbox {
		sb = p.Sandbox
		if sb == nil {
			return "", fmt.Errorf("run_script: sandbox placement with no sandbox backend")
		}
	} else {
		sb = t.Local
		if sb == nil {
			sb = &sandbox.NoopSandbox{}
		}
	}

	out, err := sb.Run(ctx, sandbox.Job{
		Language: language,
		Script:   code,
		Env:      t.Env,
		WorkDir:  t.Root,
		MemoryMB: t.MemoryLimit,
		Timeout:  t.Timeout,
	})
	if err != nil {
		return "", fmt.Errorf("run_script (%s): %w: %s", language, err, out.Stderr)
	}
	return out.Stdout, nil
}
