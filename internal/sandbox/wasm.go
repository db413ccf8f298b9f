package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WasmSandbox runs WASI modules under wazero. The module sees only the
// job's working directory, mounted read-only at /work, and the explicit
// environment it is given, nothing else from the host.
type WasmSandbox struct {
	// Module is the interpreter module used when the job carries none,
	// e.g. a WASI build of python or quickjs. The job's script arrives on
	// the module's stdin.
	Module string
}

// Available always returns true; wazero is a pure-Go runtime.
func (w *WasmSandbox) Available() bool { return true }

// Run instantiates the job's WASI module and captures its output.
func (w *WasmSandbox) Run(ctx context.Context, job Job) (Output, error) {
	wasmPath := job.WasmPath
	if wasmPath == "" {
		wasmPath = w.Module
	}
	if wasmPath == "" {
		return Output{}, &LaunchError{Backend: "wasm", Reason: "no module",
			Err: fmt.Errorf("job has no wasm path and no default module is configured")}
	}

	wasmBytes, err := os.ReadFile(wasmPath)
	if err != nil {
		return Output{}, &LaunchError{Backend: "wasm", Reason: "read module", Err: err}
	}

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	rt := wazero.NewRuntime(ctx)
	defer func() { _ = rt.Close(ctx) }()
	wasi_snapshot_preview1.MustInstantiate(ctx, rt)

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return Output{}, &LaunchError{Backend: "wasm", Reason: "compile module", Err: err}
	}

	var stdout, stderr bytes.Buffer
	config := wazero.NewModuleConfig().
		WithName("job").
		WithStdin(strings.NewReader(job.Script)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithArgs(append([]string{"job"}, job.Args...)...)

	for k, v := range job.Env {
		config = config.WithEnv(k, v)
	}
	if job.WorkDir != "" {
		config = config.WithFSConfig(wazero.NewFSConfig().WithReadOnlyDirMount(job.WorkDir, "/work"))
	}

	mod, err := rt.InstantiateModule(ctx, compiled, config)
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return out, &LimitError{Resource: "time", Limit: job.Timeout.String()}
		}
		return out, fmt.Errorf("wasm sandbox: %w", err)
	}
	_ = mod.Close(ctx)

	return Output{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}
