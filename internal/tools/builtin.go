package tools

import (
	"time"

	"github.com/steward-dev/steward/internal/sandbox"
)

// BuiltinOptions configures the built-in tool set.
type BuiltinOptions struct {
	Root          string
	Allowlist     []string
	Env           map[string]string
	MemoryLimitMB int
	Timeout       time.Duration
	Local         sandbox.Sandbox
}

// RegisterBuiltins wires the standard tool set into a registry.
func RegisterBuiltins(r *Registry, opts BuiltinOptions) {
	env := SafeEnv(opts.Env)

	r.Register(ReadFileDefinition(), &ReadFileTool{Root: opts.Root})
	r.Register(ListDirDefinition(), &ListDirTool{Root: opts.Root})
	r.Register(GrepFilesDefinition(), &GrepFilesTool{Root: opts.Root})
	r.Register(WriteFileDefinition(), &WriteFileTool{Root: opts.Root})
	r.Register(RunCommandDefinition(), &RunCommandTool{
		Root:      opts.Root,
		Allowlist: opts.Allowlist,
		Env:       env,
		Timeout:   opts.Timeout,
	})
	r.Register(RunScriptDefinition(), &RunScriptTool{
		Root:        opts.Root,
		Env:         env,
		MemoryLimit: opts.MemoryLimitMB,
		Timeout:     opts.Timeout,
		Local:       opts.Local,
	})
	r.Register(HTTPFetchDefinition(), NewHTTPFetchTool())
}
