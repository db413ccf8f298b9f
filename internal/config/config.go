// Package config loads and validates the runtime configuration, and watches
// the file for reloadable changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/steward-dev/steward/internal/execmode"
	"github.com/steward-dev/steward/internal/judge"
)

// ErrInvalid reports a configuration that failed validation.
var ErrInvalid = errors.New("invalid configuration")

// Duration parses YAML duration strings like "15m" or "24h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// GateRule is one uncompiled selector override from the config file.
type GateRule struct {
	Condition string `yaml:"condition"`
	Require   string `yaml:"require"` // sandbox | gate
}

// Archive configures turn export.
type Archive struct {
	Backend string `yaml:"backend"` // file | s3
	Dir     string `yaml:"dir"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
}

// MCPServer declares one external tool provider to connect at startup.
type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Config is the full runtime configuration.
type Config struct {
	Listen string `yaml:"listen"`
	APIKey string `yaml:"api_key"` // secret ref, e.g. env(STEWARD_API_KEY)

	Model         string `yaml:"model"`
	BackendKey    string `yaml:"backend_key"` // secret ref for the agent backend
	ExecutionMode string `yaml:"execution_mode"`
	WorkingDir    string `yaml:"working_dir"`
	SystemPrompt  string `yaml:"system_prompt"`

	GuardLevel    string   `yaml:"guard_level"`
	JudgeCacheTTL Duration `yaml:"judge_cache_ttl"`

	MaxTurns    int `yaml:"max_turns"`
	TokenBudget int `yaml:"token_budget"`

	AllowedCommands []string   `yaml:"allowed_commands"`
	GateRules       []GateRule `yaml:"gate_rules"`

	SandboxBackend string `yaml:"sandbox_backend"` // process | wasm
	WasmModule     string `yaml:"wasm_module"`     // interpreter module for the wasm backend

	Postgres  string   `yaml:"postgres"` // connection string; empty = in-memory store
	Retention Duration `yaml:"retention"`

	Archive    Archive     `yaml:"archive"`
	MCPServers []MCPServer `yaml:"mcp_servers"`
}

// Default returns a configuration with sensible defaults applied.
func Default() Config {
	return Config{
		Listen:        "127.0.0.1:8372",
		ExecutionMode: string(execmode.ModeAuto),
		GuardLevel:    string(judge.GuardStandard),
		JudgeCacheTTL: Duration(judge.DefaultCacheTTL),
		MaxTurns:      25,
	}
}

// Load reads, parses, and validates a config file. Missing fields take
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if _, err := execmode.ParseMode(c.ExecutionMode); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := judge.ParseGuardLevel(c.GuardLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.WorkingDir != "" {
		info, err := os.Stat(c.WorkingDir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("%w: working directory %q does not exist", ErrInvalid, c.WorkingDir)
		}
	}
	if c.MaxTurns < 0 || c.TokenBudget < 0 {
		return fmt.Errorf("%w: max_turns and token_budget must be non-negative", ErrInvalid)
	}
	if _, err := c.CompileGateRules(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch c.Archive.Backend {
	case "", "file", "s3":
	default:
		return fmt.Errorf("%w: unknown archive backend %q", ErrInvalid, c.Archive.Backend)
	}
	switch c.SandboxBackend {
	case "", "process":
	case "wasm":
		if c.WasmModule == "" {
			return fmt.Errorf("%w: wasm sandbox requires wasm_module", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown sandbox backend %q", ErrInvalid, c.SandboxBackend)
	}
	return nil
}

// CompileGateRules compiles the configured selector overrides.
func (c Config) CompileGateRules() ([]*execmode.Rule, error) {
	rules := make([]*execmode.Rule, 0, len(c.GateRules))
	for _, gr := range c.GateRules {
		r, err := execmode.CompileRule(gr.Condition, execmode.Requirement(gr.Require))
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}
