package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "steward.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "model: claude-sonnet-4-5\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ExecutionMode != "auto" {
		t.Errorf("execution mode default = %q, want auto", cfg.ExecutionMode)
	}
	if cfg.GuardLevel != "standard" {
		t.Errorf("guard level default = %q, want standard", cfg.GuardLevel)
	}
	if cfg.MaxTurns != 25 {
		t.Errorf("max turns default = %d, want 25", cfg.MaxTurns)
	}
	if cfg.Model != "claude-sonnet-4-5" {
		t.Errorf("model = %q", cfg.Model)
	}
}

func TestLoadFull(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
listen: 0.0.0.0:9000
model: claude-sonnet-4-5
execution_mode: sandbox
working_dir: `+dir+`
guard_level: strict
judge_cache_ttl: 30m
retention: 72h
max_turns: 10
token_budget: 50000
allowed_commands: [git, go]
gate_rules:
  - condition: tool == "write_file"
    require: sandbox
archive:
  backend: file
  dir: /tmp/archive
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JudgeCacheTTL.Std() != 30*time.Minute {
		t.Errorf("ttl = %v, want 30m", cfg.JudgeCacheTTL.Std())
	}
	if cfg.Retention.Std() != 72*time.Hour {
		t.Errorf("retention = %v, want 72h", cfg.Retention.Std())
	}
	rules, err := cfg.CompileGateRules()
	if err != nil || len(rules) != 1 {
		t.Errorf("gate rules = %v, %v", rules, err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad mode", "execution_mode: container\n"},
		{"bad guard", "guard_level: paranoid\n"},
		{"missing workdir", "working_dir: /no/such/dir/xyz\n"},
		{"negative turns", "max_turns: -1\n"},
		{"bad rule", "gate_rules:\n  - condition: \"tool ===\"\n    require: gate\n"},
		{"bad requirement", "gate_rules:\n  - condition: \"true\"\n    require: loosen\n"},
		{"bad archive", "archive:\n  backend: ftp\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := Load(path); !errors.Is(err, ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestWatchReload(t *testing.T) {
	path := writeConfig(t, "guard_level: standard\n")

	got := make(chan Reload, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = Watch(ctx, path, slog.Default(), func(r Reload) {
			select {
			case got <- r:
			default:
			}
		})
	}()

	time.Sleep(100 * time.Millisecond) // let the watcher attach
	if err := os.WriteFile(path, []byte("guard_level: relaxed\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-got:
		if r.GuardLevel != "relaxed" {
			t.Errorf("reloaded guard = %q, want relaxed", r.GuardLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

func TestWatchSkipsInvalid(t *testing.T) {
	path := writeConfig(t, "guard_level: standard\n")

	got := make(chan Reload, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = Watch(ctx, path, slog.Default(), func(r Reload) { got <- r })
	}()

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("guard_level: bogus\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-got:
		t.Errorf("invalid config should not reload, got %+v", r)
	case <-time.After(500 * time.Millisecond):
	}
}
