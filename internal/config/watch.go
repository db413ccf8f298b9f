package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reload carries the subset of settings that can change without a restart.
type Reload struct {
	GuardLevel string
	GateRules  []GateRule
}

// Watch monitors the config file and invokes apply with the reloadable
// subset whenever a valid new version appears. Invalid versions are logged
// and skipped; the running config stays in force. Blocks until ctx is done.
func Watch(ctx context.Context, path string, logger *slog.Logger, apply func(Reload)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: editors replace the file, which drops a watch
	// on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	var debounce *time.Timer
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, func() {
				cfg, err := Load(path)
				if err != nil {
					logger.Warn("config reload skipped", "error", err)
					return
				}
				logger.Info("config reloaded", "guard_level", cfg.GuardLevel, "gate_rules", len(cfg.GateRules))
				apply(Reload{GuardLevel: cfg.GuardLevel, GateRules: cfg.GateRules})
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}
