package secrets

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// mask is what registered secret values are replaced with in log output.
const mask = "***REDACTED***"

// RedactFilter is a slog.Handler decorator that masks registered secret
// values in record messages and string attributes before they reach the
// inner handler. Handlers derived through WithAttrs/WithGroup share one
// secret set, so values registered later are masked everywhere.
type RedactFilter struct {
	inner   slog.Handler
	mu      *sync.RWMutex
	secrets map[string]struct{}
}

// NewRedactFilter wraps a handler with secret masking.
func NewRedactFilter(inner slog.Handler) *RedactFilter {
	return &RedactFilter{
		inner:   inner,
		mu:      &sync.RWMutex{},
		secrets: make(map[string]struct{}),
	}
}

// AddSecret registers a value for masking. Empty values are ignored.
func (f *RedactFilter) AddSecret(value string) {
	if value == "" {
		return
	}
	f.mu.Lock()
	f.secrets[value] = struct{}{}
	f.mu.Unlock()
}

// RedactString masks known secret values in an arbitrary string. Used for
// output that bypasses the logger, like tool results shown to the agent.
func (f *RedactFilter) RedactString(s string) string {
	return maskAll(s, f.snapshot())
}

func (f *RedactFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return f.inner.Enabled(ctx, level)
}

func (f *RedactFilter) Handle(ctx context.Context, record slog.Record) error {
	secrets := f.snapshot()
	if len(secrets) == 0 {
		return f.inner.Handle(ctx, record)
	}

	clean := slog.NewRecord(record.Time, record.Level, maskAll(record.Message, secrets), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		if a.Value.Kind() == slog.KindString {
			a = slog.String(a.Key, maskAll(a.Value.String(), secrets))
		}
		clean.AddAttrs(a)
		return true
	})
	return f.inner.Handle(ctx, clean)
}

func (f *RedactFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RedactFilter{inner: f.inner.WithAttrs(attrs), mu: f.mu, secrets: f.secrets}
}

func (f *RedactFilter) WithGroup(name string) slog.Handler {
	return &RedactFilter{inner: f.inner.WithGroup(name), mu: f.mu, secrets: f.secrets}
}

func (f *RedactFilter) snapshot() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.secrets))
	for s := range f.secrets {
		out = append(out, s)
	}
	return out
}

func maskAll(s string, secrets []string) string {
	for _, secret := range secrets {
		s = strings.ReplaceAll(s, secret, mask)
	}
	return s
}
