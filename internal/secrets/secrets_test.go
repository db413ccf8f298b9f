package secrets

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestEnvResolver(t *testing.T) {
	r := NewEnvResolver()

	t.Run("env reference", func(t *testing.T) {
		t.Setenv("STEWARD_TEST_SECRET", "s3cret")
		got, err := r.Resolve(context.Background(), "env(STEWARD_TEST_SECRET)")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if got != "s3cret" {
			t.Errorf("Resolve = %q, want %q", got, "s3cret")
		}
	})

	t.Run("unset variable", func(t *testing.T) {
		if _, err := r.Resolve(context.Background(), "env(STEWARD_TEST_UNSET_XYZ)"); err == nil {
			t.Error("expected error for unset variable")
		}
	})

	t.Run("bare string passes through", func(t *testing.T) {
		got, err := r.Resolve(context.Background(), "inline-value")
		if err != nil || got != "inline-value" {
			t.Errorf("Resolve = %q, %v; want pass-through", got, err)
		}
	})

	t.Run("malformed reference", func(t *testing.T) {
		if _, err := r.Resolve(context.Background(), "env(OOPS"); err == nil {
			t.Error("expected error for malformed reference")
		}
	})
}

func TestRedactFilter(t *testing.T) {
	var buf bytes.Buffer
	filter := NewRedactFilter(slog.NewJSONHandler(&buf, nil))
	filter.AddSecret("topsecret")

	logger := slog.New(filter)
	logger.Info("key is topsecret", "token", "bearer topsecret here")

	out := buf.String()
	if strings.Contains(out, "topsecret") {
		t.Errorf("secret leaked into log output: %s", out)
	}
	if !strings.Contains(out, "***REDACTED***") {
		t.Errorf("placeholder missing from output: %s", out)
	}
}
