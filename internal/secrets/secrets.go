// Package secrets resolves secret references from config and keeps the
// resolved values out of log output.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Resolver resolves secret references to their values.
type Resolver interface {
	// Resolve looks up a secret reference and returns its value.
	// The ref format depends on the implementation (e.g., "env(VAR_NAME)").
	Resolve(ctx context.Context, ref string) (string, error)
}

// EnvResolver resolves secret references of the form "env(VAR_NAME)"
// by reading from environment variables.
type EnvResolver struct{}

// NewEnvResolver creates an environment variable secret resolver.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{}
}

// Resolve looks up an env() reference and returns the value. A bare string
// with no env() wrapper is returned as-is so configs can inline values in
// development.
func (r *EnvResolver) Resolve(_ context.Context, ref string) (string, error) {
	if !strings.HasPrefix(ref, "env(") {
		return ref, nil
	}
	if !strings.HasSuffix(ref, ")") {
		return "", fmt.Errorf("malformed secret reference: %q (expected env(VAR_NAME))", ref)
	}

	varName := ref[4 : len(ref)-1]
	value, ok := os.LookupEnv(varName)
	if !ok {
		return "", fmt.Errorf("environment variable %q not set", varName)
	}

	return value, nil
}
