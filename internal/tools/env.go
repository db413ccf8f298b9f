package tools

import "os"

// SafeEnv builds a minimal environment for tool subprocesses: PATH, HOME,
// and LANG from the host, plus the configured extras. Nothing else from the
// parent environment leaks through.
func SafeEnv(extra map[string]string) map[string]string {
	env := make(map[string]string, len(extra)+3)
	for _, key := range []string{"PATH", "HOME", "LANG"} {
		if v := os.Getenv(key); v != "" {
			env[key] = v
		}
	}
	for k, v := range extra {
		env[k] = v
	}
	return env
}
