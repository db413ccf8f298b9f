package tools

import (
	"fmt"
	"os/exec"
	"path/filepath"
)

// ErrBinaryNotAllowed indicates a binary is not in the allowlist.
type ErrBinaryNotAllowed struct {
	Binary string
}

func (e *ErrBinaryNotAllowed) Error() string {
	return fmt.Sprintf("binary %q not in allowlist", e.Binary)
}

// ErrBinaryNotFound indicates an allowlisted binary is not on the system.
type ErrBinaryNotFound struct {
	Binary string
}

func (e *ErrBinaryNotFound) Error() string {
	return fmt.Sprintf("binary %q not found on system", e.Binary)
}

// ErrNoAllowlist indicates no allowlist is configured, so all execution is blocked.
type ErrNoAllowlist struct{}

func (e *ErrNoAllowlist) Error() string {
	return "command execution blocked: no allowlist configured. Set allowed_commands in the config."
}

// ValidateBinary checks a binary name against the allowlist. An empty
// allowlist blocks everything (secure default).
func ValidateBinary(binary string, allowlist []string) error {
	if len(allowlist) == 0 {
		return &ErrNoAllowlist{}
	}

	baseName := filepath.Base(binary)
	found := false
	for _, allowed := range allowlist {
		if allowed == baseName {
			found = true
			break
		}
	}
	if !found {
		return &ErrBinaryNotAllowed{Binary: baseName}
	}

	if _, err := exec.LookPath(binary); err != nil {
		return &ErrBinaryNotFound{Binary: baseName}
	}
	return nil
}
