// Package execmode decides, per tool call, whether the tool runs directly on
// the host or inside an isolated environment, and whether user approval is
// required first. The classification table is closed and versioned; names it
// does not know fail safe to sandbox plus gating.
package execmode

import (
	"fmt"
	"sync"
)

// Mode is a tool-call placement.
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeLocal   Mode = "local"
	ModeSandbox Mode = "sandbox"
)

// ParseMode validates a configured execution mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAuto, ModeLocal, ModeSandbox:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unrecognized execution mode %q", s)
}

// Class is a tool's capability classification.
type Class string

const (
	// ClassReadOnly tools only read inside the working directory.
	ClassReadOnly Class = "read_only"
	// ClassWorkdirWrite tools mutate files confined to the working directory.
	ClassWorkdirWrite Class = "workdir_write"
	// ClassExec tools can run arbitrary commands.
	ClassExec Class = "exec"
	// ClassNetwork tools can reach the network.
	ClassNetwork Class = "network"
)

// Decision is the resolved placement and gating for one tool call.
type Decision struct {
	Mode  Mode
	Gated bool
}

type toolPolicy struct {
	class Class
	gated bool
}

// tableVersion bumps whenever an entry is added or reclassified.
const tableVersion = 2

// toolTable is the closed classification table. Read-only tools run local
// and ungated; workdir writes run local but gated; anything that executes
// commands or touches the network runs sandboxed and gated.
var toolTable = map[string]toolPolicy{
	"read_file":  {class: ClassReadOnly, gated: false},
	"list_dir":   {class: ClassReadOnly, gated: false},
	"grep_files": {class: ClassReadOnly, gated: false},

	"write_file": {class: ClassWorkdirWrite, gated: true},

	"run_command": {class: ClassExec, gated: true},
	"run_script":  {class: ClassExec, gated: true},

	"http_fetch": {class: ClassNetwork, gated: true},
}

// Selector resolves placement decisions, optionally tightened by
// configurable override rules.
type Selector struct {
	mu    sync.RWMutex
	rules []*Rule
}

// NewSelector creates a selector with the given override rules (may be nil).
func NewSelector(rules []*Rule) *Selector {
	return &Selector{rules: rules}
}

// SetRules swaps the override rule set. Used by config hot reload; safe to
// call while sessions are resolving.
func (s *Selector) SetRules(rules []*Rule) {
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
}

// TableVersion returns the version of the static classification table.
func TableVersion() int { return tableVersion }

// Known reports whether the tool appears in the classification table.
func Known(tool string) bool {
	_, ok := toolTable[tool]
	return ok
}

// Resolve decides placement and gating for one tool call. A forced mode
// (local or sandbox) overrides placement but never downgrades gating, and
// override rules may only tighten the table's decision.
func (s *Selector) Resolve(configured Mode, tool string) Decision {
	policy, known := toolTable[tool]
	if !known {
		// Fail safe: prefer isolation over escalation of trust.
		policy = toolPolicy{class: ClassExec, gated: true}
	}

	d := Decision{Gated: policy.gated}
	switch policy.class {
	case ClassReadOnly, ClassWorkdirWrite:
		d.Mode = ModeLocal
	default:
		d.Mode = ModeSandbox
	}

	switch configured {
	case ModeLocal:
		d.Mode = ModeLocal
	case ModeSandbox:
		d.Mode = ModeSandbox
	}

	s.mu.RLock()
	rules := s.rules
	s.mu.RUnlock()

	// Every rule sees the same base decision. Evaluating against the
	// partially tightened one would let rules trigger each other.
	base := d
	for _, r := range rules {
		r.Tighten(tool, base, &d)
	}
	return d
}
