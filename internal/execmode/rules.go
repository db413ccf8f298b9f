package execmode

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Requirement is what a matched rule forces on the decision.
type Requirement string

const (
	// RequireSandbox forces isolated placement.
	RequireSandbox Requirement = "sandbox"
	// RequireGate forces user approval.
	RequireGate Requirement = "gate"
)

// Rule is a compiled override: when the condition matches a tool call, the
// requirement is applied. Rules can only tighten the table's decision by
// forcing isolation or forcing gating, never loosen it.
type Rule struct {
	Source  string
	Require Requirement
	program *vm.Program
}

// ruleEnv is the variable set rule conditions are compiled against.
type ruleEnv struct {
	Tool  string `expr:"tool"`
	Mode  string `expr:"mode"`
	Gated bool   `expr:"gated"`
}

// CompileRule validates and compiles a rule condition, e.g.
// `tool == "write_file" && mode == "local"`.
func CompileRule(condition string, require Requirement) (*Rule, error) {
	if condition == "" {
		return nil, fmt.Errorf("gate rule: empty condition")
	}
	switch require {
	case RequireSandbox, RequireGate:
	default:
		return nil, fmt.Errorf("gate rule: unknown requirement %q", require)
	}

	program, err := expr.Compile(condition, expr.Env(ruleEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("gate rule %q: %w", condition, err)
	}
	return &Rule{Source: condition, Require: require, program: program}, nil
}

// Tighten evaluates the rule's condition against the base decision and, on a
// match, applies the requirement to d. Evaluation errors leave d untouched.
func (r *Rule) Tighten(tool string, base Decision, d *Decision) {
	out, err := expr.Run(r.program, ruleEnv{Tool: tool, Mode: string(base.Mode), Gated: base.Gated})
	if err != nil {
		return
	}
	matched, _ := out.(bool)
	if !matched {
		return
	}
	switch r.Require {
	case RequireSandbox:
		d.Mode = ModeSandbox
	case RequireGate:
		d.Gated = true
	}
}
