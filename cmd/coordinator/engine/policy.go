package engine

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// TurnPolicy decides when an AI turn follows an accepted human turn.
// The cadence is a CEL expression over the session's counters rather than
// a hard-coded modulus, so classrooms can tune it per deployment:
//
//	turn % 3 == 0            every 3rd accepted human turn
//	turn >= participants     once everyone has written
//	false                    never (teacher finishes manually)
type TurnPolicy struct {
	expr string
	prg  cel.Program
}

// NewTurnPolicy compiles a cadence expression
func NewTurnPolicy(expr string) (*TurnPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("turn", cel.IntType),
		cel.Variable("parts", cel.IntType),
		cel.Variable("participants", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile turn policy %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("turn policy %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build turn policy program: %w", err)
	}

	return &TurnPolicy{expr: expr, prg: prg}, nil
}

// ShouldAIWrite evaluates the cadence after an accepted human turn.
// turn is the count of accepted human turns so far (1-based).
func (p *TurnPolicy) ShouldAIWrite(turn, parts, participants int) (bool, error) {
	out, _, err := p.prg.Eval(map[string]interface{}{
		"turn":         turn,
		"parts":        parts,
		"participants": participants,
	})
	if err != nil {
		return false, fmt.Errorf("turn policy evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("turn policy %q did not return boolean, got %T", p.expr, out.Value())
	}

	return result, nil
}

// String returns the policy expression
func (p *TurnPolicy) String() string {
	return p.expr
}
