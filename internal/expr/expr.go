// Package expr compiles and evaluates the boolean expressions used as routing
// edge conditions, e.g. `label == "tarot"` or `text contains "number"`.
package expr

import (
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Env is the variable set visible to a condition.
type Env struct {
	// Label is the parsed classifier label, or "" when none could be parsed.
	Label string `expr:"label"`
	// Text is the raw classifier output.
	Text string `expr:"text"`
	// Input is the user's turn.
	Input string `expr:"input"`
}

// CompiledExpr is a type-checked condition ready for evaluation.
type CompiledExpr struct {
	Source  string
	program *vm.Program
}

// Compile type-checks source against Env and requires a boolean result.
func Compile(source string) (*CompiledExpr, error) {
	if source == "" {
		return nil, errors.New("empty expression")
	}
	program, err := expr.Compile(source, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("expression compile error: %w", err)
	}
	return &CompiledExpr{Source: source, program: program}, nil
}

// MustCompile is like Compile but panics on error. For static conditions.
func MustCompile(source string) *CompiledExpr {
	c, err := Compile(source)
	if err != nil {
		panic(err)
	}
	return c
}

// EvalBool runs the condition against env.
func EvalBool(c *CompiledExpr, env Env) (bool, error) {
	if c == nil || c.program == nil {
		return false, errors.New("nil compiled expression")
	}
	out, err := expr.Run(c.program, env)
	if err != nil {
		return false, fmt.Errorf("expression eval error for %q: %w", c.Source, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, expected bool", c.Source, out)
	}
	return b, nil
}
