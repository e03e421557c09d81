// Package routes defines the closed set of branch labels the classifier may
// produce and the edge predicates that dispatch on them.
package routes

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/szaher/augur/internal/expr"
	"github.com/szaher/augur/internal/graph"
)

// Label names one branch of the routing graph.
type Label string

const (
	Welcome    Label = "welcome"
	Numerology Label = "numerology"
	Tarot      Label = "tarot"
)

// Labels lists every label in declaration order.
var Labels = []Label{Welcome, Numerology, Tarot}

// Valid reports whether l is one of Labels.
func (l Label) Valid() bool {
	for _, k := range Labels {
		if l == k {
			return true
		}
	}
	return false
}

// Parse maps classifier output to a label. An output that is exactly one
// label (ignoring case, whitespace and trailing punctuation) wins. Otherwise
// the output must contain exactly one label keyword; zero or several is no
// match.
func Parse(text string) (Label, bool) {
	norm := strings.ToLower(strings.TrimSpace(text))
	norm = strings.Trim(norm, " \t\r\n.!\"'`*")
	if l := Label(norm); l.Valid() {
		return l, true
	}

	var found []Label
	for _, l := range Labels {
		if strings.Contains(norm, string(l)) {
			found = append(found, l)
		}
	}
	if len(found) != 1 {
		return "", false
	}
	return found[0], true
}

// Predicate matches when the entry node's output parses to l.
func Predicate(l Label) graph.Predicate {
	return func(s *graph.ExecutionState) bool {
		got, ok := Parse(s.EntryText())
		return ok && got == l
	}
}

// ExprPredicate matches when the compiled condition holds. The condition sees
// the parsed label, the raw classifier text and the user input. Evaluation
// errors count as no match.
func ExprPredicate(c *expr.CompiledExpr, input string, logger *slog.Logger) graph.Predicate {
	return func(s *graph.ExecutionState) bool {
		text := s.EntryText()
		label, _ := Parse(text)
		ok, err := expr.EvalBool(c, expr.Env{Label: string(label), Text: text, Input: input})
		if err != nil {
			if logger != nil {
				logger.Warn("edge condition failed", "condition", c.Source, "error", err)
			}
			return false
		}
		return ok
	}
}

// ClassifierInstruction is appended to the router's prompt so it answers
// with a bare label.
func ClassifierInstruction() string {
	names := make([]string, len(Labels))
	for i, l := range Labels {
		names[i] = string(l)
	}
	return fmt.Sprintf("\n\nRespond with exactly one word from this list and nothing else: %s.", strings.Join(names, ", "))
}
