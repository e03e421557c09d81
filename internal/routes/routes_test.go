package routes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/szaher/augur/internal/agent"
	"github.com/szaher/augur/internal/expr"
	"github.com/szaher/augur/internal/graph"
)

func TestParse(t *testing.T) {
	tests := []struct {
		text   string
		want   Label
		wantOK bool
	}{
		{"welcome", Welcome, true},
		{"  Tarot.\n", Tarot, true},
		{"NUMEROLOGY", Numerology, true},
		{"**tarot**", Tarot, true},
		{"This is a numerology question", Numerology, true},
		{"route to tarot please", Tarot, true},
		{"astrology", "", false},
		{"", "", false},
		{"welcome or tarot", "", false},
		{"numerology and tarot and welcome", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := Parse(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func stateWithEntry(text string) *graph.ExecutionState {
	return &graph.ExecutionState{
		Entry: "router",
		Results: map[string]graph.NodeResult{
			"router": graph.CompletionResult("router", &agent.Completion{Text: text}),
		},
	}
}

// Exactly one predicate fires for outputs naming exactly one keyword.
func TestPredicatesAreMutuallyExclusive(t *testing.T) {
	outputs := []string{"welcome", "numerology", "tarot", "I think tarot", "welcome tarot", "none", ""}
	for _, out := range outputs {
		s := stateWithEntry(out)
		var matched []Label
		for _, l := range Labels {
			if Predicate(l)(s) {
				matched = append(matched, l)
			}
		}
		want, ok := Parse(out)
		if ok {
			assert.Equal(t, []Label{want}, matched, out)
		} else {
			assert.Empty(t, matched, out)
		}
	}
}

func TestPredicateWithoutEntryResult(t *testing.T) {
	s := &graph.ExecutionState{Entry: "router", Results: map[string]graph.NodeResult{}}
	assert.False(t, Predicate(Welcome)(s))
}

func TestExprPredicate(t *testing.T) {
	c, err := expr.Compile(`label == "numerology" || input contains "birthday"`)
	require.NoError(t, err)

	assert.True(t, ExprPredicate(c, "hello", nil)(stateWithEntry("numerology")))
	assert.True(t, ExprPredicate(c, "my birthday is today", nil)(stateWithEntry("welcome")))
	assert.False(t, ExprPredicate(c, "hello", nil)(stateWithEntry("welcome")))
}

func TestClassifierInstructionListsLabels(t *testing.T) {
	in := ClassifierInstruction()
	for _, l := range Labels {
		assert.Contains(t, in, string(l))
	}
}
