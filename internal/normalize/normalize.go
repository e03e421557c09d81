// Package normalize reduces a routing-graph execution to one answer: the
// responding branch, the user-visible text and any drawn cards.
package normalize

import (
	"regexp"
	"strings"

	"github.com/szaher/augur/internal/graph"
)

// DefaultFallback is returned whenever no usable answer can be recovered.
const DefaultFallback = "I apologize, but I couldn't generate a proper response. Please try again."

// Markers that betray an unrendered result object leaking into the text.
var leakMarkers = []string{"SwarmResult", "NodeResult"}

var (
	thinkingRe      = regexp.MustCompile(`(?s)<thinking>.*?</thinking>`)
	cardsRe         = regexp.MustCompile(`CARDS:\s*\[([^\]]*)\]`)
	// Blank lines directly after a removed marker.
	trailingBlankRe = regexp.MustCompile(`^(?:[ \t]*\r?\n)+`)
)

// Options configure Normalize.
type Options struct {
	// ReadingBranch is the branch whose answers carry a CARDS marker.
	ReadingBranch string
	// Fallback replaces unusable answers. Empty means DefaultFallback.
	Fallback string
}

// Result is the flattened answer.
type Result struct {
	Branch string   `json:"branch"`
	Answer string   `json:"answer"`
	Cards  []string `json:"cards"`
	// Fallback is true when Answer is the fallback text.
	Fallback bool `json:"fallback"`
}

// Normalize flattens state. It never fails: a missing branch result, an
// empty answer or leaked internals produce the fallback text. Cards is never
// nil.
func Normalize(state *graph.ExecutionState, opts Options) Result {
	fallback := opts.Fallback
	if fallback == "" {
		fallback = DefaultFallback
	}
	res := Result{Cards: []string{}}

	if state == nil || state.Branch == "" {
		res.Answer, res.Fallback = fallback, true
		return res
	}
	res.Branch = state.Branch

	text, ok := branchText(state)
	if !ok {
		res.Answer, res.Fallback = fallback, true
		return res
	}

	text = StripThinking(text)
	if text == "" || leaked(text) {
		res.Answer, res.Fallback = fallback, true
		return res
	}

	if opts.ReadingBranch != "" && res.Branch == opts.ReadingBranch {
		// A reply that was only a card list leaves an empty answer, which
		// the caller does not persist.
		text, res.Cards = ExtractCards(text)
	}
	res.Answer = text
	return res
}

// branchText returns the answer text of the branch node. For a handoff group
// it is the completion of the last agent in its history.
func branchText(state *graph.ExecutionState) (string, bool) {
	r, ok := state.Result(state.Branch)
	if !ok {
		return "", false
	}
	switch r.Kind {
	case graph.KindCompletion:
		return r.Text()
	case graph.KindSwarm:
		// The last agent may have been mid-handoff when a guard or deadline
		// stopped the group; its text is still the group's answer.
		last, ok := r.Swarm.Final()
		if !ok || last.Completion == nil {
			return "", false
		}
		return last.Completion.Text, true
	}
	return "", false
}

// StripThinking removes the first <thinking>...</thinking> block and trims the
// result. Later blocks are left alone, so it is idempotent for replies with
// at most one block.
func StripThinking(text string) string {
	loc := thinkingRe.FindStringIndex(text)
	if loc == nil {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(text[:loc[0]] + text[loc[1]:])
}

func leaked(text string) bool {
	for _, m := range leakMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// ExtractCards pulls the list out of the first CARDS: [...] marker and removes
// that marker, with the blank lines right after it, from text. Entries are
// trimmed and empty ones dropped. Without a marker text is returned
// unchanged with an empty list.
func ExtractCards(text string) (string, []string) {
	loc := cardsRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, []string{}
	}

	cards := []string{}
	for _, c := range strings.Split(text[loc[2]:loc[3]], ",") {
		if c = strings.TrimSpace(c); c != "" {
			cards = append(cards, c)
		}
	}

	after := trailingBlankRe.ReplaceAllString(text[loc[1]:], "")
	return strings.TrimSpace(text[:loc[0]] + after), cards
}
