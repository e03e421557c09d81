package llm

import (
	"errors"
	"fmt"
	"sync"
)

// ErrTokenBudget reports that a turn has no room left for another generation.
var ErrTokenBudget = errors.New("turn token budget exhausted")

// TokenTracker is shared by every agent taking part in one turn: the
// classifier, the branch agent and each handoff group member. A budget of
// zero means the turn is unlimited.
type TokenTracker struct {
	mu     sync.Mutex
	budget int
	used   TokenUsage
	calls  int
}

// NewTokenTracker creates a tracker for one turn.
func NewTokenTracker(budget int) *TokenTracker {
	return &TokenTracker{budget: budget}
}

// Add records one generation call.
func (t *TokenTracker) Add(usage TokenUsage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.used = t.used.Add(usage)
	t.calls++
}

// CheckBudget fails with ErrTokenBudget when a call that may produce up to
// maxTokens would overrun the budget.
func (t *TokenTracker) CheckBudget(maxTokens int) error {
	if t.budget <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if spent := t.used.Total(); spent+maxTokens > t.budget {
		return fmt.Errorf("%w: spent %d, next call may use %d, budget %d", ErrTokenBudget, spent, maxTokens, t.budget)
	}
	return nil
}

// Usage returns what the turn has spent so far.
func (t *TokenTracker) Usage() TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

// Calls returns the number of generation calls recorded.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Remaining returns the unspent budget, floored at zero, or -1 when the turn
// is unlimited.
func (t *TokenTracker) Remaining() int {
	if t.budget <= 0 {
		return -1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return max(t.budget-t.used.Total(), 0)
}
