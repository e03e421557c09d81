// Package graph implements the one-hop routing graph: an entry (classifier)
// node followed by exactly one conditionally selected branch node.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/szaher/augur/internal/agent"
)

var (
	ErrNodeTimeout     = errors.New("node timed out")
	ErrGraphTimeout    = errors.New("graph execution timed out")
	ErrNoMatchingRoute = errors.New("no matching route")
	ErrEntryFailed     = errors.New("entry node failed")
)

const (
	DefaultExecutionTimeout = 600 * time.Second
	DefaultNodeTimeout      = 180 * time.Second
)

// Executor runs one node. Implementations report failures inside the
// returned NodeResult rather than as errors.
type Executor interface {
	Execute(ctx context.Context, input string) NodeResult
}

// Predicate decides whether an edge is taken given the state so far.
type Predicate func(*ExecutionState) bool

// Edge is a conditional transition out of the entry node.
type Edge struct {
	From      string
	To        string
	Condition Predicate
}

// Hooks observe node execution.
type Hooks struct {
	OnNodeEnter func(ctx context.Context, node string)
	OnNodeLeave func(ctx context.Context, result NodeResult)
}

// Graph is an immutable, built routing graph. One Graph may serve a single
// request or many; Execute keeps all mutable state in the returned state.
type Graph struct {
	nodes       map[string]Executor
	edges       []Edge
	entry       string
	execTimeout time.Duration
	nodeTimeout time.Duration
	hooks       Hooks
	logger      *slog.Logger
}

// Execute runs the entry node, selects the single matching edge and runs its
// target. The returned state is always non-nil and holds partial results.
//
// Errors returned: ErrEntryFailed (wrapping the cause) when the entry does
// not complete, ErrGraphTimeout when the graph deadline fires, and the branch
// error when a plain-agent branch fails for a reason other than its node
// deadline. A missing route and handoff-group failures are recorded in the
// state only.
func (g *Graph) Execute(ctx context.Context, input string) (*ExecutionState, error) {
	start := time.Now()
	state := newExecutionState(g.entry)
	defer func() { state.Duration = time.Since(start) }()

	ctx, cancel := context.WithTimeout(ctx, g.execTimeout)
	defer cancel()

	entry := g.run(ctx, g.entry, input)
	state.record(entry)
	if entry.Status != StatusCompleted {
		if graphExpired(ctx) {
			return state, fmt.Errorf("%w after %s", ErrGraphTimeout, g.execTimeout)
		}
		return state, fmt.Errorf("%w: %s: %w", ErrEntryFailed, g.entry, entry.Err)
	}

	var matched []string
	for _, e := range g.edges {
		if e.Condition == nil || e.Condition(state) {
			matched = append(matched, e.To)
		}
	}
	if len(matched) != 1 {
		state.RouteErr = fmt.Errorf("%w: %d edges matched classifier output %q", ErrNoMatchingRoute, len(matched), state.EntryText())
		g.logger.WarnContext(ctx, "routing graph found no unique route", "matched", matched, "error", state.RouteErr)
		return state, nil
	}

	state.Branch = matched[0]
	branch := g.run(ctx, state.Branch, input)
	state.record(branch)

	if graphExpired(ctx) {
		return state, fmt.Errorf("%w after %s", ErrGraphTimeout, g.execTimeout)
	}
	if branch.Kind == KindCompletion && branch.Status == StatusFailed {
		return state, fmt.Errorf("branch %s: %w", state.Branch, branch.Err)
	}
	return state, nil
}

func (g *Graph) run(ctx context.Context, name string, input string) NodeResult {
	if g.hooks.OnNodeEnter != nil {
		g.hooks.OnNodeEnter(ctx, name)
	}

	nodeCtx, cancel := context.WithTimeout(ctx, g.nodeTimeout)
	defer cancel()

	start := time.Now()
	res := g.nodes[name].Execute(nodeCtx, input)
	res.Node = name
	res.Duration = time.Since(start)

	g.logger.DebugContext(ctx, "node finished", "node", name, "status", res.Status, "kind", res.Kind.String(), "duration", res.Duration)
	if g.hooks.OnNodeLeave != nil {
		g.hooks.OnNodeLeave(ctx, res)
	}
	return res
}

func graphExpired(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// AgentNode adapts an agent to Executor.
type AgentNode struct {
	Agent *agent.Agent
}

// Execute calls Respond and maps deadline errors to StatusTimedOut.
func (n AgentNode) Execute(ctx context.Context, input string) NodeResult {
	c, err := n.Agent.Respond(ctx, input)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return AgentFailure(n.Agent.Name(), StatusTimedOut, fmt.Errorf("%w: %w", ErrNodeTimeout, err))
		}
		return AgentFailure(n.Agent.Name(), StatusFailed, err)
	}
	return CompletionResult(n.Agent.Name(), c)
}
