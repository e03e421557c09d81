// Package swarm implements a handoff group: a set of agents that pass
// control to one another through the handoff tool until one of them answers,
// bounded by handoff, iteration, repetition and time limits.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/szaher/augur/internal/agent"
	"github.com/szaher/augur/internal/graph"
)

var (
	ErrRepetitiveHandoff     = errors.New("repetitive handoff detected")
	ErrHandoffBudgetExceeded = errors.New("handoff budget exceeded")
	ErrUnknownAgent          = errors.New("handoff to unknown agent")
)

// Config bounds one group run.
type Config struct {
	Entry               string        `yaml:"entry" json:"entry"`
	MaxHandoffs         int           `yaml:"max_handoffs" json:"max_handoffs"`
	MaxIterations       int           `yaml:"max_iterations" json:"max_iterations"`
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
	NodeTimeout         time.Duration `yaml:"node_timeout" json:"node_timeout"`
	RepetitionWindow    int           `yaml:"repetition_window" json:"repetition_window"`
	RepetitionMinUnique int           `yaml:"repetition_min_unique" json:"repetition_min_unique"`
}

// DefaultConfig returns the limits the reading group runs with.
func DefaultConfig() Config {
	return Config{
		MaxHandoffs:         15,
		MaxIterations:       15,
		Timeout:             120 * time.Second,
		NodeTimeout:         20 * time.Second,
		RepetitionWindow:    6,
		RepetitionMinUnique: 2,
	}
}

func (c Config) validate() error {
	var errs []error
	if c.MaxHandoffs < 0 {
		errs = append(errs, errors.New("max_handoffs must not be negative"))
	}
	if c.MaxIterations < 1 {
		errs = append(errs, errors.New("max_iterations must be at least 1"))
	}
	if c.MaxIterations < c.MaxHandoffs {
		errs = append(errs, fmt.Errorf("max_iterations %d is below max_handoffs %d", c.MaxIterations, c.MaxHandoffs))
	}
	if c.Timeout <= 0 || c.NodeTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	} else if c.NodeTimeout > c.Timeout {
		errs = append(errs, fmt.Errorf("node_timeout %s exceeds timeout %s", c.NodeTimeout, c.Timeout))
	}
	if c.RepetitionWindow < 0 || c.RepetitionMinUnique < 0 {
		errs = append(errs, errors.New("repetition limits must not be negative"))
	}
	return errors.Join(errs...)
}

// Hooks observe group control flow.
type Hooks struct {
	OnHandoff func(ctx context.Context, from, to string)
	OnAbort   func(ctx context.Context, reason error)
}

// Option configures a Swarm.
type Option func(*Swarm)

// WithHooks installs observers.
func WithHooks(h Hooks) Option {
	return func(s *Swarm) { s.hooks = h }
}

// WithLogger sets the group's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Swarm) { s.logger = l }
}

// Swarm is an immutable handoff group. It implements graph.Executor.
type Swarm struct {
	name    string
	cfg     Config
	members map[string]*agent.Agent
	order   []string
	hooks   Hooks
	logger  *slog.Logger
}

// New builds a group named name. Each member is given the handoff tool listing
// every other member. An empty cfg.Entry selects the first member.
func New(name string, cfg Config, members []*agent.Agent, opts ...Option) (*Swarm, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("swarm %s: no members", name)
	}
	if cfg.Entry == "" {
		cfg.Entry = members[0].Name()
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("swarm %s: %w", name, err)
	}

	s := &Swarm{
		name:    name,
		cfg:     cfg,
		members: make(map[string]*agent.Agent, len(members)),
		logger:  slog.Default(),
	}
	for _, m := range members {
		if _, dup := s.members[m.Name()]; dup {
			return nil, fmt.Errorf("swarm %s: duplicate member %q", name, m.Name())
		}
		s.members[m.Name()] = m
		s.order = append(s.order, m.Name())
	}
	if _, ok := s.members[cfg.Entry]; !ok {
		return nil, fmt.Errorf("swarm %s: entry %q is not a member", name, cfg.Entry)
	}

	for _, m := range members {
		var peers []agent.Peer
		for _, other := range members {
			if other.Name() != m.Name() {
				peers = append(peers, agent.Peer{Name: other.Name(), Description: other.Description()})
			}
		}
		s.members[m.Name()] = m.WithPeers(peers)
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name returns the group name.
func (s *Swarm) Name() string { return s.name }

// Members returns member names in declaration order.
func (s *Swarm) Members() []string { return append([]string(nil), s.order...) }

// Config returns the group limits.
func (s *Swarm) Config() Config { return s.cfg }

// Execute runs the group. It never returns an error: guard aborts, agent
// failures and deadlines are reported in the SwarmResult with the partial
// history preserved.
func (s *Swarm) Execute(ctx context.Context, task string) graph.NodeResult {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	res := &graph.SwarmResult{
		Status:  graph.StatusCompleted,
		Results: make(map[string]graph.NodeResult),
	}

	current := s.cfg.Entry
	input := task
	for {
		if res.Iterations >= s.cfg.MaxIterations {
			s.abort(ctx, res, graph.StatusFailed, fmt.Errorf("%w: %d iterations", ErrHandoffBudgetExceeded, res.Iterations))
			break
		}

		res.History = append(res.History, current)
		res.Iterations++
		nr := s.invoke(ctx, current, input)
		res.Results[current] = nr

		if nr.Status != graph.StatusCompleted {
			s.abort(ctx, res, nr.Status, nr.Err)
			break
		}

		out := nr.Completion.Outcome()
		if out.Terminal {
			break
		}

		if res.Handoffs >= s.cfg.MaxHandoffs {
			s.abort(ctx, res, graph.StatusFailed, fmt.Errorf("%w: %d handoffs", ErrHandoffBudgetExceeded, res.Handoffs))
			break
		}
		if s.repetitive(res.History) {
			s.abort(ctx, res, graph.StatusFailed, fmt.Errorf("%w: last %d agents %v", ErrRepetitiveHandoff,
				s.cfg.RepetitionWindow, res.History[len(res.History)-s.cfg.RepetitionWindow:]))
			break
		}
		if _, ok := s.members[out.Next]; !ok {
			s.abort(ctx, res, graph.StatusFailed, fmt.Errorf("%w: %q", ErrUnknownAgent, out.Next))
			break
		}

		if s.hooks.OnHandoff != nil {
			s.hooks.OnHandoff(ctx, current, out.Next)
		}
		s.logger.DebugContext(ctx, "swarm handoff", "swarm", s.name, "from", current, "to", out.Next, "handoffs", res.Handoffs+1)
		res.Handoffs++
		input = s.handoffInput(task, nr.Completion.Handoff, current, res)
		current = out.Next
	}

	return graph.SwarmNodeResult(s.name, res)
}

func (s *Swarm) invoke(ctx context.Context, name, input string) graph.NodeResult {
	nodeCtx, cancel := context.WithTimeout(ctx, s.cfg.NodeTimeout)
	defer cancel()

	start := time.Now()
	c, err := s.members[name].Respond(nodeCtx, input)
	var nr graph.NodeResult
	switch {
	case err == nil:
		nr = graph.CompletionResult(name, c)
	case errors.Is(err, context.DeadlineExceeded):
		nr = graph.AgentFailure(name, graph.StatusTimedOut, fmt.Errorf("%w: %w", graph.ErrNodeTimeout, err))
	default:
		nr = graph.AgentFailure(name, graph.StatusFailed, err)
	}
	nr.Duration = time.Since(start)
	return nr
}

// repetitive reports whether the trailing window of history holds fewer than
// RepetitionMinUnique distinct agents. A zero window disables the check.
func (s *Swarm) repetitive(history []string) bool {
	w := s.cfg.RepetitionWindow
	if w <= 0 || len(history) < w {
		return false
	}
	seen := make(map[string]struct{}, w)
	for _, name := range history[len(history)-w:] {
		seen[name] = struct{}{}
	}
	return len(seen) < s.cfg.RepetitionMinUnique
}

func (s *Swarm) abort(ctx context.Context, res *graph.SwarmResult, status graph.Status, err error) {
	res.Status = status
	res.Err = err
	s.logger.WarnContext(ctx, "swarm aborted", "swarm", s.name, "status", status, "history", res.History, "error", err)
	if s.hooks.OnAbort != nil {
		s.hooks.OnAbort(ctx, err)
	}
}

// handoffInput is what the next agent sees: the user's request, the handoff
// note, who worked on it so far and what they produced.
func (s *Swarm) handoffInput(task string, h *agent.Handoff, from string, res *graph.SwarmResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Handoff from %s", from)
	if h != nil && h.Message != "" {
		fmt.Fprintf(&sb, ": %s", h.Message)
	}
	fmt.Fprintf(&sb, "\n\nUser request: %s\n\nAgents who worked on this so far: %s\n", task, strings.Join(res.History, " -> "))

	var shared []string
	for _, name := range s.order {
		r, ok := res.Results[name]
		if !ok || r.Completion == nil {
			continue
		}
		if text := strings.TrimSpace(r.Completion.Text); text != "" {
			shared = append(shared, fmt.Sprintf("%s: %s", name, text))
		}
		for _, tc := range r.Completion.ToolCalls {
			shared = append(shared, fmt.Sprintf("%s used %s: %s", name, tc.ToolName, tc.Output))
		}
	}
	if len(shared) > 0 {
		sb.WriteString("\nWork so far:\n")
		for _, line := range shared {
			sb.WriteString("- ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
