// Package orchestrator runs one conversational turn: load history, build and
// execute the routing graph, normalize its result and persist the exchange.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/szaher/augur/internal/llm"
	"github.com/szaher/augur/internal/normalize"
	"github.com/szaher/augur/internal/session"
	"github.com/szaher/augur/internal/telemetry"
	"github.com/szaher/augur/internal/topology"
)

// DefaultHistoryEvents is how many past events are loaded per turn.
const DefaultHistoryEvents = 10

var ErrEmptyPrompt = errors.New("prompt is empty")

// Request is one inbound turn.
type Request struct {
	Prompt    string `json:"prompt"`
	ActorID   string `json:"actor_id"`
	SessionID string `json:"session_id"`
}

// Response is the answer to one turn.
type Response struct {
	Response  string   `json:"response"`
	Agent     string   `json:"agent"`
	SessionID string   `json:"session_id"`
	CardList  []string `json:"card_list"`
}

// GraphBuilder builds a graph bound to one turn's history.
// *topology.Builder satisfies it.
type GraphBuilder interface {
	Build(input string, history []llm.Message, logger *slog.Logger) (*topology.Turn, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHistoryEvents sets how many past events are loaded.
func WithHistoryEvents(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.historyEvents = n
		}
	}
}

// WithFallback sets the apology used when no answer can be recovered.
func WithFallback(text string) Option {
	return func(o *Orchestrator) { o.fallback = text }
}

// WithMetrics records turn outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// Orchestrator is safe for concurrent use; turns share nothing mutable.
type Orchestrator struct {
	store         session.Store
	builder       GraphBuilder
	historyEvents int
	fallback      string
	metrics       *telemetry.Metrics
	logger        *slog.Logger
}

// New creates an orchestrator.
func New(store session.Store, builder GraphBuilder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:         store,
		builder:       builder,
		historyEvents: DefaultHistoryEvents,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle runs one turn. Failures the routing graph absorbs come back as the
// fallback answer; everything else (history store, classifier, graph
// deadline, branch generation) is returned as an error and nothing is
// persisted.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	key := session.NewKey(req.ActorID, req.SessionID)
	logger := telemetry.RequestLogger(ctx, o.logger, key.ActorID, key.SessionID)
	start := time.Now()

	events, err := o.store.List(ctx, key, o.historyEvents)
	if err != nil {
		o.historyFailed()
		o.outcome("", telemetry.OutcomeError)
		return nil, fmt.Errorf("load history: %w", err)
	}
	history := session.Messages(events)

	turn, err := o.builder.Build(req.Prompt, history, logger)
	if err != nil {
		o.outcome("", telemetry.OutcomeError)
		return nil, fmt.Errorf("build graph: %w", err)
	}

	state, err := turn.Graph.Execute(ctx, req.Prompt)
	if err != nil {
		branch := ""
		if state != nil {
			branch = state.Branch
		}
		o.outcome(branch, telemetry.OutcomeError)
		return nil, fmt.Errorf("execute graph: %w", err)
	}
	if state.RouteErr != nil {
		logger.WarnContext(ctx, "no branch selected", "classifier", state.EntryText(), "error", state.RouteErr)
	}

	res := normalize.Normalize(state, normalize.Options{
		ReadingBranch: topology.ReadingBranch,
		Fallback:      o.fallback,
	})

	if res.Answer != "" {
		if err := o.store.Append(ctx, key, session.Pair(req.Prompt, res.Answer)); err != nil {
			o.historyFailed()
			o.outcome(res.Branch, telemetry.OutcomeError)
			return nil, fmt.Errorf("persist turn: %w", err)
		}
	}

	outcome := telemetry.OutcomeAnswered
	if res.Fallback {
		outcome = telemetry.OutcomeFallback
	}
	o.outcome(res.Branch, outcome)
	logger.InfoContext(ctx, "turn complete",
		"branch", res.Branch,
		"outcome", outcome,
		"cards", len(res.Cards),
		"history_events", len(events),
		slog.Group("tokens", tokenAttrs(turn)...),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Response{
		Response:  res.Answer,
		Agent:     res.Branch,
		SessionID: key.SessionID,
		CardList:  res.Cards,
	}, nil
}

func (o *Orchestrator) outcome(branch, outcome string) {
	if o.metrics == nil {
		return
	}
	if branch == "" {
		branch = "none"
	}
	o.metrics.Turns.WithLabelValues(branch, outcome).Inc()
}

func (o *Orchestrator) historyFailed() {
	if o.metrics != nil {
		o.metrics.HistoryErrors.Inc()
	}
}

// tokenAttrs summarizes the turn's spend. remaining is -1 without a budget.
func tokenAttrs(t *topology.Turn) []any {
	if t.Tokens == nil {
		return nil
	}
	u := t.Tokens.Usage()
	return []any{
		"input", u.InputTokens,
		"output", u.OutputTokens,
		"calls", t.Tokens.Calls(),
		"remaining", t.Tokens.Remaining(),
	}
}
