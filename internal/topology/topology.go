// Package topology assembles the per-turn routing graph: a classifier entry
// node and one branch per route label, the tarot branch being a handoff group.
package topology

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/szaher/augur/internal/agent"
	"github.com/szaher/augur/internal/expr"
	"github.com/szaher/augur/internal/graph"
	"github.com/szaher/augur/internal/llm"
	"github.com/szaher/augur/internal/prompts"
	"github.com/szaher/augur/internal/routes"
	"github.com/szaher/augur/internal/swarm"
	"github.com/szaher/augur/internal/telemetry"
	"github.com/szaher/augur/internal/tools"
)

// Agent and node names.
const (
	Router          = "router"
	SpreadReader    = "spread_reader"
	CardInterpreter = "card_interpreter"
	LifeAdvisor     = "life_advisor"
)

// ReadingBranch is the branch whose answer carries drawn cards.
const ReadingBranch = string(routes.Tarot)

// AgentNames lists every agent the graph needs a prompt for.
var AgentNames = []string{Router, string(routes.Welcome), string(routes.Numerology), SpreadReader, CardInterpreter, LifeAdvisor}

var ErrPromptsNotLoaded = errors.New("prompts not loaded")

// AgentSpec overrides per-agent defaults.
type AgentSpec struct {
	Model       string   `yaml:"model,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Tools       []string `yaml:"tools,omitempty"`
}

// Config shapes the graph.
type Config struct {
	ExecutionTimeout time.Duration           `yaml:"execution_timeout"`
	NodeTimeout      time.Duration           `yaml:"node_timeout"`
	Swarm            swarm.Config            `yaml:"swarm"`
	Agents           map[string]AgentSpec    `yaml:"agents,omitempty"`
	Conditions       map[routes.Label]string `yaml:"conditions,omitempty"`
	MaxToolTurns     int                     `yaml:"max_tool_turns,omitempty"`
	// TokenBudget caps tokens per turn across all agents. Zero is unlimited.
	TokenBudget int `yaml:"token_budget,omitempty"`
}

// DefaultConfig returns the production shape.
func DefaultConfig() Config {
	sw := swarm.DefaultConfig()
	sw.Entry = SpreadReader
	return Config{
		ExecutionTimeout: graph.DefaultExecutionTimeout,
		NodeTimeout:      graph.DefaultNodeTimeout,
		Swarm:            sw,
		Agents: map[string]AgentSpec{
			SpreadReader:    {Description: "Draws the cards and lays out the spread", Tools: []string{tools.DrawToolName}},
			CardInterpreter: {Description: "Explains what each drawn card means in its position"},
			LifeAdvisor:     {Description: "Turns the reading into practical guidance for the seeker"},
		},
	}
}

// Binding pairs a client with the model it serves.
type Binding struct {
	Client llm.Client
	Model  string
}

// Deps are the shared, read-only collaborators.
type Deps struct {
	Prompts interface{ Snapshot() *prompts.Snapshot }
	Default Binding
	// Models holds clients for models named in AgentSpec.Model.
	Models  map[string]Binding
	Tools   *tools.Registry
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Builder builds one graph per turn. It is safe for concurrent use.
type Builder struct {
	cfg        Config
	deps       Deps
	conditions map[routes.Label]*expr.CompiledExpr
	toolsets   map[string]*tools.Registry
}

// New validates cfg against deps. Tool bindings and edge conditions are
// resolved here so a bad configuration fails at startup.
func New(cfg Config, deps Deps) (*Builder, error) {
	if deps.Prompts == nil {
		return nil, errors.New("topology: prompt source is required")
	}
	if deps.Default.Client == nil {
		return nil, errors.New("topology: default client is required")
	}
	if deps.Tools == nil {
		deps.Tools = tools.NewRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.Swarm.Entry == "" {
		cfg.Swarm.Entry = SpreadReader
	}

	b := &Builder{
		cfg:        cfg,
		deps:       deps,
		conditions: make(map[routes.Label]*expr.CompiledExpr),
		toolsets:   make(map[string]*tools.Registry),
	}
	for label, src := range cfg.Conditions {
		if !label.Valid() {
			return nil, fmt.Errorf("topology: condition for unknown route %q", label)
		}
		c, err := expr.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("topology: route %s: %w", label, err)
		}
		b.conditions[label] = c
	}
	for name, spec := range cfg.Agents {
		if spec.Model != "" {
			if _, ok := deps.Models[spec.Model]; !ok {
				return nil, fmt.Errorf("topology: agent %s uses model %q with no client", name, spec.Model)
			}
		}
		if len(spec.Tools) == 0 {
			continue
		}
		sub, err := deps.Tools.Subset(spec.Tools...)
		if err != nil {
			return nil, fmt.Errorf("topology: agent %s: %w", name, err)
		}
		b.toolsets[name] = sub
	}
	return b, nil
}

// Turn is a graph bound to one request's history.
type Turn struct {
	Graph  *graph.Graph
	Tokens *llm.TokenTracker
}

// Build wires the graph for one turn. input is the user's message; it is
// exposed to edge conditions. history goes to branch agents only; the
// classifier always sees the bare message.
func (b *Builder) Build(input string, history []llm.Message, logger *slog.Logger) (*Turn, error) {
	snap := b.deps.Prompts.Snapshot()
	if snap == nil {
		return nil, ErrPromptsNotLoaded
	}
	if logger == nil {
		logger = b.deps.Logger
	}
	tracker := llm.NewTokenTracker(b.cfg.TokenBudget)

	mk := func(name string, extra string) (*agent.Agent, error) {
		p, ok := snap.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: no prompt bound to %s", prompts.ErrNotFound, name)
		}
		spec := b.cfg.Agents[name]
		bind := b.deps.Default
		if spec.Model != "" {
			bind = b.deps.Models[spec.Model]
		}
		opts := []agent.Option{
			agent.WithDescription(spec.Description),
			agent.WithSettings(agent.Settings{
				MaxTokens:    p.Inference.MaxTokens,
				Temperature:  p.Inference.Temperature,
				TopP:         p.Inference.TopP,
				MaxToolTurns: b.cfg.MaxToolTurns,
			}),
			agent.WithTokenTracker(tracker),
			agent.WithLogger(logger.With("agent", name)),
		}
		if ts, ok := b.toolsets[name]; ok {
			opts = append(opts, agent.WithTools(ts))
		}
		return agent.New(name, p.Text+extra, bind.Client, bind.Model, opts...), nil
	}

	router, err := mk(Router, routes.ClassifierInstruction())
	if err != nil {
		return nil, err
	}
	welcome, err := mk(string(routes.Welcome), "")
	if err != nil {
		return nil, err
	}
	numerology, err := mk(string(routes.Numerology), "")
	if err != nil {
		return nil, err
	}

	var members []*agent.Agent
	for _, name := range []string{SpreadReader, CardInterpreter, LifeAdvisor} {
		a, err := mk(name, "")
		if err != nil {
			return nil, err
		}
		members = append(members, a.WithHistory(history))
	}
	reading, err := swarm.New(ReadingBranch, b.cfg.Swarm, members,
		swarm.WithHooks(telemetry.SwarmHooks(logger, b.deps.Metrics)),
		swarm.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	gb := graph.NewBuilder().
		AddAgent(router).
		AddAgent(welcome.WithHistory(history)).
		AddAgent(numerology.WithHistory(history)).
		AddNode(ReadingBranch, reading).
		SetEntryPoint(Router).
		SetHooks(telemetry.GraphHooks(logger, b.deps.Metrics)).
		SetLogger(logger)
	if b.cfg.ExecutionTimeout > 0 {
		gb.SetExecutionTimeout(b.cfg.ExecutionTimeout)
	}
	if b.cfg.NodeTimeout > 0 {
		gb.SetNodeTimeout(b.cfg.NodeTimeout)
	}
	for _, label := range routes.Labels {
		gb.AddEdge(Router, string(label), b.predicate(label, input, logger))
	}

	g, err := gb.Build()
	if err != nil {
		return nil, err
	}
	return &Turn{Graph: g, Tokens: tracker}, nil
}

func (b *Builder) predicate(label routes.Label, input string, logger *slog.Logger) graph.Predicate {
	if c, ok := b.conditions[label]; ok {
		return routes.ExprPredicate(c, input, logger)
	}
	return routes.Predicate(label)
}

// DefaultBindings binds every agent to version 1 of the prompt sharing its
// name, which is how the built-in catalog is laid out.
func DefaultBindings() map[string]string {
	m := make(map[string]string, len(AgentNames))
	for _, n := range AgentNames {
		m[n] = n + ":1"
	}
	return m
}
