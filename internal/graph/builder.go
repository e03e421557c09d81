package graph

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/szaher/augur/internal/agent"
)

// Builder assembles a Graph. Methods chain; validation errors are collected
// and returned by Build.
type Builder struct {
	nodes       map[string]Executor
	edges       []Edge
	entry       string
	execTimeout time.Duration
	nodeTimeout time.Duration
	hooks       Hooks
	logger      *slog.Logger
	errs        []error
}

// NewBuilder creates a builder with the default timeouts.
func NewBuilder() *Builder {
	return &Builder{
		nodes:       make(map[string]Executor),
		execTimeout: DefaultExecutionTimeout,
		nodeTimeout: DefaultNodeTimeout,
		logger:      slog.Default(),
	}
}

// AddNode registers exec under name.
func (b *Builder) AddNode(name string, exec Executor) *Builder {
	if name == "" {
		b.errs = append(b.errs, errors.New("node name is empty"))
		return b
	}
	if _, dup := b.nodes[name]; dup {
		b.errs = append(b.errs, fmt.Errorf("duplicate node %q", name))
		return b
	}
	b.nodes[name] = exec
	return b
}

// AddAgent registers an agent under its own name.
func (b *Builder) AddAgent(a *agent.Agent) *Builder {
	return b.AddNode(a.Name(), AgentNode{Agent: a})
}

// AddEdge adds a conditional edge. A nil condition always matches.
func (b *Builder) AddEdge(from, to string, cond Predicate) *Builder {
	b.edges = append(b.edges, Edge{From: from, To: to, Condition: cond})
	return b
}

// SetEntryPoint names the classifier node.
func (b *Builder) SetEntryPoint(name string) *Builder {
	b.entry = name
	return b
}

// SetExecutionTimeout bounds total wall time of one Execute.
func (b *Builder) SetExecutionTimeout(d time.Duration) *Builder {
	b.execTimeout = d
	return b
}

// SetNodeTimeout bounds each node individually.
func (b *Builder) SetNodeTimeout(d time.Duration) *Builder {
	b.nodeTimeout = d
	return b
}

// SetHooks installs node observers.
func (b *Builder) SetHooks(h Hooks) *Builder {
	b.hooks = h
	return b
}

// SetLogger sets the graph's logger.
func (b *Builder) SetLogger(l *slog.Logger) *Builder {
	if l != nil {
		b.logger = l
	}
	return b
}

// Build validates the topology. Every edge must leave the entry node for a
// non-entry node, and the node deadline may not exceed the graph deadline.
func (b *Builder) Build() (*Graph, error) {
	errs := append([]error(nil), b.errs...)

	if b.entry == "" {
		errs = append(errs, errors.New("entry point not set"))
	} else if _, ok := b.nodes[b.entry]; !ok {
		errs = append(errs, fmt.Errorf("entry point %q is not a node", b.entry))
	}
	for _, e := range b.edges {
		if e.From != b.entry {
			errs = append(errs, fmt.Errorf("edge %s->%s does not leave the entry point", e.From, e.To))
		}
		if _, ok := b.nodes[e.To]; !ok {
			errs = append(errs, fmt.Errorf("edge %s->%s targets unknown node", e.From, e.To))
		}
		if e.To == b.entry {
			errs = append(errs, fmt.Errorf("edge %s->%s loops back to the entry point", e.From, e.To))
		}
	}
	if b.execTimeout <= 0 || b.nodeTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	} else if b.nodeTimeout > b.execTimeout {
		errs = append(errs, fmt.Errorf("node timeout %s exceeds execution timeout %s", b.nodeTimeout, b.execTimeout))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}

	nodes := make(map[string]Executor, len(b.nodes))
	for k, v := range b.nodes {
		nodes[k] = v
	}
	return &Graph{
		nodes:       nodes,
		edges:       append([]Edge(nil), b.edges...),
		entry:       b.entry,
		execTimeout: b.execTimeout,
		nodeTimeout: b.nodeTimeout,
		hooks:       b.hooks,
		logger:      b.logger,
	}, nil
}
