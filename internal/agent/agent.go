// Package agent implements a named response generator: one system instruction,
// one model, an optional tool set and the conversation history it was bound to.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/szaher/augur/internal/llm"
)

var (
	// ErrGeneration wraps failures of the generation backend.
	ErrGeneration = errors.New("generation failed")
	// ErrTool wraps failures of a tool invoked by the model.
	ErrTool = errors.New("tool failed")
)

const defaultMaxToolTurns = 8

// ToolExecutor dispatches tool calls. *tools.Registry satisfies it.
type ToolExecutor interface {
	Execute(ctx context.Context, call llm.ToolCall) (string, error)
	Definitions() []llm.ToolDefinition
}

// Settings are per-agent inference parameters.
type Settings struct {
	MaxTokens    int
	Temperature  *float64
	TopP         *float64
	MaxToolTurns int
}

// ToolCallRecord is an audit record of a single tool invocation.
type ToolCallRecord struct {
	ID       string         `json:"id"`
	ToolName string         `json:"tool_name"`
	Input    map[string]any `json:"input"`
	Output   string         `json:"output"`
	Duration time.Duration  `json:"duration"`
}

// Completion is the result of one Respond call.
type Completion struct {
	Text      string           `json:"text"`
	Handoff   *Handoff         `json:"handoff,omitempty"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	Usage     llm.TokenUsage   `json:"usage"`
	Turns     int              `json:"turns"`
}

// Outcome says whether the completion ends the agent's work or passes control.
type Outcome struct {
	Terminal bool
	Next     string
}

// Outcome reports the handoff decision carried by c.
func (c *Completion) Outcome() Outcome {
	if c.Handoff == nil {
		return Outcome{Terminal: true}
	}
	return Outcome{Next: c.Handoff.Target}
}

// Agent is immutable once built; WithHistory and WithPeers return copies so a
// shared template can be bound to each request's history.
type Agent struct {
	name        string
	description string
	instruction string
	model       string
	client      llm.Client
	tools       ToolExecutor
	history     []llm.Message
	settings    Settings
	peers       []Peer
	tracker     *llm.TokenTracker
	logger      *slog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithTools sets the tools the agent may call.
func WithTools(t ToolExecutor) Option {
	return func(a *Agent) { a.tools = t }
}

// WithDescription sets the one-line summary peers see in a handoff group.
func WithDescription(d string) Option {
	return func(a *Agent) { a.description = d }
}

// WithSettings sets inference parameters.
func WithSettings(s Settings) Option {
	return func(a *Agent) { a.settings = s }
}

// WithTokenTracker makes every generation call check and record against t.
func WithTokenTracker(t *llm.TokenTracker) Option {
	return func(a *Agent) { a.tracker = t }
}

// WithLogger sets the agent's logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// New creates an agent.
func New(name, instruction string, client llm.Client, model string, opts ...Option) *Agent {
	a := &Agent{
		name:        name,
		instruction: instruction,
		model:       model,
		client:      client,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the agent's unique name.
func (a *Agent) Name() string { return a.name }

// Description returns the summary shown to handoff peers.
func (a *Agent) Description() string { return a.description }

// Instruction returns the system instruction.
func (a *Agent) Instruction() string { return a.instruction }

// History returns a copy of the bound history.
func (a *Agent) History() []llm.Message {
	return append([]llm.Message(nil), a.history...)
}

// WithHistory returns a copy of a bound to history.
func (a *Agent) WithHistory(history []llm.Message) *Agent {
	cp := *a
	cp.history = append([]llm.Message(nil), history...)
	return &cp
}

// WithPeers returns a copy of a that may hand off to peers via the handoff tool.
func (a *Agent) WithPeers(peers []Peer) *Agent {
	cp := *a
	cp.peers = append([]Peer(nil), peers...)
	return &cp
}

// Respond generates a reply to input given the bound history. Tool calls are
// executed sequentially until the model answers without one. A handoff tool
// call stops the loop and is reported in the Completion.
func (a *Agent) Respond(ctx context.Context, input string) (*Completion, error) {
	maxTurns := a.settings.MaxToolTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxToolTurns
	}
	maxTokens := a.settings.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}

	messages := make([]llm.Message, 0, len(a.history)+1)
	messages = append(messages, a.history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: input})

	var defs []llm.ToolDefinition
	if a.tools != nil {
		defs = a.tools.Definitions()
	}
	system := a.instruction
	if len(a.peers) > 0 {
		defs = append(defs, handoffDefinition(a.peers))
		system += peerInstruction(a.name, a.peers)
	}

	out := &Completion{}
	for turn := 0; turn < maxTurns; turn++ {
		out.Turns++

		if a.tracker != nil {
			if err := a.tracker.CheckBudget(maxTokens); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrGeneration, a.name, err)
			}
		}

		resp, err := a.client.Chat(ctx, llm.ChatRequest{
			Model:       a.model,
			Messages:    messages,
			System:      system,
			Tools:       defs,
			MaxTokens:   maxTokens,
			Temperature: a.settings.Temperature,
			TopP:        a.settings.TopP,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrGeneration, a.name, err)
		}
		out.Usage = out.Usage.Add(resp.Usage)
		if a.tracker != nil {
			a.tracker.Add(resp.Usage)
		}
		out.Text = resp.Content

		if len(resp.ToolCalls) == 0 {
			return out, nil
		}

		if h, ok, err := findHandoff(resp.ToolCalls); ok {
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrTool, a.name, err)
			}
			// Calls made next to the handoff still run so their output
			// reaches the next agent.
			if others := withoutHandoff(resp.ToolCalls); len(others) > 0 {
				if a.tools == nil {
					a.logger.WarnContext(ctx, "discarding tool calls made with a handoff", "agent", a.name, "calls", len(others))
				} else if _, err := a.runTools(ctx, others, out); err != nil {
					return nil, err
				}
			}
			out.Handoff = h
			a.logger.DebugContext(ctx, "agent requested handoff", "agent", a.name, "target", h.Target)
			return out, nil
		}

		if a.tools == nil {
			return nil, fmt.Errorf("%w: %s: model called %q but agent has no tools", ErrTool, a.name, resp.ToolCalls[0].Name)
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		results, err := a.runTools(ctx, resp.ToolCalls, out)
		if err != nil {
			return nil, err
		}
		messages = append(messages, results...)
	}

	return nil, fmt.Errorf("%w: %s: no final answer after %d tool turns", ErrGeneration, a.name, maxTurns)
}

// runTools executes calls in order, records them on out and returns the
// tool-result messages for the next model turn.
func (a *Agent) runTools(ctx context.Context, calls []llm.ToolCall, out *Completion) ([]llm.Message, error) {
	results := make([]llm.Message, 0, len(calls))
	for _, tc := range calls {
		start := time.Now()
		output, err := a.tools.Execute(ctx, tc)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %s: %w", ErrTool, a.name, tc.Name, err)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCallRecord{
			ID:       tc.ID,
			ToolName: tc.Name,
			Input:    tc.Input,
			Output:   output,
			Duration: time.Since(start),
		})
		results = append(results, llm.Message{
			Role:       llm.RoleUser,
			ToolResult: &llm.ToolResult{ToolUseID: tc.ID, Name: tc.Name, Content: output},
		})
	}
	return results, nil
}
