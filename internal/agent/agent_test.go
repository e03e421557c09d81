package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/szaher/augur/internal/llm"
	"github.com/szaher/augur/internal/tools"
)

func TestRespondPlainText(t *testing.T) {
	client := llm.NewMockClient(llm.MockResponse{Content: "hello there", Usage: llm.TokenUsage{InputTokens: 3, OutputTokens: 2}})
	history := []llm.Message{
		{Role: llm.RoleUser, Content: "earlier question"},
		{Role: llm.RoleAssistant, Content: "earlier answer"},
	}
	a := New("welcome", "Greet the user.", client, "test-model").WithHistory(history)

	c, err := a.Respond(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", c.Text)
	assert.Nil(t, c.Handoff)
	assert.Equal(t, Outcome{Terminal: true}, c.Outcome())
	assert.Equal(t, 5, c.Usage.Total())

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Greet the user.", calls[0].System)
	assert.Equal(t, "test-model", calls[0].Model)
	require.Len(t, calls[0].Messages, 3)
	assert.Equal(t, "hi", calls[0].Messages[2].Content)
	assert.Empty(t, calls[0].Tools)
}

func TestWithHistoryDoesNotMutateTemplate(t *testing.T) {
	template := New("a", "x", llm.NewMockClient(llm.MockResponse{Content: "ok"}), "m")
	bound := template.WithHistory([]llm.Message{{Role: llm.RoleUser, Content: "h"}})

	assert.Empty(t, template.History())
	assert.Len(t, bound.History(), 1)
}

func TestRespondRunsTools(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockResponse{
			Content:    "let me draw",
			ToolCalls:  []llm.ToolCall{{ID: "t1", Name: tools.DrawToolName, Input: map[string]any{"num_cards": 2}}},
			StopReason: llm.StopToolUse,
		},
		llm.MockResponse{Content: "Your cards are in. CARDS: [The Fool, The Sun]"},
	)
	reg := tools.NewRegistry()
	reg.Register(tools.DrawDefinition, tools.ExecutorFunc(func(context.Context, map[string]any) (string, error) {
		return "CARDS: [The Fool, The Sun]", nil
	}))

	c, err := New("spread_reader", "Draw cards.", client, "m", WithTools(reg)).Respond(context.Background(), "reading please")
	require.NoError(t, err)
	assert.Equal(t, "Your cards are in. CARDS: [The Fool, The Sun]", c.Text)
	require.Len(t, c.ToolCalls, 1)
	assert.Equal(t, "CARDS: [The Fool, The Sun]", c.ToolCalls[0].Output)
	assert.Equal(t, 2, c.Turns)

	second := client.Calls()[1]
	last := second.Messages[len(second.Messages)-1]
	require.NotNil(t, last.ToolResult)
	assert.Equal(t, "t1", last.ToolResult.ToolUseID)
}

func TestRespondToolFailure(t *testing.T) {
	client := llm.NewMockClient(llm.MockResponse{
		ToolCalls: []llm.ToolCall{{ID: "t1", Name: "broken"}},
	})
	reg := tools.NewRegistry()
	reg.Register(llm.ToolDefinition{Name: "broken"}, tools.ExecutorFunc(func(context.Context, map[string]any) (string, error) {
		return "", errors.New("backend down")
	}))

	_, err := New("n", "x", client, "m", WithTools(reg)).Respond(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTool)
	assert.NotErrorIs(t, err, ErrGeneration)
}

func TestRespondGenerationFailure(t *testing.T) {
	backend := errors.New("503 from backend")
	client := llm.NewMockClient(llm.MockResponse{Error: backend})

	_, err := New("n", "x", client, "m").Respond(context.Background(), "q")
	assert.ErrorIs(t, err, ErrGeneration)
	assert.ErrorIs(t, err, backend)
	assert.Len(t, client.Calls(), 1, "no retries")
}

func TestRespondDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()

	_, err := New("n", "x", llm.NewMockClient(llm.MockResponse{Content: "late"}), "m").Respond(ctx, "q")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRespondHandoff(t *testing.T) {
	client := llm.NewMockClient(llm.MockResponse{
		Content: "passing on",
		ToolCalls: []llm.ToolCall{{
			ID:    "h1",
			Name:  HandoffToolName,
			Input: map[string]any{"agent_name": "card_interpreter", "message": "interpret these"},
		}},
	})
	peers := []Peer{{Name: "spread_reader"}, {Name: "card_interpreter", Description: "explains cards"}}
	a := New("spread_reader", "Draw.", client, "m").WithPeers(peers)

	c, err := a.Respond(context.Background(), "q")
	require.NoError(t, err)
	require.NotNil(t, c.Handoff)
	assert.Equal(t, "card_interpreter", c.Handoff.Target)
	assert.Equal(t, "interpret these", c.Handoff.Message)
	assert.Equal(t, Outcome{Next: "card_interpreter"}, c.Outcome())

	req := client.Calls()[0]
	require.Len(t, req.Tools, 1)
	assert.Equal(t, HandoffToolName, req.Tools[0].Name)
	assert.Contains(t, req.System, "card_interpreter: explains cards")
	assert.NotContains(t, req.System, "- spread_reader")
}

func TestRespondHandoffWithoutTarget(t *testing.T) {
	client := llm.NewMockClient(llm.MockResponse{
		ToolCalls: []llm.ToolCall{{ID: "h1", Name: HandoffToolName, Input: map[string]any{}}},
	})
	_, err := New("a", "x", client, "m").WithPeers([]Peer{{Name: "b"}}).Respond(context.Background(), "q")
	assert.ErrorIs(t, err, ErrTool)
}

func TestRespondHandoffRunsSiblingToolCalls(t *testing.T) {
	client := llm.NewMockClient(llm.MockResponse{
		Content: "drawing, then passing on",
		ToolCalls: []llm.ToolCall{
			{ID: "t1", Name: tools.DrawToolName, Input: map[string]any{"num_cards": 1}},
			{ID: "h1", Name: HandoffToolName, Input: map[string]any{"agent_name": "card_interpreter"}},
		},
		StopReason: llm.StopToolUse,
	})
	reg := tools.NewRegistry()
	reg.Register(tools.DrawDefinition, tools.ExecutorFunc(func(context.Context, map[string]any) (string, error) {
		return "CARDS: [The Moon]", nil
	}))
	a := New("spread_reader", "Draw.", client, "m", WithTools(reg)).
		WithPeers([]Peer{{Name: "card_interpreter"}})

	c, err := a.Respond(context.Background(), "one card")
	require.NoError(t, err)
	require.NotNil(t, c.Handoff)
	assert.Equal(t, "card_interpreter", c.Handoff.Target)
	require.Len(t, c.ToolCalls, 1)
	assert.Equal(t, tools.DrawToolName, c.ToolCalls[0].ToolName)
	assert.Equal(t, "CARDS: [The Moon]", c.ToolCalls[0].Output)
	assert.Len(t, client.Calls(), 1, "the handoff ends the turn")
}

func TestRespondHandoffSiblingToolFailure(t *testing.T) {
	client := llm.NewMockClient(llm.MockResponse{
		ToolCalls: []llm.ToolCall{
			{ID: "t1", Name: "broken"},
			{ID: "h1", Name: HandoffToolName, Input: map[string]any{"agent_name": "b"}},
		},
	})
	reg := tools.NewRegistry()
	reg.Register(llm.ToolDefinition{Name: "broken"}, tools.ExecutorFunc(func(context.Context, map[string]any) (string, error) {
		return "", errors.New("boom")
	}))
	_, err := New("a", "x", client, "m", WithTools(reg)).WithPeers([]Peer{{Name: "b"}}).Respond(context.Background(), "q")
	assert.ErrorIs(t, err, ErrTool)
}

func TestRespondTokenBudget(t *testing.T) {
	tracker := llm.NewTokenTracker(10)
	tracker.Add(llm.TokenUsage{InputTokens: 10})

	_, err := New("a", "x", llm.NewMockClient(llm.MockResponse{Content: "ok"}), "m",
		WithTokenTracker(tracker), WithSettings(Settings{MaxTokens: 5}),
	).Respond(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGeneration)
	assert.ErrorIs(t, err, llm.ErrTokenBudget)
	assert.True(t, strings.Contains(err.Error(), "budget"))
}

func TestRespondToolLoopBound(t *testing.T) {
	client := llm.NewMockClient(llm.MockResponse{ToolCalls: []llm.ToolCall{{ID: "t", Name: "noop"}}})
	reg := tools.NewRegistry()
	reg.Register(llm.ToolDefinition{Name: "noop"}, tools.ExecutorFunc(func(context.Context, map[string]any) (string, error) {
		return "", nil
	}))

	_, err := New("a", "x", client, "m", WithTools(reg), WithSettings(Settings{MaxToolTurns: 3})).Respond(context.Background(), "q")
	assert.ErrorIs(t, err, ErrGeneration)
	assert.Len(t, client.Calls(), 3)
}
