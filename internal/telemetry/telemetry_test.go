package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/szaher/augur/internal/agent"
	"github.com/szaher/augur/internal/graph"
	"github.com/szaher/augur/internal/llm"
	"github.com/szaher/augur/internal/swarm"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{"": slog.LevelInfo, "DEBUG": slog.LevelDebug, "warning": slog.LevelWarn, "error": slog.LevelError}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewLoggerRedacts(t *testing.T) {
	var buf bytes.Buffer
	logger, filter := NewLogger(&buf, slog.LevelInfo)
	filter.AddSecret("sk-123")

	logger.Info("calling backend", "key", "sk-123", "auth", "Bearer tok.en")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "augur", rec["service"])
	assert.Equal(t, "***REDACTED***", rec["key"])
	assert.NotContains(t, buf.String(), "tok.en")
}

func TestCorrelationID(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "")
	id := CorrelationID(ctx)
	assert.Len(t, id, 36)

	ctx = WithCorrelationID(context.Background(), "fixed")
	assert.Equal(t, "fixed", CorrelationID(ctx))
	assert.Equal(t, "", CorrelationID(context.Background()))

	var buf bytes.Buffer
	RequestLogger(ctx, slog.New(slog.NewJSONHandler(&buf, nil)), "u", "s").Info("x")
	assert.Contains(t, buf.String(), `"correlation_id":"fixed"`)
	assert.Contains(t, buf.String(), `"session_id":"s"`)
}

func TestGraphHooksRecordDurationsAndTokens(t *testing.T) {
	m := NewMetrics()
	h := GraphHooks(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), m)

	h.OnNodeEnter(context.Background(), "router")
	r := graph.CompletionResult("router", &agent.Completion{Text: "tarot", Usage: llm.TokenUsage{InputTokens: 10, OutputTokens: 2}})
	r.Duration = 50 * time.Millisecond
	h.OnNodeLeave(context.Background(), r)

	sr := &graph.SwarmResult{
		Status:  graph.StatusCompleted,
		History: []string{"a", "b", "a"},
		Results: map[string]graph.NodeResult{
			"a": graph.CompletionResult("a", &agent.Completion{Usage: llm.TokenUsage{InputTokens: 5}}),
			"b": graph.CompletionResult("b", &agent.Completion{Usage: llm.TokenUsage{InputTokens: 7}}),
		},
	}
	h.OnNodeLeave(context.Background(), graph.SwarmNodeResult("tarot", sr))

	assert.Equal(t, 2, testutil.CollectAndCount(m.NodeDuration))
	assert.Equal(t, float64(22), testutil.ToFloat64(m.Tokens.WithLabelValues("input")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Tokens.WithLabelValues("output")))
}

func TestSwarmHooks(t *testing.T) {
	m := NewMetrics()
	h := SwarmHooks(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), m)

	h.OnHandoff(context.Background(), "spread_reader", "card_interpreter")
	h.OnHandoff(context.Background(), "card_interpreter", "life_advisor")
	h.OnAbort(context.Background(), fmt.Errorf("%w: x", swarm.ErrRepetitiveHandoff))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Handoffs.WithLabelValues("life_advisor")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SwarmAborts.WithLabelValues("repetition")))
}

func TestAbortReason(t *testing.T) {
	assert.Equal(t, "budget", AbortReason(swarm.ErrHandoffBudgetExceeded))
	assert.Equal(t, "unknown_agent", AbortReason(swarm.ErrUnknownAgent))
	assert.Equal(t, "timeout", AbortReason(fmt.Errorf("%w: %w", graph.ErrNodeTimeout, context.DeadlineExceeded)))
	assert.Equal(t, "agent_error", AbortReason(errors.New("boom")))
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.Turns.WithLabelValues("tarot", OutcomeAnswered).Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `augur_turns_total{branch="tarot",outcome="answered"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}
