package telemetry

import (
	"context"
	"errors"
	"log/slog"

	"github.com/szaher/augur/internal/graph"
	"github.com/szaher/augur/internal/swarm"
)

// GraphHooks logs node transitions and records node durations. m may be nil.
func GraphHooks(logger *slog.Logger, m *Metrics) graph.Hooks {
	return graph.Hooks{
		OnNodeEnter: func(ctx context.Context, node string) {
			logger.DebugContext(ctx, "node_enter", "node", node)
		},
		OnNodeLeave: func(ctx context.Context, r graph.NodeResult) {
			level := slog.LevelInfo
			if r.Status != graph.StatusCompleted {
				level = slog.LevelWarn
			}
			attrs := []any{"node", r.Node, "status", r.Status, "kind", r.Kind.String(), "duration_ms", r.Duration.Milliseconds()}
			if r.Err != nil {
				attrs = append(attrs, "error", r.Err)
			}
			logger.Log(ctx, level, "node_leave", attrs...)
			if m == nil {
				return
			}
			m.NodeDuration.WithLabelValues(r.Node, string(r.Status)).Observe(r.Duration.Seconds())
			if r.Completion != nil {
				m.RecordTokens(r.Completion.Usage)
			}
			if r.Swarm != nil {
				for _, name := range uniq(r.Swarm.History) {
					if sub, ok := r.Swarm.Results[name]; ok && sub.Completion != nil {
						m.RecordTokens(sub.Completion.Usage)
					}
				}
			}
		},
	}
}

// SwarmHooks logs handoffs and aborts and counts them. m may be nil.
func SwarmHooks(logger *slog.Logger, m *Metrics) swarm.Hooks {
	return swarm.Hooks{
		OnHandoff: func(ctx context.Context, from, to string) {
			logger.InfoContext(ctx, "swarm_handoff", "from", from, "to", to)
			if m != nil {
				m.Handoffs.WithLabelValues(to).Inc()
			}
		},
		OnAbort: func(ctx context.Context, reason error) {
			if m != nil {
				m.SwarmAborts.WithLabelValues(AbortReason(reason)).Inc()
			}
		},
	}
}

// AbortReason classifies a handoff group abort for metric labels.
func AbortReason(err error) string {
	switch {
	case errors.Is(err, swarm.ErrRepetitiveHandoff):
		return "repetition"
	case errors.Is(err, swarm.ErrHandoffBudgetExceeded):
		return "budget"
	case errors.Is(err, swarm.ErrUnknownAgent):
		return "unknown_agent"
	case errors.Is(err, graph.ErrNodeTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "agent_error"
	}
}

func uniq(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0:0]
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
