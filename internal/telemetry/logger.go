// Package telemetry provides structured logging, request correlation and
// Prometheus metrics for augur.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/szaher/augur/internal/secrets"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// ParseLevel maps debug|info|warn|error to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// NewLogger creates a JSON logger whose output passes through a redaction
// filter. The filter is returned so resolved secrets can be registered.
func NewLogger(w io.Writer, level slog.Level) (*slog.Logger, *secrets.RedactFilter) {
	if w == nil {
		w = os.Stdout
	}
	filter := secrets.NewRedactFilter(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	return slog.New(filter).With("service", "augur"), filter
}

// WithCorrelationID adds a correlation ID to the context. An empty id gets a
// fresh UUID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID retrieves the correlation ID from context.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// RequestLogger returns a logger carrying the request's session and
// correlation ID.
func RequestLogger(ctx context.Context, logger *slog.Logger, actorID, sessionID string) *slog.Logger {
	attrs := []any{slog.String("actor_id", actorID), slog.String("session_id", sessionID)}
	if id := CorrelationID(ctx); id != "" {
		attrs = append(attrs, slog.String("correlation_id", id))
	}
	return logger.With(attrs...)
}
