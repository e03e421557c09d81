package secrets

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

const placeholder = "***REDACTED***"

// bearerRe catches credentials that were never registered, such as the
// per-request tokens clients send.
var bearerRe = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]+`)

// RedactFilter wraps a slog handler and scrubs registered secret values and
// bearer tokens from messages and string attributes, including nested groups.
type RedactFilter struct {
	inner   slog.Handler
	mu      *sync.RWMutex
	secrets map[string]struct{}
}

// NewRedactFilter wraps inner.
func NewRedactFilter(inner slog.Handler) *RedactFilter {
	return &RedactFilter{
		inner:   inner,
		mu:      &sync.RWMutex{},
		secrets: make(map[string]struct{}),
	}
}

// AddSecret registers a value to redact. Empty values are ignored.
func (f *RedactFilter) AddSecret(value string) {
	if value == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secrets[value] = struct{}{}
}

func (f *RedactFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return f.inner.Enabled(ctx, level)
}

func (f *RedactFilter) Handle(ctx context.Context, record slog.Record) error {
	redacted := slog.NewRecord(record.Time, record.Level, f.RedactString(record.Message), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		redacted.AddAttrs(f.redactAttr(a))
		return true
	})
	return f.inner.Handle(ctx, redacted)
}

// WithAttrs shares the parent's secret set so AddSecret stays visible.
func (f *RedactFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = f.redactAttr(a)
	}
	return &RedactFilter{inner: f.inner.WithAttrs(clean), mu: f.mu, secrets: f.secrets}
}

func (f *RedactFilter) WithGroup(name string) slog.Handler {
	return &RedactFilter{inner: f.inner.WithGroup(name), mu: f.mu, secrets: f.secrets}
}

func (f *RedactFilter) redactAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, f.RedactString(a.Value.String()))
	case slog.KindGroup:
		group := a.Value.Group()
		out := make([]any, len(group))
		for i, g := range group {
			out[i] = f.redactAttr(g)
		}
		return slog.Group(a.Key, out...)
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			return slog.String(a.Key, f.RedactString(err.Error()))
		}
	}
	return a
}

// RedactString replaces registered secrets and bearer tokens in s.
func (f *RedactFilter) RedactString(s string) string {
	f.mu.RLock()
	for secret := range f.secrets {
		s = strings.ReplaceAll(s, secret, placeholder)
	}
	f.mu.RUnlock()
	return bearerRe.ReplaceAllString(s, "${1}"+placeholder)
}
