// Package secrets resolves env(VAR) references in configuration and keeps
// resolved values and bearer credentials out of logs.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Resolver resolves secret references to their values.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// IsRef reports whether s is a secret reference.
func IsRef(s string) bool {
	return strings.HasPrefix(s, "env(") && strings.HasSuffix(s, ")")
}

// EnvResolver resolves references of the form "env(VAR_NAME)".
type EnvResolver struct {
	lookup func(string) (string, bool)
}

// NewEnvResolver creates a resolver over the process environment.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{lookup: os.LookupEnv}
}

// Resolve looks up an env() reference.
func (r *EnvResolver) Resolve(_ context.Context, ref string) (string, error) {
	if !IsRef(ref) {
		return "", fmt.Errorf("unsupported secret reference format: %q (expected env(VAR_NAME))", ref)
	}
	name := strings.TrimSpace(ref[4 : len(ref)-1])
	if name == "" {
		return "", fmt.Errorf("empty variable name in %q", ref)
	}
	value, ok := r.lookup(name)
	if !ok {
		return "", fmt.Errorf("environment variable %q not set", name)
	}
	return value, nil
}

// Expand returns s unchanged unless it is a reference, in which case the
// resolved value is returned and registered with filter, if non-nil.
func Expand(ctx context.Context, r Resolver, filter *RedactFilter, s string) (string, error) {
	if !IsRef(s) {
		return s, nil
	}
	v, err := r.Resolve(ctx, s)
	if err != nil {
		return "", err
	}
	if filter != nil {
		filter.AddSecret(v)
	}
	return v, nil
}
