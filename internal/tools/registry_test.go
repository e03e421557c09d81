package tools

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/szaher/augur/internal/llm"
	"github.com/szaher/augur/internal/tarot"
)

// mockExecutor is a simple Executor that returns a fixed result or error.
type mockExecutor struct {
	result string
	err    error
}

func (m *mockExecutor) Execute(_ context.Context, _ map[string]any) (string, error) {
	return m.result, m.err
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	defs := r.Definitions()
	if defs == nil {
		t.Fatal("Definitions() returned nil, expected empty slice")
	}
	if len(defs) != 0 {
		t.Fatalf("Definitions() returned %d items, expected 0", len(defs))
	}
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(llm.ToolDefinition{Name: "zeta"}, &mockExecutor{})
	r.Register(llm.ToolDefinition{Name: "alpha"}, &mockExecutor{})

	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "zeta" {
		t.Errorf("Definitions() = %+v, want alpha, zeta", defs)
	}
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry()
	r.Register(llm.ToolDefinition{Name: "greet"}, &mockExecutor{result: "hello"})
	r.Register(llm.ToolDefinition{Name: "broken"}, &mockExecutor{err: errors.New("boom")})
	ctx := context.Background()

	out, err := r.Execute(ctx, llm.ToolCall{Name: "greet"})
	if err != nil || out != "hello" {
		t.Errorf("Execute(greet) = %q, %v", out, err)
	}

	if _, err := r.Execute(ctx, llm.ToolCall{Name: "broken"}); err == nil || err.Error() != "boom" {
		t.Errorf("Execute(broken) err = %v, want boom", err)
	}

	if _, err := r.Execute(ctx, llm.ToolCall{Name: "missing"}); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Execute(missing) err = %v, want ErrNotRegistered", err)
	}
}

func TestRegistrySubset(t *testing.T) {
	r := NewRegistry()
	r.Register(llm.ToolDefinition{Name: "a"}, &mockExecutor{result: "A"})
	r.Register(llm.ToolDefinition{Name: "b"}, &mockExecutor{result: "B"})

	sub, err := r.Subset("b")
	if err != nil {
		t.Fatalf("Subset: %v", err)
	}
	if sub.Len() != 1 || !sub.Has("b") || sub.Has("a") {
		t.Errorf("Subset(b) holds wrong tools: %+v", sub.Definitions())
	}

	if _, err := r.Subset("c"); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Subset(c) err = %v, want ErrNotRegistered", err)
	}
}

func TestExecutorFunc(t *testing.T) {
	f := ExecutorFunc(func(_ context.Context, in map[string]any) (string, error) {
		return in["x"].(string), nil
	})
	out, err := f.Execute(context.Background(), map[string]any{"x": "y"})
	if err != nil || out != "y" {
		t.Errorf("ExecutorFunc = %q, %v", out, err)
	}
}

func TestDrawExecutor(t *testing.T) {
	d := NewDrawExecutor(rand.New(rand.NewPCG(7, 8)), tarot.DrawOptions{})
	ctx := context.Background()

	tests := []struct {
		name  string
		input map[string]any
		want  int
	}{
		{"json number", map[string]any{"num_cards": float64(3)}, 3},
		{"int", map[string]any{"num_cards": 5}, 5},
		{"string", map[string]any{"num_cards": "2"}, 2},
		{"default", map[string]any{}, 3},
		{"clamped high", map[string]any{"num_cards": 40}, 10},
		{"clamped low", map[string]any{"num_cards": 0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := d.Execute(ctx, tt.input)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if !strings.HasPrefix(out, "CARDS: [") || !strings.HasSuffix(out, "]") {
				t.Fatalf("output %q is not a CARDS marker", out)
			}
			inner := strings.TrimSuffix(strings.TrimPrefix(out, "CARDS: ["), "]")
			if got := len(strings.Split(inner, ", ")); got != tt.want {
				t.Errorf("drew %d cards, want %d (%q)", got, tt.want, out)
			}
		})
	}
}

func TestDrawExecutorInvalidInput(t *testing.T) {
	d := NewDrawExecutor(nil, tarot.DrawOptions{})
	if _, err := d.Execute(context.Background(), map[string]any{"num_cards": "many"}); err == nil {
		t.Error("expected error for non-numeric num_cards")
	}
}
