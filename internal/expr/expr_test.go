package expr

import (
	"testing"
)

func TestCompile_Valid(t *testing.T) {
	c, err := Compile(`label == "tarot"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Source != `label == "tarot"` {
		t.Errorf("source: got %q, want %q", c.Source, `label == "tarot"`)
	}
}

func TestCompile_Empty(t *testing.T) {
	if _, err := Compile(""); err == nil {
		t.Fatal("expected error for empty expression")
	}
}

func TestCompile_UnknownVariable(t *testing.T) {
	if _, err := Compile(`steps.router == "x"`); err == nil {
		t.Fatal("expected error for unknown variable")
	}
}

func TestCompile_NonBool(t *testing.T) {
	if _, err := Compile(`label + "x"`); err == nil {
		t.Fatal("expected error for non-boolean expression")
	}
}

func TestEvalBool(t *testing.T) {
	tests := []struct {
		source string
		env    Env
		want   bool
	}{
		{`label == "tarot"`, Env{Label: "tarot"}, true},
		{`label == "tarot"`, Env{Label: "welcome"}, false},
		{`lower(text) contains "numerology"`, Env{Text: "Route: NUMEROLOGY"}, true},
		{`label == "" && input startsWith "hi"`, Env{Input: "hi there"}, true},
	}
	for _, tt := range tests {
		c, err := Compile(tt.source)
		if err != nil {
			t.Fatalf("Compile(%q): %v", tt.source, err)
		}
		got, err := EvalBool(c, tt.env)
		if err != nil {
			t.Fatalf("EvalBool(%q): %v", tt.source, err)
		}
		if got != tt.want {
			t.Errorf("EvalBool(%q) = %v, want %v", tt.source, got, tt.want)
		}
	}
}

func TestEvalBool_Nil(t *testing.T) {
	if _, err := EvalBool(nil, Env{}); err == nil {
		t.Fatal("expected error for nil expression")
	}
}

func TestMustCompilePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustCompile should panic on invalid source")
		}
	}()
	MustCompile("label ==")
}
