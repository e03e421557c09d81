package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/openai/openai-go/option"
)

func TestParseModelString(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "")
	t.Setenv("OPENAI_API_KEY", "")

	tests := []struct {
		name         string
		input        string
		wantProvider Provider
		wantModel    string
	}{
		{"anthropic prefix", "anthropic/claude-3", ProviderAnthropic, "claude-3"},
		{"openai prefix", "openai/gpt-4", ProviderOpenAI, "gpt-4"},
		{"ollama prefix", "ollama/llama2", ProviderOllama, "llama2"},
		{"gemini prefix", "gemini/gemini-2.0-flash", ProviderGemini, "gemini-2.0-flash"},
		{"google prefix", "google/gemini-1.5-pro", ProviderGemini, "gemini-1.5-pro"},
		{"claude inferred", "claude-sonnet-4-20250514", ProviderAnthropic, "claude-sonnet-4-20250514"},
		{"gpt inferred", "gpt-4o", ProviderOpenAI, "gpt-4o"},
		{"o3 inferred", "o3-mini", ProviderOpenAI, "o3-mini"},
		{"gemini inferred", "gemini-2.0-flash", ProviderGemini, "gemini-2.0-flash"},
		{"unknown defaults to anthropic", "llama3.2", ProviderAnthropic, "llama3.2"},
		{"case-insensitive prefix", "Anthropic/claude-3.5", ProviderAnthropic, "claude-3.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotProvider, gotModel := ParseModelString(tt.input)
			if gotProvider != tt.wantProvider {
				t.Errorf("ParseModelString(%q) provider = %q, want %q", tt.input, gotProvider, tt.wantProvider)
			}
			if gotModel != tt.wantModel {
				t.Errorf("ParseModelString(%q) model = %q, want %q", tt.input, gotModel, tt.wantModel)
			}
		})
	}
}

func TestParseModelStringWithOllamaEnv(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "http://localhost:11434")
	t.Setenv("OPENAI_API_KEY", "")

	provider, _ := ParseModelString("llama3.2")
	if provider != ProviderOllama {
		t.Errorf("provider = %q, want %q", provider, ProviderOllama)
	}
}

func TestTokenUsageAdd(t *testing.T) {
	u := TokenUsage{InputTokens: 1, OutputTokens: 2, CacheRead: 3}.Add(TokenUsage{InputTokens: 10, OutputTokens: 20, CacheWrite: 4})
	if u.InputTokens != 11 || u.OutputTokens != 22 || u.CacheRead != 3 || u.CacheWrite != 4 {
		t.Errorf("Add = %+v", u)
	}
	if u.Total() != 33 {
		t.Errorf("Total = %d, want 33", u.Total())
	}
}

func TestTokenTrackerTurnBudget(t *testing.T) {
	tracker := NewTokenTracker(1000)
	tracker.Add(TokenUsage{InputTokens: 300, OutputTokens: 100}) // classifier
	tracker.Add(TokenUsage{InputTokens: 200, OutputTokens: 100}) // branch agent

	if got := tracker.Calls(); got != 2 {
		t.Errorf("Calls = %d, want 2", got)
	}
	if got := tracker.Usage().Total(); got != 700 {
		t.Errorf("Usage().Total() = %d, want 700", got)
	}
	if got := tracker.Remaining(); got != 300 {
		t.Errorf("Remaining = %d, want 300", got)
	}
	if err := tracker.CheckBudget(300); err != nil {
		t.Errorf("CheckBudget(300) = %v, want nil", err)
	}
	if err := tracker.CheckBudget(301); !errors.Is(err, ErrTokenBudget) {
		t.Errorf("CheckBudget(301) = %v, want ErrTokenBudget", err)
	}

	tracker.Add(TokenUsage{InputTokens: 400})
	if got := tracker.Remaining(); got != 0 {
		t.Errorf("Remaining after overrun = %d, want 0", got)
	}

	unlimited := NewTokenTracker(0)
	unlimited.Add(TokenUsage{InputTokens: 999999})
	if err := unlimited.CheckBudget(999999); err != nil {
		t.Errorf("unlimited CheckBudget = %v", err)
	}
	if got := unlimited.Remaining(); got != -1 {
		t.Errorf("unlimited Remaining = %d, want -1", got)
	}
}

func TestMockClientSequence(t *testing.T) {
	m := NewMockClient(
		MockResponse{Content: "first"},
		MockResponse{Content: "second"},
	)
	ctx := context.Background()

	for _, want := range []string{"first", "second", "second"} {
		resp, err := m.Chat(ctx, ChatRequest{})
		if err != nil {
			t.Fatalf("Chat: %v", err)
		}
		if resp.Content != want {
			t.Errorf("Content = %q, want %q", resp.Content, want)
		}
	}
	if len(m.Calls()) != 3 {
		t.Errorf("Calls = %d, want 3", len(m.Calls()))
	}

	m.Reset()
	resp, _ := m.Chat(ctx, ChatRequest{})
	if resp.Content != "first" {
		t.Errorf("after Reset Content = %q, want first", resp.Content)
	}
}

func TestMockClientHonorsContext(t *testing.T) {
	m := NewMockClient(MockResponse{Content: "late"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Chat(ctx, ChatRequest{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestMockFunc(t *testing.T) {
	m := NewMockFunc(func(req ChatRequest) MockResponse {
		return MockResponse{Content: "echo: " + req.Messages[len(req.Messages)-1].Content}
	})
	resp, err := m.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "echo: hi" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestRequiredFields(t *testing.T) {
	if got := requiredFields(map[string]any{"required": []string{"a"}}); len(got) != 1 || got[0] != "a" {
		t.Errorf("[]string required = %v", got)
	}
	if got := requiredFields(map[string]any{"required": []any{"a", 3, "b"}}); len(got) != 2 || got[1] != "b" {
		t.Errorf("[]any required = %v", got)
	}
	if got := requiredFields(map[string]any{}); got != nil {
		t.Errorf("missing required = %v", got)
	}
}

func TestToGeminiSchema(t *testing.T) {
	s := toGeminiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"num_cards": map[string]any{"type": "integer", "description": "how many"},
			"tags":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []any{"num_cards"},
	})

	if s.Type != genai.TypeObject {
		t.Errorf("Type = %v, want object", s.Type)
	}
	if p := s.Properties["num_cards"]; p == nil || p.Type != genai.TypeInteger || p.Description != "how many" {
		t.Errorf("num_cards = %+v", p)
	}
	if p := s.Properties["tags"]; p == nil || p.Items == nil || p.Items.Type != genai.TypeString {
		t.Errorf("tags = %+v", p)
	}
	if len(s.Required) != 1 || s.Required[0] != "num_cards" {
		t.Errorf("Required = %v", s.Required)
	}
}

func TestBuildAnthropicParams(t *testing.T) {
	temp := 0.2
	params := buildAnthropicParams(ChatRequest{
		Model:       "claude-3",
		System:      "be brief",
		Temperature: &temp,
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "t1", Name: "draw", Input: map[string]any{"num_cards": 3}}}},
			{Role: RoleUser, ToolResult: &ToolResult{ToolUseID: "t1", Content: "CARDS: [The Fool]"}},
		},
		Tools: []ToolDefinition{{Name: "draw", InputSchema: map[string]any{"type": "object", "properties": map[string]any{}}}},
	})

	if params.MaxTokens != DefaultMaxTokens {
		t.Errorf("MaxTokens = %d, want default %d", params.MaxTokens, DefaultMaxTokens)
	}
	if len(params.Messages) != 3 {
		t.Errorf("Messages = %d, want 3", len(params.Messages))
	}
	if len(params.System) != 1 || params.System[0].Text != "be brief" {
		t.Errorf("System = %+v", params.System)
	}
	if len(params.Tools) != 1 {
		t.Errorf("Tools = %d, want 1", len(params.Tools))
	}
}

func TestOpenAIClientChat(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s, want suffix /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "c1", "object": "chat.completion", "created": 1, "model": "gpt-4",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "Hello from OpenAI!"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30}
		}`))
	}))
	defer server.Close()

	client := NewOpenAICompatibleClient(server.URL+"/v1", "test-key")
	resp, err := client.Chat(context.Background(), ChatRequest{
		Model:    "gpt-4",
		System:   "You are a helpful assistant",
		Messages: []Message{{Role: RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if resp.Content != "Hello from OpenAI!" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.StopReason != StopEndTurn {
		t.Errorf("StopReason = %q, want %q", resp.StopReason, StopEndTurn)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 20 {
		t.Errorf("Usage = %+v", resp.Usage)
	}

	msgs, _ := captured["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want system + user", len(msgs))
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message role = %v, want system", first["role"])
	}
}

func TestOpenAIClientChatWithTools(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if tools, _ := req["tools"].([]any); len(tools) != 1 {
			t.Errorf("tools = %d, want 1", len(tools))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "c2", "object": "chat.completion", "created": 1, "model": "gpt-4",
			"choices": [{"index": 0, "finish_reason": "tool_calls",
				"message": {"role": "assistant", "content": "",
					"tool_calls": [{"id": "call-1", "type": "function",
						"function": {"name": "search", "arguments": "{\"query\":\"test\"}"}}]}}],
			"usage": {"prompt_tokens": 15, "completion_tokens": 10, "total_tokens": 25}
		}`))
	}))
	defer server.Close()

	client := NewOpenAICompatibleClient(server.URL+"/v1", "key")
	resp, err := client.Chat(context.Background(), ChatRequest{
		Model:    "gpt-4",
		Messages: []Message{{Role: RoleUser, Content: "search for something"}},
		Tools:    []ToolDefinition{{Name: "search", Description: "Search", InputSchema: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if resp.StopReason != StopToolUse {
		t.Errorf("StopReason = %q, want %q", resp.StopReason, StopToolUse)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "search" {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Input["query"] != "test" {
		t.Errorf("tool input query = %v, want test", resp.ToolCalls[0].Input["query"])
	}
}

func TestOpenAIClientChatHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"type": "authentication_error", "message": "invalid api key"}}`))
	}))
	defer server.Close()

	client := NewOpenAICompatibleClient(server.URL+"/v1", "bad-key", option.WithMaxRetries(0))
	_, err := client.Chat(context.Background(), ChatRequest{Model: "gpt-4", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err == nil {
		t.Fatal("expected error for 401 response, got nil")
	}
	if !strings.Contains(err.Error(), "openai chat") {
		t.Errorf("error = %q, want openai chat prefix", err.Error())
	}
}
