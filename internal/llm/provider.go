package llm

import (
	"context"
	"os"
	"strings"
)

// DefaultMaxTokens is used when a request does not set MaxTokens and the
// provider requires a value.
const DefaultMaxTokens = 4096

// Provider identifies a generation provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
)

// ParseModelString parses a model string into provider and model name.
//
// Supported formats:
//
//	"ollama/llama3.2"          → (ollama, "llama3.2")
//	"openai/gpt-4o"            → (openai, "gpt-4o")
//	"gemini/gemini-2.0-flash"  → (gemini, "gemini-2.0-flash")
//	"claude-sonnet-4-20250514" → (anthropic, "claude-sonnet-4-20250514")
//	"gpt-4o"                   → (openai, "gpt-4o")
//	"llama3.2"                 → (anthropic, "llama3.2") fallback
func ParseModelString(model string) (Provider, string) {
	if i := strings.Index(model, "/"); i > 0 {
		prefix := strings.ToLower(model[:i])
		name := model[i+1:]
		switch prefix {
		case "ollama":
			return ProviderOllama, name
		case "openai":
			return ProviderOpenAI, name
		case "anthropic":
			return ProviderAnthropic, name
		case "gemini", "google":
			return ProviderGemini, name
		}
	}

	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "claude"):
		return ProviderAnthropic, model
	case strings.HasPrefix(lower, "gpt-") || strings.HasPrefix(lower, "o1") || strings.HasPrefix(lower, "o3") || strings.HasPrefix(lower, "o4"):
		return ProviderOpenAI, model
	case strings.HasPrefix(lower, "gemini"):
		return ProviderGemini, model
	}

	// Check env vars as a last resort
	if os.Getenv("OLLAMA_HOST") != "" {
		return ProviderOllama, model
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return ProviderOpenAI, model
	}

	return ProviderAnthropic, model
}

// NewClientForModel creates the appropriate client based on the model string.
//
// Environment variables used:
//
//	ANTHROPIC_API_KEY  Anthropic API key (read by the SDK)
//	OPENAI_API_KEY     OpenAI API key
//	OPENAI_BASE_URL    custom OpenAI-compatible base URL
//	OLLAMA_HOST        Ollama server address (default http://localhost:11434)
//	GEMINI_API_KEY     Google AI Studio key
func NewClientForModel(ctx context.Context, model string) (Client, string, error) {
	provider, modelName := ParseModelString(model)

	switch provider {
	case ProviderOllama:
		return NewOllamaClient(os.Getenv("OLLAMA_HOST")), modelName, nil

	case ProviderOpenAI:
		apiKey := os.Getenv("OPENAI_API_KEY")
		if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
			return NewOpenAICompatibleClient(baseURL, apiKey), modelName, nil
		}
		return NewOpenAIClient(apiKey), modelName, nil

	case ProviderGemini:
		c, err := NewGeminiClient(ctx, os.Getenv("GEMINI_API_KEY"))
		if err != nil {
			return nil, "", err
		}
		return c, modelName, nil

	default:
		return NewAnthropicClient(), modelName, nil
	}
}

// requiredFields reads the "required" list of a JSON schema, which arrives as
// []string from Go literals and as []any from decoded JSON.
func requiredFields(schema map[string]any) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
