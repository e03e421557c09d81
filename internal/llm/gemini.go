package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// GeminiClient implements Client using the Google Gemini API.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a Gemini client authenticated with apiKey.
func NewGeminiClient(ctx context.Context, apiKey string, opts ...option.ClientOption) (*GeminiClient, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

// Close releases the underlying connection.
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

// Chat sends the conversation as a chat session and returns the model's reply.
func (c *GeminiClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("gemini chat: no messages")
	}

	gm := c.client.GenerativeModel(req.Model)
	if req.System != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.Temperature != nil {
		gm.SetTemperature(float32(*req.Temperature))
	}
	if req.TopP != nil {
		gm.SetTopP(float32(*req.TopP))
	}
	if req.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toGeminiSchema(t.InputSchema),
			})
		}
		gm.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		if parts := geminiParts(m); len(parts) > 0 {
			role := "user"
			if m.Role == RoleAssistant {
				role = "model"
			}
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("gemini chat: no message content")
	}

	cs := gm.StartChat()
	cs.History = contents[:len(contents)-1]
	resp, err := cs.SendMessage(ctx, contents[len(contents)-1].Parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini chat: %w", err)
	}
	return parseGeminiResponse(resp)
}

func geminiParts(m Message) []genai.Part {
	var parts []genai.Part
	if m.ToolResult != nil {
		return append(parts, genai.FunctionResponse{
			Name:     m.ToolResult.Name,
			Response: map[string]any{"result": m.ToolResult.Content},
		})
	}
	if m.Content != "" {
		parts = append(parts, genai.Text(m.Content))
	}
	for _, tc := range m.ToolCalls {
		parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: tc.Input})
	}
	return parts
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) (*ChatResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini chat: %w", ErrEmptyResponse)
	}
	cand := resp.Candidates[0]
	out := &ChatResponse{StopReason: StopEndTurn}
	if resp.UsageMetadata != nil {
		out.Usage = TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if cand.FinishReason == genai.FinishReasonMaxTokens {
		out.StopReason = StopMaxTokens
	}
	if cand.Content == nil {
		return out, nil
	}
	for _, part := range cand.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			out.Content += string(p)
		case genai.FunctionCall:
			// Gemini does not assign call IDs.
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:    "call-" + uuid.NewString(),
				Name:  p.Name,
				Input: p.Args,
			})
		}
	}
	if len(out.ToolCalls) > 0 {
		out.StopReason = StopToolUse
	}
	return out, nil
}

// toGeminiSchema converts a JSON-schema map into the genai schema subset.
func toGeminiSchema(s map[string]any) *genai.Schema {
	if s == nil {
		return nil
	}
	schema := &genai.Schema{Type: geminiType(s["type"])}
	if d, ok := s["description"].(string); ok {
		schema.Description = d
	}
	if props, ok := s["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(pm)
			}
		}
	}
	if items, ok := s["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}
	if enum, ok := s["enum"].([]any); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, es)
			}
		}
	}
	schema.Required = requiredFields(s)
	return schema
}

func geminiType(v any) genai.Type {
	switch v {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "string":
		return genai.TypeString
	default:
		return genai.TypeUnspecified
	}
}
