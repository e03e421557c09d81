package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/szaher/augur/internal/llm"
)

// HandoffToolName is the tool swarm members call to pass control.
const HandoffToolName = "handoff_to_agent"

// Peer is another member of the agent's handoff group.
type Peer struct {
	Name        string
	Description string
}

// Handoff is a request to pass control to Target with an optional message.
type Handoff struct {
	Target  string `json:"target"`
	Message string `json:"message,omitempty"`
}

func handoffDefinition(peers []Peer) llm.ToolDefinition {
	names := make([]any, 0, len(peers))
	for _, p := range peers {
		names = append(names, p.Name)
	}
	return llm.ToolDefinition{
		Name:        HandoffToolName,
		Description: "Pass control to another specialist in your team when they are better suited to continue. Stop after calling this tool.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"agent_name": map[string]any{
					"type":        "string",
					"description": "Name of the specialist to hand off to.",
					"enum":        names,
				},
				"message": map[string]any{
					"type":        "string",
					"description": "What the next specialist should know or do.",
				},
			},
			"required": []string{"agent_name"},
		},
	}
}

func peerInstruction(self string, peers []Peer) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n\nYou are %q, one specialist in a team. Team members you can hand off to with %s:\n", self, HandoffToolName)
	for _, p := range peers {
		if p.Name == self {
			continue
		}
		if p.Description != "" {
			fmt.Fprintf(&sb, "- %s: %s\n", p.Name, p.Description)
		} else {
			fmt.Fprintf(&sb, "- %s\n", p.Name)
		}
	}
	sb.WriteString("If you can complete the task yourself, answer directly without handing off.")
	return sb.String()
}

// findHandoff returns the first handoff call in calls, if any.
func findHandoff(calls []llm.ToolCall) (*Handoff, bool, error) {
	for _, tc := range calls {
		if tc.Name != HandoffToolName {
			continue
		}
		target, _ := tc.Input["agent_name"].(string)
		target = strings.TrimSpace(target)
		if target == "" {
			return nil, true, errors.New("handoff without agent_name")
		}
		msg, _ := tc.Input["message"].(string)
		return &Handoff{Target: target, Message: msg}, true, nil
	}
	return nil, false, nil
}

func withoutHandoff(calls []llm.ToolCall) []llm.ToolCall {
	var rest []llm.ToolCall
	for _, tc := range calls {
		if tc.Name != HandoffToolName {
			rest = append(rest, tc)
		}
	}
	return rest
}
