// Package prompts loads agent system prompts and their inference settings
// from a versioned catalog. Explicitly versioned prompts are fetched once per
// process; draft prompts are re-fetched on every refresh.
package prompts

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Draft is the version of an unversioned reference.
const Draft = "DRAFT"

// DefaultSystemText is used for a chat template with no usable message.
const DefaultSystemText = "You are a helpful assistant."

var ErrNotFound = errors.New("prompt not found")

// TemplateType selects how the system text is derived.
type TemplateType string

const (
	TemplateText TemplateType = "TEXT"
	TemplateChat TemplateType = "CHAT"
)

// Inference holds optional generation settings carried by a prompt.
type Inference struct {
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TopP        *float64 `yaml:"top_p,omitempty" json:"top_p,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}

// ChatMessage is one message of a chat template.
type ChatMessage struct {
	Role string `yaml:"role" json:"role"`
	Text string `yaml:"text" json:"text"`
}

// Chat is a chat template.
type Chat struct {
	System   []string      `yaml:"system,omitempty" json:"system,omitempty"`
	Messages []ChatMessage `yaml:"messages,omitempty" json:"messages,omitempty"`
}

// Document is a prompt as stored in a source.
type Document struct {
	ID           string       `yaml:"id" json:"id"`
	Version      string       `yaml:"version,omitempty" json:"version,omitempty"`
	TemplateType TemplateType `yaml:"template_type,omitempty" json:"template_type,omitempty"`
	Text         string       `yaml:"text,omitempty" json:"text,omitempty"`
	Chat         *Chat        `yaml:"chat,omitempty" json:"chat,omitempty"`
	Inference    Inference    `yaml:"inference,omitempty" json:"inference,omitempty"`
}

// Prompt is a resolved prompt ready to hand to an agent.
type Prompt struct {
	ID        string    `json:"id"`
	Version   string    `json:"version"`
	Text      string    `json:"text"`
	Inference Inference `json:"inference"`
}

// Resolve derives the system text. A chat template joins its system messages
// with a blank line, falling back to the first message and then to
// DefaultSystemText.
func (d Document) Resolve() (Prompt, error) {
	p := Prompt{ID: d.ID, Version: d.Version, Inference: d.Inference}
	if p.Version == "" {
		p.Version = Draft
	}

	switch d.TemplateType {
	case TemplateChat:
		if d.Chat != nil {
			var parts []string
			for _, s := range d.Chat.System {
				if s = strings.TrimSpace(s); s != "" {
					parts = append(parts, s)
				}
			}
			p.Text = strings.Join(parts, "\n\n")
			if p.Text == "" && len(d.Chat.Messages) > 0 {
				p.Text = strings.TrimSpace(d.Chat.Messages[0].Text)
			}
		}
		if p.Text == "" {
			p.Text = DefaultSystemText
		}
	case TemplateText, "":
		p.Text = strings.TrimSpace(d.Text)
	default:
		return Prompt{}, fmt.Errorf("prompt %s: unknown template type %q", d.ID, d.TemplateType)
	}

	if p.Text == "" {
		return Prompt{}, fmt.Errorf("prompt %s: no text", d.ID)
	}
	return p, nil
}

// Ref names a prompt and optionally pins a version.
type Ref struct {
	ID      string
	Version string
}

// ParseRef parses "id" or "id:version".
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	id, version, _ := strings.Cut(s, ":")
	if id == "" {
		return Ref{}, fmt.Errorf("empty prompt reference %q", s)
	}
	return Ref{ID: id, Version: version}, nil
}

// Pinned reports whether the reference names an explicit version.
func (r Ref) Pinned() bool { return r.Version != "" && !strings.EqualFold(r.Version, Draft) }

func (r Ref) version() string {
	if r.Pinned() {
		return r.Version
	}
	return Draft
}

func (r Ref) String() string { return r.ID + ":" + r.version() }

func decodeDocument(data []byte) (Document, error) {
	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Document{}, fmt.Errorf("decode prompt: %w", err)
	}
	return d, nil
}
