package tools

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/szaher/augur/internal/llm"
	"github.com/szaher/augur/internal/tarot"
)

// DrawToolName is the name the reading agents call the draw tool by.
const DrawToolName = "draw_tarot_cards"

const defaultDrawCount = 3

// DrawDefinition describes the draw tool to the model.
var DrawDefinition = llm.ToolDefinition{
	Name:        DrawToolName,
	Description: "Draw tarot cards from a shuffled 78-card deck without replacement. Returns the drawn cards as CARDS: [card, card, ...].",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"num_cards": map[string]any{
				"type":        "integer",
				"description": fmt.Sprintf("Number of cards to draw (%d-%d).", tarot.MinDraw, tarot.MaxDraw),
			},
		},
	},
}

type drawInput struct {
	NumCards *int `mapstructure:"num_cards"`
}

// DrawExecutor draws cards for the reading agents.
type DrawExecutor struct {
	mu   sync.Mutex
	rng  *rand.Rand
	opts tarot.DrawOptions
}

// NewDrawExecutor creates a draw executor. A nil rng seeds one randomly.
func NewDrawExecutor(rng *rand.Rand, opts tarot.DrawOptions) *DrawExecutor {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &DrawExecutor{rng: rng, opts: opts}
}

// Execute decodes num_cards and returns the formatted draw.
func (d *DrawExecutor) Execute(_ context.Context, input map[string]any) (string, error) {
	var in drawInput
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &in,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return "", err
	}
	if err := dec.Decode(input); err != nil {
		return "", fmt.Errorf("draw: invalid input: %w", err)
	}

	count := defaultDrawCount
	if in.NumCards != nil {
		count = *in.NumCards
	}

	d.mu.Lock()
	cards := tarot.Draw(d.rng, count, d.opts)
	d.mu.Unlock()

	return tarot.Format(cards), nil
}
