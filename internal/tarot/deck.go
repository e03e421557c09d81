// Package tarot holds the 78-card deck and the random draw used by the
// reading branch.
package tarot

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

const (
	// MinDraw and MaxDraw bound the number of cards a single draw returns.
	MinDraw = 1
	MaxDraw = 10

	// DefaultReversedProbability is the chance a drawn card is reversed when
	// reversals are enabled.
	DefaultReversedProbability = 0.3

	reversedSuffix = " (Reversed)"
)

var majorArcana = []string{
	"The Fool", "The Magician", "The High Priestess", "The Empress", "The Emperor",
	"The Hierophant", "The Lovers", "The Chariot", "Strength", "The Hermit",
	"Wheel of Fortune", "Justice", "The Hanged Man", "Death", "Temperance",
	"The Devil", "The Tower", "The Star", "The Moon", "The Sun",
	"Judgement", "The World",
}

var (
	suits = []string{"Wands", "Cups", "Swords", "Pentacles"}
	ranks = []string{
		"Ace", "Two", "Three", "Four", "Five", "Six", "Seven",
		"Eight", "Nine", "Ten", "Page", "Knight", "Queen", "King",
	}
)

// Deck returns a fresh copy of the full deck: major arcana first, then each
// suit from Ace to King.
func Deck() []string {
	deck := make([]string, 0, len(majorArcana)+len(suits)*len(ranks))
	deck = append(deck, majorArcana...)
	for _, suit := range suits {
		for _, rank := range ranks {
			deck = append(deck, rank+" of "+suit)
		}
	}
	return deck
}

// DrawOptions controls reversal behavior.
type DrawOptions struct {
	AllowReversed       bool
	ReversedProbability float64
}

// Draw samples count cards without replacement. count is clamped to
// [MinDraw, MaxDraw].
func Draw(rng *rand.Rand, count int, opts DrawOptions) []string {
	count = Clamp(count)
	deck := Deck()
	rng.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	cards := deck[:count]

	if opts.AllowReversed {
		p := opts.ReversedProbability
		if p <= 0 {
			p = DefaultReversedProbability
		}
		for i := range cards {
			if rng.Float64() < p {
				cards[i] += reversedSuffix
			}
		}
	}
	return cards
}

// Clamp bounds n to [MinDraw, MaxDraw].
func Clamp(n int) int {
	return min(max(n, MinDraw), MaxDraw)
}

// Format renders cards as the marker the normalizer extracts: "CARDS: [a, b]".
func Format(cards []string) string {
	return fmt.Sprintf("CARDS: [%s]", strings.Join(cards, ", "))
}

// IsReversed reports whether a drawn card carries the reversal suffix.
func IsReversed(card string) bool {
	return strings.HasSuffix(card, reversedSuffix)
}
