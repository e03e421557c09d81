package tarot

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeckComposition(t *testing.T) {
	deck := Deck()
	require.Len(t, deck, 78)
	assert.Equal(t, "The Fool", deck[0])
	assert.Equal(t, "The World", deck[21])
	assert.Equal(t, "Ace of Wands", deck[22])
	assert.Equal(t, "King of Pentacles", deck[77])

	seen := make(map[string]bool, len(deck))
	for _, c := range deck {
		assert.False(t, seen[c], "duplicate card %q", c)
		seen[c] = true
	}
}

func TestDrawWithoutReplacement(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	cards := Draw(rng, 10, DrawOptions{})
	require.Len(t, cards, 10)

	seen := map[string]bool{}
	for _, c := range cards {
		assert.False(t, seen[c], "card %q drawn twice", c)
		assert.False(t, IsReversed(c))
		seen[c] = true
	}
}

func TestDrawClampsCount(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	assert.Len(t, Draw(rng, 0, DrawOptions{}), 1)
	assert.Len(t, Draw(rng, -5, DrawOptions{}), 1)
	assert.Len(t, Draw(rng, 50, DrawOptions{}), 10)
}

func TestDrawReversed(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	cards := Draw(rng, 10, DrawOptions{AllowReversed: true, ReversedProbability: 1})
	for _, c := range cards {
		assert.True(t, IsReversed(c), "card %q not reversed", c)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "CARDS: [The Fool, Three of Cups]", Format([]string{"The Fool", "Three of Cups"}))
	assert.True(t, strings.HasPrefix(Format(nil), "CARDS: ["))
}
