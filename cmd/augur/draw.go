package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/szaher/augur/internal/tarot"
)

func newDrawCmd() *cobra.Command {
	var (
		count    int
		reversed bool
		reverseP float64
		seed     uint64
	)

	cmd := &cobra.Command{
		Use:   "draw",
		Short: "Draw tarot cards without calling a model",
		RunE: func(cmd *cobra.Command, args []string) error {
			if reverseP < 0 || reverseP > 1 {
				return fmt.Errorf("--reversed-probability must be within [0,1], got %v", reverseP)
			}
			var rng *rand.Rand
			if cmd.Flags().Changed("seed") {
				rng = rand.New(rand.NewPCG(seed, seed))
			} else {
				rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
			}
			cards := tarot.Draw(rng, count, tarot.DrawOptions{AllowReversed: reversed, ReversedProbability: reverseP})
			fmt.Fprintln(cmd.OutOrStdout(), tarot.Format(cards))
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 3, fmt.Sprintf("Number of cards (%d-%d)", tarot.MinDraw, tarot.MaxDraw))
	cmd.Flags().BoolVar(&reversed, "reversed", false, "Allow reversed cards")
	cmd.Flags().Float64Var(&reverseP, "reversed-probability", 0.3, "Chance each card is reversed")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Seed for a reproducible draw")

	return cmd
}
