package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/szaher/augur/internal/prompts"
	"github.com/szaher/augur/internal/runtime"
)

func newPromptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Inspect the prompts bound to each agent",
	}
	cmd.AddCommand(newPromptsListCmd(), newPromptsShowCmd())
	return cmd
}

func newPromptsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agents with their prompt ID and version",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog(cmd.Context())
			if err != nil {
				return err
			}
			snap := catalog.Snapshot()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AGENT\tPROMPT\tVERSION\tTEMPERATURE")
			for _, name := range snap.Names() {
				p, _ := snap.Get(name)
				temp := "-"
				if p.Inference.Temperature != nil {
					temp = fmt.Sprintf("%g", *p.Inference.Temperature)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, p.ID, p.Version, temp)
			}
			return tw.Flush()
		},
	}
}

func newPromptsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [agent]",
		Short: "Print the system text an agent runs with",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog(cmd.Context())
			if err != nil {
				return err
			}
			p, ok := catalog.Snapshot().Get(args[0])
			if !ok {
				return fmt.Errorf("no prompt bound to agent %q", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.Text)
			return nil
		},
	}
}

func loadCatalog(ctx context.Context) (*prompts.Catalog, error) {
	cfg, logger, err := loadConfig(ctx, func(c *runtime.Config) { c.Auth.Disabled = true })
	if err != nil {
		return nil, err
	}
	catalog, err := runtime.NewCatalog(ctx, cfg.Prompts, logger)
	if err != nil {
		return nil, err
	}
	if err := catalog.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	return catalog, nil
}
