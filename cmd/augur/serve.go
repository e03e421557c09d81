package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/szaher/augur/internal/runtime"
)

func newServeCmd() *cobra.Command {
	var (
		port   int
		noAuth bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /invocations and /ping over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, logger, err := loadConfig(ctx, func(c *runtime.Config) {
				if port != 0 {
					c.Server.Port = port
				}
				if noAuth {
					c.Auth.Disabled = true
				}
			})
			if err != nil {
				return err
			}

			rt, err := runtime.New(ctx, cfg, runtime.Options{Logger: logger})
			if err != nil {
				return err
			}
			defer rt.Close()

			return rt.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides config and PORT)")
	cmd.Flags().BoolVar(&noAuth, "no-auth", false, "Accept requests without a bearer token")

	return cmd
}
