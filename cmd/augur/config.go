package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Check the effective configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load, resolve and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := loadConfig(cmd.Context(), nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with credentials masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd.Context(), nil)
			if err != nil {
				return err
			}
			if cfg.Auth.StaticToken != "" {
				cfg.Auth.StaticToken = "***"
			}
			if cfg.History.Redis.Password != "" {
				cfg.History.Redis.Password = "***"
			}
			if cfg.History.Postgres.DSN != "" {
				cfg.History.Postgres.DSN = "***"
			}
			for i := range cfg.MCP {
				for k := range cfg.MCP[i].Headers {
					cfg.MCP[i].Headers[k] = "***"
				}
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	return cmd
}
