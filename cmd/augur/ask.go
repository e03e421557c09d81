package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/szaher/augur/internal/orchestrator"
	"github.com/szaher/augur/internal/runtime"
	"github.com/szaher/augur/sdk/augur"
)

func newAskCmd() *cobra.Command {
	var (
		actorID   string
		sessionID string
		asJSON    bool
		remote    string
		token     string
	)

	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Run one turn and print the answer",
		Long:  "One-shot turn. Locally it loads config, builds the routing graph, answers and persists history; with --remote it calls a running server.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			req := orchestrator.Request{
				Prompt:    strings.Join(args, " "),
				ActorID:   actorID,
				SessionID: sessionID,
			}
			var (
				resp *orchestrator.Response
				err  error
			)
			if remote != "" {
				resp, err = askRemote(ctx, remote, token, req)
			} else {
				resp, err = askLocal(ctx, req)
			}
			if err != nil {
				return fmt.Errorf("turn failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := json.MarshalIndent(resp, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			fmt.Fprintln(out, resp.Response)
			if verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "\n[agent: %s, session: %s, cards: %v]\n", resp.Agent, resp.SessionID, resp.CardList)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&actorID, "actor", "", "Actor ID (defaults to default_user)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID (defaults to default_session)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full response as JSON")
	cmd.Flags().StringVar(&remote, "remote", "", "Send the turn to a running server at this URL instead")
	cmd.Flags().StringVar(&token, "token", os.Getenv("AUGUR_TOKEN"), "Bearer token for --remote")

	return cmd
}

func askLocal(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error) {
	// No listener is started, so no token is needed.
	cfg, logger, err := loadConfig(ctx, func(c *runtime.Config) { c.Auth.Disabled = true })
	if err != nil {
		return nil, err
	}
	rt, err := runtime.New(ctx, cfg, runtime.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	defer rt.Close()
	return rt.Orchestrator().Handle(ctx, req)
}

func askRemote(ctx context.Context, url, token string, req orchestrator.Request) (*orchestrator.Response, error) {
	resp, err := augur.NewClient(url, augur.WithToken(token)).Invoke(ctx, augur.Request{
		Prompt:    req.Prompt,
		ActorID:   req.ActorID,
		SessionID: req.SessionID,
	})
	if err != nil {
		return nil, err
	}
	return &orchestrator.Response{
		Response:  resp.Response,
		Agent:     resp.Agent,
		SessionID: resp.SessionID,
		CardList:  resp.CardList,
	}, nil
}
