package main

import (
	"github.com/spf13/cobra"

	"deskagent/internal/bootstrap"
	"deskagent/internal/client"
)

func newSessionsCmd(root *rootOptions) *cobra.Command {
	var page, limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List your sessions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			res, err := bootstrap.BuildClient(cfg, bootstrap.ClientOptions{Out: cmd.OutOrStdout()}, logger)
			if err != nil {
				return err
			}
			return client.PrintSessions(cmd.Context(), res.API, res.Renderer, cmd.OutOrStdout(), page, limit)
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "Page number (1-based)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Sessions per page")
	return cmd
}

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print the latest turns of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			res, err := bootstrap.BuildClient(cfg, bootstrap.ClientOptions{Out: cmd.OutOrStdout()}, logger)
			if err != nil {
				return err
			}
			return client.PrintHistory(cmd.Context(), res.API, res.Renderer, cmd.OutOrStdout(), args[0], limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of turns to show")
	return cmd
}
