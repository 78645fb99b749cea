package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"deskagent/internal/bootstrap"
	"deskagent/internal/client"
)

type chatOptions struct {
	yes     bool
	session string
	raw     bool
}

func newChatCmd(root *rootOptions) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the assistant; with a message, send it once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			res, err := bootstrap.BuildClient(cfg, bootstrap.ClientOptions{
				AutoApprove: opts.yes,
				SessionID:   opts.session,
				Raw:         opts.raw,
				In:          os.Stdin,
				Out:         cmd.OutOrStdout(),
			}, logger)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if message := strings.TrimSpace(strings.Join(args, " ")); message != "" {
				if err := res.Conversation.Send(ctx, message); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", res.Conversation.SessionID())
				return nil
			}

			input, inputErr := client.NewLineInput(res.HistoryPath)
			if inputErr != nil {
				logger.Warn("line editor unavailable, using basic input", zap.Error(inputErr))
			}
			defer input.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "deskagent %s, server %s\n", version, cfg.Client.ServerURL)
			repl := client.NewREPL(res.Conversation, res.API, res.Executor, input, res.Renderer, cmd.OutOrStdout())
			return repl.Run(ctx)
		},
	}
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Run requested actions without asking")
	cmd.Flags().StringVar(&opts.session, "session", "", "Continue an existing session")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "Show raw model output while it streams")
	return cmd
}
