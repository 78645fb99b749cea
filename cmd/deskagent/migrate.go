package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"deskagent/internal/storage"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	var dir, user string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Import legacy JSON session exports into the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(dir) == "" || strings.TrimSpace(user) == "" {
				return fmt.Errorf("--dir and --user are required")
			}
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			store, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer store.Close()

			n, err := storage.MigrateLegacyJSON(cmd.Context(), dir, user, store, logger)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("legacy sessions migrated", zap.Int("count", n), zap.String("dir", dir))
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d sessions\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Directory of legacy <session>.json files")
	cmd.Flags().StringVar(&user, "user", "", "Owner of the imported sessions")
	return cmd
}
