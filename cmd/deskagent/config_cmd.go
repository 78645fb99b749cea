package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"deskagent/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
	}
	var dir string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write .deskagent/config.yaml with default values (kept if it exists)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.InitProjectConfigScaffold(dir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&dir, "dir", "", "Project directory (default: current directory)")
	cmd.AddCommand(initCmd)
	return cmd
}
