package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"deskagent/internal/config"
	"deskagent/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "deskagent",
		Short: "Desktop assistant server and terminal client",
		Long: `deskagent runs an assistant that answers in structured actions.

The server streams each generation as NDJSON and runs server-side actions
(file edits, saved scripts). The chat client executes the rest (commands,
scripts, file reads, screen captures) on this machine after you confirm them.

Quick Start:
  deskagent config init         # write .deskagent/config.yaml
  deskagent serve               # start the server
  deskagent chat                # talk to it from another terminal`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file (JSON, JSONC or YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	cmd.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newSessionsCmd(opts),
		newHistoryCmd(opts),
		newMigrateCmd(opts),
		newConfigCmd(),
	)
	return cmd
}

// load 读取配置并构建日志器 / load reads the config and builds the logger
func (o *rootOptions) load() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	if lvl := strings.TrimSpace(o.logLevel); lvl != "" {
		cfg.Log.Level = lvl
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}
