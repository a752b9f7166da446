package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath string
	envPath    string
	logLevel   string
	rootCmd    = &cobra.Command{
		Use:   "issue-digest",
		Short: "Summarize new GitHub issues and post them to Slack",
		Long: `issue-digest fetches GitHub issues created or updated since its last run,
summarizes them with a single LLM batch job and posts the summaries to a
Slack channel, one message per repository.

Without a subcommand it runs once and exits.`,
		SilenceUsage: true,
		RunE:         runOnce,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "config file path (YAML or TOML)")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", "", "env file with secrets (default: config path with .env extension)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
