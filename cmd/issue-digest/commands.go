package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/issue-digest/internal/batch"
	"github.com/hochfrequenz/issue-digest/internal/config"
	"github.com/hochfrequenz/issue-digest/internal/digest"
	"github.com/hochfrequenz/issue-digest/internal/issues"
	"github.com/hochfrequenz/issue-digest/internal/log"
	"github.com/hochfrequenz/issue-digest/internal/notify"
	"github.com/hochfrequenz/issue-digest/internal/prompts"
	"github.com/hochfrequenz/issue-digest/internal/schedule"
	"github.com/hochfrequenz/issue-digest/internal/state"
	"github.com/hochfrequenz/issue-digest/internal/tokens"
)

func init() {
	// watch command
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Run on the configured cron schedule, reloading the config on change",
		RunE:  runWatch,
	}
	rootCmd.AddCommand(watchCmd)

	// post command
	postCmd := &cobra.Command{
		Use:   "post",
		Short: "Post the results of the last completed batch again",
		RunE:  runPost,
	}
	rootCmd.AddCommand(postCmd)

	// last-run command
	lastRunCmd := &cobra.Command{
		Use:   "last-run",
		Short: "Show the recorded last run and the next issue window",
		RunE:  runLastRun,
	}
	rootCmd.AddCommand(lastRunCmd)
}

// loadConfig reads the config, applies --log-level and initializes logging
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath, envPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log.Init(cfg.Log.Level, os.Stderr)
	return cfg, nil
}

func loadValidConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfg.Path, err)
	}
	return cfg, nil
}

func lastRunStore(cfg *config.Config) *state.Store {
	return state.New(cfg.State.Dir, cfg.Identity(), cfg.State.Lookback.Std())
}

// newPipeline wires the GitHub, batch and Slack clients for one config
func newPipeline(ctx context.Context, cfg *config.Config) (*digest.Pipeline, error) {
	client, err := issues.NewClient(ctx, cfg.GitHub.Token, cfg.GitHub.BaseURL)
	if err != nil {
		return nil, err
	}

	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.Slack.WebhookURL != "" {
		notifier = notify.NewSlackNotifier(cfg.Slack.WebhookURL)
	}

	return digest.New(digest.OptionsFromConfig(cfg), digest.Deps{
		Issues:   issues.NewFetcher(client, cfg.GitHub, tokens.NewTiktoken(), cfg.Limits.InputTokensPerRequest),
		Batch:    batch.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.CompletionWindow),
		Poster:   notify.NewChannelPoster(cfg.Slack.Token, cfg.Slack.APIURL),
		Notifier: notifier,
		Prompts:  prompts.DefaultLoader(cfg.State.Dir),
		LastRun:  lastRunStore(cfg),
	}), nil
}

func runDigest(ctx context.Context, cfg *config.Config) error {
	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	return p.Run(ctx)
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}
	return runDigest(cmd.Context(), cfg)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}

	load := func() (*config.Config, error) {
		c, err := loadConfig()
		if err != nil {
			return nil, err
		}
		return c, c.Validate()
	}
	sched, err := schedule.New(cfg.Path, load, runDigest)
	if err != nil {
		return err
	}
	log.Info("watching", "config", cfg.Path, "cron", cfg.Schedule.Cron)
	return sched.Start(cmd.Context())
}

func runPost(cmd *cobra.Command, args []string) error {
	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}
	p, err := newPipeline(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	return p.PostResults(cmd.Context())
}

func runLastRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := lastRunStore(cfg)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "CONFIG\t%s\n", cfg.Path)
	fmt.Fprintf(w, "STATE FILE\t%s\n", store.Path())
	if store.Recorded() {
		since := store.Read()
		fmt.Fprintf(w, "LAST RUN\t%s (%s)\n", since.Format(time.RFC3339), humanize.Time(since))
	} else {
		fmt.Fprintf(w, "LAST RUN\tnever, looking back %s\n", cfg.State.Lookback)
	}
	if sched, err := schedule.ParseCron(cfg.Schedule.Cron); err == nil {
		next := sched.Next(time.Now())
		fmt.Fprintf(w, "NEXT WATCH RUN\t%s (%s)\n", next.Format(time.RFC3339), humanize.Time(next))
	}
	return w.Flush()
}
