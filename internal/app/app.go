// Package app wires configuration, logging and the mailwatch components
// behind a cobra command tree.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/logger"
	"github.com/nhle/mailwatch/internal/model"
)

// options holds the persistent flags.
type options struct {
	configPath string
	mode       string
}

// NewRootCommand returns the mailwatch command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "mailwatch",
		Short: "Forward new mailbox messages to a Slack channel",
		Long: "mailwatch polls a mailbox with a search query and posts every new match " +
			"to a Slack incoming webhook, remembering what it already sent.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			return Run(ctx, cfg, log)
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.mode, "mode", "", "run mode: server, worker or combined (overrides MODE)")

	root.AddCommand(newOnceCommand(opts), newAuthCommand(opts), newStateCommand(opts))
	return root
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (o *options) load() (*model.AppConfig, *zap.SugaredLogger, error) {
	cfg, err := model.LoadConfig(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.mode != "" {
		cfg.Mode = model.NormalizeMode(o.mode)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newOnceCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single poll cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			cfg.Mode = model.ModeWorker
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			loc, ok := cfg.Location()
			if !ok {
				log.Warnw("Unknown timezone, using UTC", "timezone", cfg.Timezone)
			}

			worker, err := BuildWorker(ctx, cfg, loc, log)
			if err != nil {
				return err
			}
			defer worker.Close()

			result := worker.Loop.RunCycle(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "cycle %s: found=%d delivered=%d skipped=%d failed=%d (%s)\n",
				result.CycleID, result.Found, result.Delivered, result.Skipped, result.Failed, result.Duration)
			return nil
		},
	}
}
