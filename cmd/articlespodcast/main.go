package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ArticlesPodcast/internal/app"
	"ArticlesPodcast/internal/config"
	"ArticlesPodcast/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "articlespodcast",
		Short:         "Turn saved web articles into listenable audio",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML config (default $ARTICLES_PODCAST_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")

	cmd.AddCommand(
		newAddCommand(opts),
		newShareCommand(opts),
		newListCommand(opts),
		newShowCommand(opts),
		newRetryCommand(opts),
		newDeleteCommand(opts),
		newMoveCommand(opts),
		newProcessCommand(opts),
		newRecoverNextCommand(opts),
		newWorkerCommand(opts),
		newSettingsCommand(opts),
		newVoicesCommand(opts),
		newStorageCommand(opts),
		newModelCommand(opts),
		newPlayCommand(opts),
		newPlayedCommand(opts),
		newPositionCommand(opts),
	)

	return cmd
}

// withApp loads configuration, builds the application and closes it after fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *app.Application) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("close application", "error", err)
		}
	}()

	return fn(ctx, application)
}
