// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/edu-harvester/internal/api"
	"github.com/JakeFAU/edu-harvester/internal/app"
	"github.com/JakeFAU/edu-harvester/internal/archive"
	"github.com/JakeFAU/edu-harvester/internal/config"
	"github.com/JakeFAU/edu-harvester/internal/logging"
	"github.com/JakeFAU/edu-harvester/internal/sorter"
	"github.com/JakeFAU/edu-harvester/internal/stats"
)

const shutdownTimeout = 10 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the commands need from the service container. Tests inject a
// fake through newApp.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Stats() *stats.Aggregator
	RunCrawl(ctx context.Context) error
	SortLocal(ctx context.Context) (sorter.Report, *archive.MirrorReport, error)
	Mirror(ctx context.Context) (archive.MirrorReport, error)
	ResortRemote(ctx context.Context) (sorter.Report, error)
	PurgeRemote(ctx context.Context) (int, error)
	WatchFileCount(ctx context.Context)
	APIDeps(runCtx context.Context, runner api.RunController) api.Deps
	APIConfig() api.Config
	Close(ctx context.Context)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.Build(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var (
		cfgFile   string
		closeOnce sync.Once
	)
	// closeApp releases the services built for this invocation. cobra skips
	// post-run hooks when RunE fails, so every subcommand defers it as well.
	closeApp := func(ctx context.Context) {
		appInstance, err := resolveApp(ctx)
		if err != nil {
			return
		}
		closeOnce.Do(func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			appInstance.Close(closeCtx)
			_ = appInstance.Logger().Sync()
		})
	}
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Crawls education sites and archives curriculum files.",
		Long: `harvester crawls education websites, asks a language model which linked
files are curriculum material, downloads the approved ones and files them by
grade and subject, optionally mirroring everything to a remote archive.`,
		SilenceUsage: true,

		// Runs before every subcommand's RunE: load config, build services and
		// hand them to the subcommand through the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			closeApp(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(
		newCrawlCmd(),
		newServeCmd(),
		newSortCmd(),
		newResortCmd(),
		newSyncCmd(),
		newPurgeCmd(),
		newStatsCmd(),
	)
	for _, sub := range cmd.Commands() {
		if run := sub.RunE; run != nil {
			sub.RunE = func(c *cobra.Command, args []string) error {
				defer closeApp(c.Context())
				return run(c, args)
			}
		}
	}
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command's
// context so runs stop after in-flight work.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
