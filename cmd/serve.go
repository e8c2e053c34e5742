package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/edu-harvester/internal/api"
	"github.com/JakeFAU/edu-harvester/internal/orchestrator"
)

// newServeCmd creates the 'serve' subcommand hosting the operator API.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the operator API",
		Long: `Starts the operator API: stats, file browsing, filter tuning and start/stop
of crawl runs. The file count in the stats is refreshed in the background.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := appInstance.Logger()
	cfg := appInstance.Config()

	controller := orchestrator.NewController(appInstance.RunCrawl, logger)
	server := api.NewServer(appInstance.APIDeps(ctx, controller), appInstance.APIConfig(), logger)

	go appInstance.WatchFileCount(ctx)

	srv := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if controller.Running() {
		_ = controller.Stop()
	}
	if err := controller.Wait(shutdownCtx); err != nil {
		logger.Warn("run did not stop in time", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
