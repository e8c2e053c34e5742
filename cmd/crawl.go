package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// newCrawlCmd creates the 'crawl' subcommand, which performs one complete
// harvest over the configured start URLs and exits.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the configured sites once",
		Long: `Walks the configured start URLs, filters every linked document through
the relevance filter and downloads the approved ones. Interrupting the command
lets in-flight downloads finish before it exits.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if err := appInstance.RunCrawl(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}
	appInstance.Logger().Info("crawl command finished")
	return nil
}
