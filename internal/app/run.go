package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/edu-harvester/internal/archive"
	"github.com/JakeFAU/edu-harvester/internal/crawl"
	"github.com/JakeFAU/edu-harvester/internal/logging"
	"github.com/JakeFAU/edu-harvester/internal/orchestrator"
	"github.com/JakeFAU/edu-harvester/internal/progress"
	"github.com/JakeFAU/edu-harvester/internal/sorter"
	"github.com/JakeFAU/edu-harvester/internal/stats"
)

// CrawlConfig maps the crawler section onto the crawl drivers.
func (a *App) CrawlConfig() crawl.Config {
	c := a.cfg.Crawler
	return crawl.Config{
		StartURLs:       c.StartURLs,
		AllowedDomains:  c.AllowedDomains,
		BlockedDomains:  c.BlockedDomains,
		MaxDepth:        c.MaxDepth,
		MaxPages:        c.MaxPages,
		UserAgent:       c.UserAgent,
		Parallelism:     c.MaxConcurrency,
		Delay:           c.Delay,
		Timeout:         c.Timeout,
		RespectRobots:   c.RespectRobots,
		RenderThreshold: c.RenderThreshold,
	}
}

// PageSource builds the configured crawl driver. The returned func releases
// the headless browser, if one was started.
func (a *App) PageSource() (orchestrator.PageSource, func(), error) {
	cfg := a.CrawlConfig()
	needsBrowser := a.cfg.Crawler.Headless || a.cfg.Crawler.RenderThreshold > 0
	if !needsBrowser {
		source, err := crawl.NewCollySource(cfg, a.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init crawl source: %w", err)
		}
		return source, func() {}, nil
	}

	renderer, err := crawl.NewChromeRenderer(crawl.ChromeConfig{
		MaxParallel:       a.cfg.Crawler.HeadlessMax,
		UserAgent:         cfg.UserAgent,
		NavigationTimeout: cfg.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init renderer: %w", err)
	}
	var source orchestrator.PageSource
	if a.cfg.Crawler.Headless {
		source, err = crawl.NewChromedpSource(cfg, renderer, a.logger)
	} else {
		source, err = crawl.NewCollySource(cfg, a.logger, crawl.WithRenderer(renderer))
	}
	if err != nil {
		renderer.Close()
		return nil, nil, fmt.Errorf("init crawl source: %w", err)
	}
	return source, renderer.Close, nil
}

// RunCrawl performs one complete crawl with the configured driver.
func (a *App) RunCrawl(ctx context.Context) error {
	source, release, err := a.PageSource()
	if err != nil {
		return err
	}
	defer release()
	return a.RunPages(ctx, source)
}

// RunPages feeds every page of source through the filter and download
// pipeline under a fresh run id.
func (a *App) RunPages(ctx context.Context, source orchestrator.PageSource) error {
	runID := progress.NewRunID()
	logger := logging.WithRun(a.logger, runID)
	handler := orchestrator.NewHandler(
		a.filter,
		a.engine,
		a.stats,
		a.hub,
		runID,
		orchestrator.HandlerConfig{
			Extensions:  a.cfg.Crawler.FileExtensions,
			GroupByHost: a.cfg.Crawler.GroupByHost,
		},
		logger,
	)
	pool := orchestrator.NewPool(handler, a.stats, a.hub, runID, orchestrator.PoolConfig{
		Workers: a.cfg.Crawler.MaxConcurrency,
	}, logger)

	logger.Info("crawl started", zap.Strings("start_urls", a.cfg.Crawler.StartURLs))
	err := pool.Run(ctx, source)
	snap := a.stats.Snapshot()
	logger.Info("crawl finished",
		zap.Int64("urls_processed", snap.URLsProcessed),
		zap.Int64("downloaded", snap.TotalDownloaded),
		zap.Int64("filtered", snap.TotalFiltered),
		zap.Int64("errors", snap.TotalErrors),
	)
	if err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}
	return nil
}

// SortLocal files the finished tree into grade/subject folders and, when
// archival is enabled, mirrors the result.
func (a *App) SortLocal(ctx context.Context) (sorter.Report, *archive.MirrorReport, error) {
	report, err := a.sorter.SortLocal(ctx, a.FinishedDir())
	if err != nil {
		return report, nil, fmt.Errorf("sort local: %w", err)
	}
	a.logger.Info("local sort finished",
		zap.Int("sorted", report.Sorted),
		zap.Int("review", report.Review),
		zap.Int("failed", report.Failed),
	)
	if a.archive == nil {
		return report, nil, nil
	}
	mirror, err := a.Mirror(ctx)
	if err != nil {
		return report, nil, err
	}
	return report, &mirror, nil
}

// Mirror uploads the finished tree to the remote archive.
// PurgeRemote deletes everything under the archive root folder.
func (a *App) PurgeRemote(ctx context.Context) (int, error) {
	if a.archive == nil {
		return 0, ErrArchiveDisabled
	}
	n, err := a.archive.Purge(ctx, "")
	if err != nil {
		return n, fmt.Errorf("purge archive: %w", err)
	}
	a.logger.Warn("remote archive purged", zap.Int("deleted", n))
	return n, nil
}

func (a *App) Mirror(ctx context.Context) (archive.MirrorReport, error) {
	if a.archive == nil {
		return archive.MirrorReport{}, ErrArchiveDisabled
	}
	report, err := a.archive.Mirror(ctx, a.FinishedDir(), "")
	if err != nil {
		return report, fmt.Errorf("mirror: %w", err)
	}
	a.logger.Info("mirror finished",
		zap.Int("uploaded", report.Uploaded),
		zap.Int("existing", report.Existing),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// ResortRemote re-classifies the remote Review_Needed folder.
func (a *App) ResortRemote(ctx context.Context) (sorter.Report, error) {
	if a.archive == nil {
		return sorter.Report{}, ErrArchiveDisabled
	}
	report, err := a.sorter.ResortRemote(ctx, a.archive.RootID())
	if err != nil {
		return report, fmt.Errorf("resort remote: %w", err)
	}
	return report, nil
}

// WatchFileCount keeps the stats file count in step with the download root
// until ctx ends.
func (a *App) WatchFileCount(ctx context.Context) {
	a.stats.WatchFileCount(ctx, a.cfg.Download.Root, stats.DefaultFileCountInterval)
}
