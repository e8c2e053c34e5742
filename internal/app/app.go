// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	gcsclient "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/edu-harvester/internal/archive"
	"github.com/JakeFAU/edu-harvester/internal/clock/system"
	"github.com/JakeFAU/edu-harvester/internal/config"
	"github.com/JakeFAU/edu-harvester/internal/download"
	"github.com/JakeFAU/edu-harvester/internal/filter"
	"github.com/JakeFAU/edu-harvester/internal/ingest"
	"github.com/JakeFAU/edu-harvester/internal/llm"
	"github.com/JakeFAU/edu-harvester/internal/mapping"
	"github.com/JakeFAU/edu-harvester/internal/metrics"
	"github.com/JakeFAU/edu-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/edu-harvester/internal/policy/window"
	"github.com/JakeFAU/edu-harvester/internal/progress"
	progresssinks "github.com/JakeFAU/edu-harvester/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/edu-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/edu-harvester/internal/sorter"
	"github.com/JakeFAU/edu-harvester/internal/stats"
	gcsstorage "github.com/JakeFAU/edu-harvester/internal/storage/gcs"
	memorystorage "github.com/JakeFAU/edu-harvester/internal/storage/memory"
	pgstore "github.com/JakeFAU/edu-harvester/internal/storage/postgres"
	"github.com/JakeFAU/edu-harvester/internal/taxonomy"
)

// App holds all the shared, long-lived services for one process. It is built
// once at startup and closed by the command that built it.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  [16]byte
	reg    prometheus.Registerer
	clock  ingest.Clock

	tax      taxonomy.Taxonomy
	service  ingest.ClassificationService
	limiter  *window.Limiter
	cache    filter.Cache
	filter   *filter.Filter
	stats    *stats.Aggregator
	mappings *mapping.Store
	hub      *progress.Hub
	store    ingest.ObjectStore
	archive  *archive.Sync
	engine   *download.Engine
	sorter   *sorter.Sorter

	sqliteCache *filter.SQLiteCache
	statsStore  *pgstore.StatsStore
	publisher   *gcppublisher.Publisher
	gcs         *gcsclient.Client
}

// Option customizes Build.
type Option func(*App)

// WithRegisterer registers progress collectors somewhere other than the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.reg = reg }
}

// WithClassificationService replaces the configured language model.
func WithClassificationService(svc ingest.ClassificationService) Option {
	return func(a *App) { a.service = svc }
}

// WithObjectStore replaces the configured archive backend.
func WithObjectStore(store ingest.ObjectStore) Option {
	return func(a *App) { a.store = store }
}

// Build creates every service described by cfg. It fails fast: anything
// already opened is closed again before the error is returned.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{
		cfg:    cfg,
		logger: logger,
		runID:  progress.NewRunID(),
		clock:  system.New(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.logger.Info("initializing application services")
	if err := a.build(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.logger.Info("application services initialized")
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	tax, err := taxonomy.LoadFile(a.cfg.Taxonomy.Path)
	if err != nil {
		return fmt.Errorf("taxonomy init failed: %w", err)
	}
	a.tax = tax

	if err := a.setupClassification(); err != nil {
		return err
	}
	if err := a.setupFilter(); err != nil {
		return err
	}
	if err := a.setupStats(ctx); err != nil {
		return err
	}

	a.mappings, err = mapping.Open(a.cfg.Mapping.Path, a.logger)
	if err != nil {
		return fmt.Errorf("mapping store init failed: %w", err)
	}
	a.mappings.SetClock(a.clock)

	if err := a.setupProgress(ctx); err != nil {
		return err
	}
	if err := a.setupArchive(ctx); err != nil {
		return err
	}
	if err := a.setupEngine(); err != nil {
		return err
	}
	a.setupSorter()
	return nil
}

func (a *App) setupClassification() error {
	if a.service == nil {
		if a.cfg.LLM.APIKey == "" {
			a.logger.Warn("no llm api key configured, relying on heuristics")
			a.service = llm.Unavailable{}
		} else {
			svc, err := llm.NewOpenRouter(a.cfg.LLM.APIKey, a.cfg.LLM.Model, a.logger)
			if err != nil {
				return fmt.Errorf("llm init failed: %w", err)
			}
			a.service = svc
		}
	}
	// The filter and the sorter share one request window.
	a.limiter = window.New(window.Config{
		Limit:  a.cfg.Filter.RequestsPerWindow,
		Window: a.cfg.Filter.Window,
	})
	return nil
}

func (a *App) setupFilter() error {
	switch a.cfg.Filter.CacheBackend {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(a.cfg.Filter.CachePath), 0o750); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
		cache, err := filter.OpenSQLiteCache(a.cfg.Filter.CachePath, a.logger)
		if err != nil {
			return fmt.Errorf("decision cache init failed: %w", err)
		}
		a.sqliteCache = cache
		a.cache = cache
		a.logger.Info("using sqlite decision cache", zap.String("path", a.cfg.Filter.CachePath))
	default:
		a.cache = filter.NewMemoryCache()
	}

	fcfg := filter.DefaultConfig()
	fcfg.TargetSubjects = a.cfg.Filter.TargetSubjects
	fcfg.TargetGrades = a.cfg.Filter.TargetGrades
	fcfg.MinConfidence = a.cfg.Filter.MinConfidence
	fcfg.EnableCaching = a.cfg.Filter.EnableCaching
	fcfg.Retries = a.cfg.Filter.Retries
	fcfg.BatchSize = a.cfg.Filter.BatchSize
	fcfg.BatchPause = a.cfg.Filter.BatchPause
	a.filter = filter.New(a.service, a.limiter, a.cache, a.tax, fcfg, a.logger)
	return nil
}

func (a *App) setupStats(ctx context.Context) error {
	var store stats.Store
	switch a.cfg.Stats.Backend {
	case "postgres":
		pg, err := pgstore.NewStatsStore(ctx, pgstore.StatsStoreConfig{
			DSN:   a.cfg.Stats.DSN,
			Table: a.cfg.Stats.Table,
		})
		if err != nil {
			return fmt.Errorf("stats store init failed: %w", err)
		}
		a.statsStore = pg
		store = pg
		a.logger.Info("using postgres stats store", zap.String("table", a.cfg.Stats.Table))
	case "file":
		store = stats.NewFileStore(a.cfg.Stats.Path)
		a.logger.Debug("using file stats store", zap.String("path", a.cfg.Stats.Path))
	default:
		a.logger.Info("stats kept in memory only")
	}
	a.stats = stats.New(ctx, store, a.logger, stats.WithClock(a.clock))
	return nil
}

func (a *App) setupProgress(ctx context.Context) error {
	prom, err := progresssinks.NewPrometheusSink(a.reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		prom,
	}
	if a.cfg.PubSub.ProjectID != "" && a.cfg.PubSub.TopicName != "" {
		pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName, a.logger)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.publisher = pub
		sinkList = append(sinkList, progresssinks.NewPubSubSink(pub))
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger}, sinkList...)
	return nil
}

func (a *App) setupArchive(ctx context.Context) error {
	if !a.cfg.Archive.Enabled && a.store == nil {
		a.logger.Info("remote archival disabled")
		return nil
	}
	rootID := a.cfg.Archive.RootFolderID
	if a.store == nil {
		switch a.cfg.Archive.Backend {
		case "gcs":
			client, err := gcsclient.NewClient(ctx)
			if err != nil {
				return fmt.Errorf("gcs client init failed: %w", err)
			}
			a.gcs = client
			store, err := gcsstorage.New(client, gcsstorage.Config{
				Bucket:     a.cfg.Archive.Bucket,
				RootPrefix: a.cfg.Archive.Prefix,
			})
			if err != nil {
				return fmt.Errorf("gcs object store init failed: %w", err)
			}
			if rootID == "" {
				rootID = store.RootID()
			}
			a.store = store
			a.logger.Info("using GCS archive", zap.String("bucket", a.cfg.Archive.Bucket))
		default:
			a.store = memorystorage.NewObjectStore()
			a.logger.Info("using in-memory archive")
		}
	}
	if rootID == "" {
		rootID = memorystorage.RootID
	}
	sync, err := archive.New(a.store, archive.Config{
		RootID:      rootID,
		StagingDir:  a.cfg.Download.StagingDir,
		AutoCleanup: a.cfg.Archive.AutoCleanup,
	}, a.logger, archive.WithEmitter(a.hub, a.runID), archive.WithLedger(a.mappings))
	if err != nil {
		return fmt.Errorf("archive init failed: %w", err)
	}
	a.archive = sync
	return nil
}

func (a *App) setupEngine() error {
	politeness := ratelimit.New(ratelimit.Config{DefaultRPS: a.cfg.Download.PerDomainRPS})
	opts := []download.Option{
		download.WithPoliteness(politeness),
		download.WithLedger(a.mappings),
		download.WithClock(a.clock),
	}
	var rootID string
	if a.archive != nil {
		opts = append(opts, download.WithArchiver(a.archive))
		rootID = a.archive.RootID()
	}
	engine, err := download.New(download.Config{
		Root:          a.cfg.Download.Root,
		StagingDir:    a.cfg.Download.StagingDir,
		FinishedDir:   a.cfg.Download.FinishedDir,
		MaxBytes:      a.cfg.Download.MaxBytes,
		AutoCleanup:   a.cfg.Archive.AutoCleanup,
		ArchiveRootID: rootID,
	}, download.NewHTTPFetcher(a.cfg.Download.Timeout, a.cfg.Crawler.UserAgent), a.logger, opts...)
	if err != nil {
		return fmt.Errorf("download engine init failed: %w", err)
	}
	a.engine = engine
	return nil
}

func (a *App) setupSorter() {
	opts := []sorter.Option{
		sorter.WithLimiter(a.limiter),
		sorter.WithLedger(a.mappings),
		sorter.WithEmitter(a.hub, a.runID),
		sorter.WithClock(a.clock),
	}
	if a.archive != nil {
		opts = append(opts, sorter.WithRemote(a.store, a.archive))
	}
	a.sorter = sorter.New(a.service, a.tax, sorter.Config{
		ConfidenceThreshold: a.cfg.Sorter.ConfidenceThreshold,
		ItemDelay:           a.cfg.Sorter.ItemDelay,
		Retries:             a.cfg.Filter.Retries,
		StagingDir:          a.cfg.Download.StagingDir,
	}, a.logger, opts...)
}

// Config returns the configuration the services were built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// RunID identifies events emitted outside a crawl run.
func (a *App) RunID() [16]byte { return a.runID }

// Filter returns the relevance filter.
func (a *App) Filter() *filter.Filter { return a.filter }

// Stats returns the counter aggregator.
func (a *App) Stats() *stats.Aggregator { return a.stats }

// Mappings returns the file mapping ledger.
func (a *App) Mappings() *mapping.Store { return a.mappings }

// Progress returns the event hub.
func (a *App) Progress() *progress.Hub { return a.hub }

// Engine returns the download engine.
func (a *App) Engine() *download.Engine { return a.engine }

// Sorter returns the classification sorter.
func (a *App) Sorter() *sorter.Sorter { return a.sorter }

// Archive returns the remote archive sync, or nil when archival is disabled.
func (a *App) Archive() *archive.Sync { return a.archive }

// FinishedDir is the local tree approved downloads land in.
func (a *App) FinishedDir() string {
	return filepath.Join(a.cfg.Download.Root, a.cfg.Download.FinishedDir)
}

// ErrArchiveDisabled is returned by operations that need remote archival.
var ErrArchiveDisabled = errors.New("remote archival is disabled")

// Close gracefully shuts down all services in the container. The progress hub
// is drained before the publisher it feeds is closed.
func (a *App) Close(ctx context.Context) {
	a.logger.Info("shutting down application services")
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.sqliteCache != nil {
		if err := a.sqliteCache.Close(); err != nil {
			a.logger.Warn("decision cache close failed", zap.Error(err))
		}
	}
	if a.statsStore != nil {
		a.statsStore.Close()
	}
}
