package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
	"github.com/JakeFAU/edu-harvester/internal/metrics"
	"github.com/JakeFAU/edu-harvester/internal/progress"
	"github.com/JakeFAU/edu-harvester/internal/queue/memory"
)

// PageSource produces visited pages. Crawl blocks until the crawl completes
// or ctx is canceled and calls emit once per page.
type PageSource interface {
	Crawl(ctx context.Context, emit func(ingest.Page)) error
}

// PageHandler processes a single page.
type PageHandler interface {
	HandlePage(ctx context.Context, page ingest.Page)
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Workers   int
	QueueSize int
}

// Pool fans pages out to a fixed number of workers.
type Pool struct {
	handler PageHandler
	stats   ingest.StatsRecorder
	emitter progress.Emitter
	runID   [16]byte
	cfg     PoolConfig
	logger  *zap.Logger
	active  atomic.Int32
}

// NewPool constructs a Pool. Workers defaults to 1 and QueueSize to 4x Workers.
func NewPool(
	handler PageHandler,
	stats ingest.StatsRecorder,
	emitter progress.Emitter,
	runID [16]byte,
	cfg PoolConfig,
	logger *zap.Logger,
) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 4
	}
	return &Pool{
		handler: handler,
		stats:   stats,
		emitter: emitter,
		runID:   runID,
		cfg:     cfg,
		logger:  logger.Named("pool"),
	}
}

// Run crawls source and hands every page to the workers. It returns once the
// crawl has finished and all queued pages were handled, or ctx was canceled.
func (p *Pool) Run(ctx context.Context, source PageSource) error {
	p.stats.SetRunning(true, p.cfg.Workers)
	defer p.stats.SetRunning(false, 0)
	p.emitter.Emit(progress.Event{RunID: p.runID, Stage: progress.StageRunStart})

	q := memory.NewQueue[ingest.Page](p.cfg.QueueSize)
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.work(ctx, id, q)
		}(i)
	}

	crawlErr := source.Crawl(ctx, func(page ingest.Page) {
		if err := q.Enqueue(ctx, page); err != nil {
			p.logger.Debug("page dropped", zap.String("url", page.URL), zap.Error(err))
		}
	})
	q.Close()
	wg.Wait()

	note := ""
	if crawlErr != nil {
		note = crawlErr.Error()
	}
	p.emitter.Emit(progress.Event{RunID: p.runID, Stage: progress.StageRunDone, Note: note})

	if crawlErr != nil && !errors.Is(crawlErr, context.Canceled) {
		return fmt.Errorf("crawl: %w", crawlErr)
	}
	return nil
}

func (p *Pool) work(ctx context.Context, id int, q *memory.Queue[ingest.Page]) {
	logger := p.logger.With(zap.Int("worker", id))
	for {
		page, err := q.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, memory.ErrClosed) && ctx.Err() == nil {
				logger.Error("dequeue failed", zap.Error(err))
			}
			return
		}
		p.begin()
		p.handler.HandlePage(ctx, page)
		p.end()
	}
}

func (p *Pool) begin() {
	metrics.IncActiveWorkers()
	p.stats.SetActiveThreads(int(p.active.Add(1)))
}

func (p *Pool) end() {
	metrics.DecActiveWorkers()
	p.stats.SetActiveThreads(int(p.active.Add(-1)))
}
