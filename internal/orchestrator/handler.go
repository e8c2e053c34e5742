// Package orchestrator routes crawled pages through the relevance filter and
// the download engine, and runs page handling on a bounded worker pool.
package orchestrator

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/edu-harvester/internal/download"
	"github.com/JakeFAU/edu-harvester/internal/ingest"
	"github.com/JakeFAU/edu-harvester/internal/metrics"
	"github.com/JakeFAU/edu-harvester/internal/progress"
)

// DefaultExtensions are the candidate file types when none are configured.
var DefaultExtensions = []string{"pdf", "doc", "docx", "ppt", "pptx", "xls", "xlsx", "zip"}

// Decider returns one decision per link in input order.
type Decider interface {
	DecideBatch(ctx context.Context, links []ingest.LinkContext) []ingest.FilterDecision
}

// Acquirer downloads one approved URL.
type Acquirer interface {
	Acquire(ctx context.Context, url, targetFolder string) ingest.DownloadOutcome
}

// HandlerConfig controls which links are candidates and where they land.
type HandlerConfig struct {
	// Extensions lists candidate file extensions without the dot.
	Extensions []string
	// GroupByHost stores downloads under finished/<host>/.
	GroupByHost bool
}

// Handler processes one page at a time; it is safe for concurrent use.
type Handler struct {
	filter   Decider
	acquirer Acquirer
	stats    ingest.StatsRecorder
	emitter  progress.Emitter
	runID    [16]byte
	exts     map[string]bool
	byHost   bool
	logger   *zap.Logger
}

// NewHandler wires the pipeline stages together.
func NewHandler(
	filter Decider,
	acquirer Acquirer,
	stats ingest.StatsRecorder,
	emitter progress.Emitter,
	runID [16]byte,
	cfg HandlerConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))] = true
	}
	return &Handler{
		filter:   filter,
		acquirer: acquirer,
		stats:    stats,
		emitter:  emitter,
		runID:    runID,
		exts:     set,
		byHost:   cfg.GroupByHost,
		logger:   logger.Named("orchestrator"),
	}
}

// HandlePage filters the page's file links and downloads the approved ones.
// Rejected links are counted and dropped.
func (h *Handler) HandlePage(ctx context.Context, page ingest.Page) {
	logger := h.logger.With(zap.String("page", page.URL))
	if page.Err != nil {
		logger.Warn("page failed", zap.Error(page.Err))
		h.stats.IncrementURLsProcessed(false)
		metrics.ObservePage("failed")
		return
	}
	h.stats.IncrementURLsProcessed(true)
	metrics.ObservePage("ok")

	candidates := h.candidates(page)
	if len(candidates) == 0 {
		return
	}
	logger.Debug("candidate links", zap.Int("count", len(candidates)))

	decisions := h.filter.DecideBatch(ctx, candidates)
	if ctx.Err() != nil {
		// Decisions made while stopping are heuristic stand-ins, not verdicts.
		logger.Debug("run stopped during filtering, decisions discarded", zap.Int("count", len(decisions)))
		return
	}
	for i, decision := range decisions {
		link := candidates[i]
		h.stats.RecordDecision(decision)
		h.emitter.Emit(progress.Event{
			RunID:      h.runID,
			Stage:      progress.StageDecision,
			URL:        link.URL,
			Note:       decision.Reasoning,
			Confidence: decision.Confidence,
			Approved:   decision.ShouldDownload,
		})
		if !decision.ShouldDownload {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		h.acquire(ctx, link, logger)
	}
}

func (h *Handler) acquire(ctx context.Context, link ingest.LinkContext, logger *zap.Logger) {
	outcome := h.acquirer.Acquire(ctx, link.URL, h.targetFolder(link.URL))
	evt := progress.Event{
		RunID: h.runID,
		Stage: progress.DownloadStage(outcome.Status),
		URL:   link.URL,
		Path:  outcome.Path,
		Bytes: outcome.Bytes,
	}
	switch outcome.Status {
	case ingest.OutcomeSuccess:
		h.stats.IncrementDownloaded()
		evt.Note = outcome.RemoteID
	case ingest.OutcomeFailed:
		if outcome.Err != nil {
			evt.Note = outcome.Err.Error()
		}
		if errors.Is(outcome.Err, context.Canceled) {
			logger.Debug("download abandoned on shutdown", zap.String("url", link.URL))
			break
		}
		h.stats.IncrementErrors()
	}
	h.emitter.Emit(evt)
}

// candidates returns the page links whose path ends in a wanted extension,
// deduplicated by URL.
func (h *Handler) candidates(page ingest.Page) []ingest.LinkContext {
	seen := make(map[string]bool, len(page.Links))
	var out []ingest.LinkContext
	for _, link := range page.Links {
		if link.URL == "" || seen[link.URL] {
			continue
		}
		u, err := url.Parse(link.URL)
		if err != nil {
			continue
		}
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
		if !h.exts[ext] {
			continue
		}
		seen[link.URL] = true
		if link.PageTitle == "" {
			link.PageTitle = page.Title
		}
		out = append(out, link)
	}
	return out
}

func (h *Handler) targetFolder(rawURL string) string {
	if !h.byHost {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return download.Sanitize(strings.TrimPrefix(u.Hostname(), "www."))
}
