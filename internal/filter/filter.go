// Package filter decides, per candidate link, whether it is worth downloading.
//
// Decisions come from the remote classification service when it is available
// and from a deterministic keyword heuristic when it is not, so Decide always
// returns a usable answer.
package filter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
	"github.com/JakeFAU/edu-harvester/internal/metrics"
	"github.com/JakeFAU/edu-harvester/internal/taxonomy"
)

// Defaults.
const (
	DefaultMinConfidence = 0.6
	DefaultRetries       = 3
	DefaultBatchSize     = 5
	DefaultBatchPause    = time.Second
	DefaultBackoffUnit   = 10 * time.Second

	cacheKeyContextRunes = 50
)

// Decision sources used for metrics.
const (
	sourceAI       = "ai"
	sourceCache    = "cache"
	sourceFallback = "fallback"
)

var knownExtension = regexp.MustCompile(`(?i)\.(pdf|docx?|pptx?|xlsx?|zip)$`)

// Limiter throttles calls to the classification service.
type Limiter interface {
	Acquire(ctx context.Context) error
	Stats() int
}

// Config holds filter configuration.
type Config struct {
	TargetSubjects []string
	TargetGrades   []string
	MinConfidence  float64
	EnableCaching  bool
	Retries        int
	BatchSize      int
	BatchPause     time.Duration
	// BackoffUnit is multiplied by (attempt+1) after a quota error.
	BackoffUnit time.Duration
}

// DefaultConfig returns the stock filter configuration.
func DefaultConfig() Config {
	return Config{
		MinConfidence: DefaultMinConfidence,
		EnableCaching: true,
		Retries:       DefaultRetries,
		BatchSize:     DefaultBatchSize,
		BatchPause:    DefaultBatchPause,
		BackoffUnit:   DefaultBackoffUnit,
	}
}

func (c Config) normalized() Config {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		c.MinConfidence = DefaultMinConfidence
	}
	if c.Retries <= 0 {
		c.Retries = DefaultRetries
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchPause < 0 {
		c.BatchPause = 0
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = DefaultBackoffUnit
	}
	return c
}

// CacheStats summarizes cache and quota usage.
type CacheStats struct {
	CacheSize     int   `json:"cacheSize"`
	RequestCount  int   `json:"requestCount"`
	TotalRequests int64 `json:"totalRequests"`
	CacheEnabled  bool  `json:"cacheEnabled"`
}

// Filter is the relevance filter.
type Filter struct {
	service ingest.ClassificationService
	limiter Limiter
	cache   Cache
	tax     taxonomy.Taxonomy
	logger  *zap.Logger

	mu       sync.RWMutex
	cfg      Config
	requests atomic.Int64
}

// New creates a Filter. A nil cache disables memoization regardless of config.
func New(
	service ingest.ClassificationService,
	limiter Limiter,
	cache Cache,
	tax taxonomy.Taxonomy,
	cfg Config,
	logger *zap.Logger,
) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewMemoryCache()
		cfg.EnableCaching = false
	}
	return &Filter{
		service: service,
		limiter: limiter,
		cache:   cache,
		tax:     tax,
		logger:  logger.Named("filter"),
		cfg:     cfg.normalized(),
	}
}

// Config returns the active configuration.
func (f *Filter) Config() Config {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg
}

// UpdateConfig replaces the active configuration. In-flight decisions keep
// the configuration they started with.
func (f *Filter) UpdateConfig(cfg Config) {
	cfg = cfg.normalized()
	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()
	f.logger.Info("filter configuration updated",
		zap.Strings("target_subjects", cfg.TargetSubjects),
		zap.Strings("target_grades", cfg.TargetGrades),
		zap.Float64("min_confidence", cfg.MinConfidence),
		zap.Bool("enable_caching", cfg.EnableCaching),
	)
}

// CacheStats reports cache size and request counters.
func (f *Filter) CacheStats() CacheStats {
	return CacheStats{
		CacheSize:     f.cache.Len(),
		RequestCount:  f.limiter.Stats(),
		TotalRequests: f.requests.Load(),
		CacheEnabled:  f.Config().EnableCaching,
	}
}

// ClearCache drops every memoized decision.
func (f *Filter) ClearCache() {
	f.cache.Clear()
	f.logger.Info("decision cache cleared")
}

// CacheKey is the memoization key for a link.
func CacheKey(link ingest.LinkContext) string {
	surrounding := []rune(link.SurroundingText)
	if len(surrounding) > cacheKeyContextRunes {
		surrounding = surrounding[:cacheKeyContextRunes]
	}
	return link.URL + "|" + link.LinkText + "|" + string(surrounding)
}

// Decide returns the relevance decision for one link. It never fails.
func (f *Filter) Decide(ctx context.Context, link ingest.LinkContext) ingest.FilterDecision {
	cfg := f.Config()
	key := CacheKey(link)
	logger := f.logger.With(zap.String("url", link.URL))

	if cfg.EnableCaching {
		if cached, ok := f.cache.Get(key); ok {
			logger.Debug("decision cache hit")
			metrics.ObserveFilterDecision(sourceCache, cached.ShouldDownload)
			return cached
		}
	}

	if err := f.limiter.Acquire(ctx); err != nil {
		logger.Warn("rate limit wait interrupted, using fallback", zap.Error(err))
		return f.fallback(link, cfg)
	}
	f.requests.Add(1)

	req := ingest.ClassifyRequest{
		Kind:   ingest.KindRelevance,
		Prompt: buildPrompt(link, cfg, f.tax),
		Link:   &link,
	}
	for attempt := 0; attempt < cfg.Retries; attempt++ {
		resp, err := f.service.Classify(ctx, req)
		if err == nil {
			decision := parseDecision(resp.Raw, cfg.MinConfidence)
			if cfg.EnableCaching {
				f.cache.Set(key, decision)
			}
			metrics.ObserveFilterDecision(sourceAI, decision.ShouldDownload)
			logger.Debug("ai decision",
				zap.Bool("should_download", decision.ShouldDownload),
				zap.Float64("confidence", decision.Confidence),
				zap.String("reasoning", decision.Reasoning),
			)
			return decision
		}
		if !errors.Is(err, ingest.ErrQuotaExceeded) {
			logger.Warn("classification failed, using fallback", zap.Error(err))
			break
		}
		if attempt == cfg.Retries-1 {
			logger.Warn("quota retries exhausted, using fallback", zap.Int("attempts", cfg.Retries))
			break
		}
		wait := time.Duration(attempt+1) * cfg.BackoffUnit
		logger.Warn("quota exceeded, backing off",
			zap.Duration("wait", wait),
			zap.Int("attempt", attempt+1),
			zap.Int("retries", cfg.Retries),
		)
		if err := sleep(ctx, wait); err != nil {
			break
		}
	}
	return f.fallback(link, cfg)
}

// DecideBatch decides every link, running up to BatchSize decisions at once
// and pausing between batches. Results keep the input order.
func (f *Filter) DecideBatch(ctx context.Context, links []ingest.LinkContext) []ingest.FilterDecision {
	cfg := f.Config()
	out := make([]ingest.FilterDecision, len(links))
	for start := 0; start < len(links); start += cfg.BatchSize {
		end := min(start+cfg.BatchSize, len(links))
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				out[i] = f.Decide(ctx, links[i])
			}(i)
		}
		wg.Wait()
		if end < len(links) && cfg.BatchPause > 0 {
			// Cancellation is handled by Decide; the pause just ends early.
			_ = sleep(ctx, cfg.BatchPause)
		}
	}
	return out
}

func (f *Filter) fallback(link ingest.LinkContext, cfg Config) ingest.FilterDecision {
	decision := Heuristic(link, cfg, f.tax)
	metrics.ObserveFilterDecision(sourceFallback, decision.ShouldDownload)
	return decision
}

// Heuristic is the local keyword fallback: a known document extension plus a
// subject or grade keyword anywhere in the URL, link text or surrounding text.
func Heuristic(link ingest.LinkContext, cfg Config, tax taxonomy.Taxonomy) ingest.FilterDecision {
	combined := strings.ToLower(link.URL + " " + link.LinkText + " " + link.SurroundingText)

	subjects := cfg.TargetSubjects
	if len(subjects) == 0 {
		subjects = tax.FilterSubjects
	}
	grades := cfg.TargetGrades
	if len(grades) == 0 {
		grades = tax.FilterGrades
	}

	should := hasKnownExtension(link.URL) && (containsAny(combined, subjects) || containsAny(combined, grades))
	confidence := 0.3
	if should {
		confidence = 0.5
	}
	return ingest.FilterDecision{
		ShouldDownload: should,
		Confidence:     confidence,
		Reasoning:      ingest.FallbackReasoning,
	}
}

func hasKnownExtension(rawURL string) bool {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}
	return knownExtension.MatchString(path)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// parseDecision reads the service reply field by field so that a missing or
// mistyped field falls back to its default instead of voiding the answer.
func parseDecision(raw string, minConfidence float64) ingest.FilterDecision {
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		fields = nil
	}

	decision := ingest.FilterDecision{
		Confidence: ingest.DefaultConfidence,
		Reasoning:  ingest.DefaultReasoning,
	}
	if v, ok := fields["shouldDownload"].(bool); ok {
		decision.ShouldDownload = v
	}
	if v, ok := fields["confidence"].(float64); ok {
		decision.Confidence = clamp01(v)
	}
	if v, ok := fields["reasoning"].(string); ok && strings.TrimSpace(v) != "" {
		decision.Reasoning = v
	}
	decision.DetectedSubject = optionalString(fields["detectedSubject"])
	decision.DetectedGrade = optionalString(fields["detectedGrade"])

	if decision.Confidence < minConfidence {
		decision.ShouldDownload = false
		decision.Reasoning += fmt.Sprintf(" (Confidence %.2f below threshold %g)", decision.Confidence, minConfidence)
	}
	return decision
}

func optionalString(v any) string {
	s, ok := v.(string)
	if !ok || strings.EqualFold(s, "null") {
		return ""
	}
	return s
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
