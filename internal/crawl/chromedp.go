package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
)

// ChromedpSource crawls by rendering every page, for sites whose links only
// exist after scripts run.
type ChromedpSource struct {
	cfg      Config
	renderer Renderer
	allowed  map[string]bool
	blocked  *domainSet
	logger   *zap.Logger
}

// NewChromedpSource builds a source around renderer, usually a ChromeRenderer.
func NewChromedpSource(cfg Config, renderer Renderer, logger *zap.Logger) (*ChromedpSource, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]bool)
	for _, d := range cfg.AllowedDomains {
		allowed[strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")] = true
	}
	for _, raw := range cfg.StartURLs {
		if u, err := url.Parse(raw); err == nil {
			allowed[hostOf(u)] = true
		}
	}
	return &ChromedpSource{
		cfg:      cfg,
		renderer: renderer,
		allowed:  allowed,
		blocked:  newDomainSet(cfg.BlockedDomains),
		logger:   logger.Named("crawl"),
	}, nil
}

// Crawl renders the site breadth first, one depth level at a time.
func (s *ChromedpSource) Crawl(ctx context.Context, emit func(ingest.Page)) error {
	visited := make(map[string]bool)
	var frontier []string
	for _, raw := range s.cfg.StartURLs {
		norm, err := NormalizeURL(raw)
		if err != nil {
			s.logger.Warn("start url skipped", zap.String("url", raw), zap.Error(err))
			continue
		}
		if !visited[norm] {
			visited[norm] = true
			frontier = append(frontier, norm)
		}
	}
	if len(frontier) == 0 {
		return errors.New("no valid start urls")
	}

	pages := 0
	for depth := 1; len(frontier) > 0; depth++ {
		if s.cfg.MaxDepth > 0 && depth > s.cfg.MaxDepth {
			break
		}
		if s.cfg.MaxPages > 0 {
			remaining := s.cfg.MaxPages - pages
			if remaining <= 0 {
				break
			}
			if len(frontier) > remaining {
				frontier = frontier[:remaining]
			}
		}
		results := s.renderLevel(ctx, frontier)
		if ctx.Err() != nil {
			return fmt.Errorf("crawl canceled: %w", ctx.Err())
		}
		var next []string
		for _, page := range results {
			pages++
			emit(page)
			if page.Err != nil {
				continue
			}
			for _, link := range page.Links {
				if visited[link.URL] || !s.follow(link.URL) {
					continue
				}
				visited[link.URL] = true
				next = append(next, link.URL)
			}
		}
		frontier = next
	}
	s.logger.Info("crawl finished", zap.Int("pages", pages))
	return nil
}

// renderLevel renders urls with bounded parallelism and returns the pages in
// input order.
func (s *ChromedpSource) renderLevel(ctx context.Context, urls []string) []ingest.Page {
	out := make([]ingest.Page, len(urls))
	sem := make(chan struct{}, s.cfg.Parallelism)
	var wg sync.WaitGroup
	for i, u := range urls {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil
		}
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			defer func() { <-sem }()
			out[i] = s.renderPage(ctx, u)
		}(i, u)
		if s.cfg.Delay > 0 {
			select {
			case <-time.After(s.cfg.Delay):
			case <-ctx.Done():
			}
		}
	}
	wg.Wait()
	return out
}

func (s *ChromedpSource) renderPage(ctx context.Context, rawURL string) ingest.Page {
	html, finalURL, err := s.renderer.Render(ctx, rawURL)
	if err != nil {
		s.logger.Warn("render failed", zap.String("url", rawURL), zap.Error(err))
		return ingest.Page{URL: rawURL, Err: fmt.Errorf("render page: %w", err)}
	}
	pageURL, err := url.Parse(finalURL)
	if err != nil {
		pageURL, _ = url.Parse(rawURL)
	}
	page, err := ParsePage(strings.NewReader(html), pageURL)
	if err != nil {
		return ingest.Page{URL: rawURL, Err: err}
	}
	return page
}

func (s *ChromedpSource) follow(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || !isPageLink(u) {
		return false
	}
	if s.blocked.Contains(u.Hostname()) {
		return false
	}
	return s.allowed[hostOf(u)]
}
