package crawl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
)

// CollySource crawls static HTML with a colly collector.
type CollySource struct {
	cfg      Config
	renderer Renderer
	blocked  *domainSet
	logger   *zap.Logger
}

// CollyOption customizes a CollySource.
type CollyOption func(*CollySource)

// WithRenderer promotes script-heavy pages to r.
func WithRenderer(r Renderer) CollyOption {
	return func(s *CollySource) {
		s.renderer = r
	}
}

// NewCollySource validates cfg and builds a source.
func NewCollySource(cfg Config, logger *zap.Logger, opts ...CollyOption) (*CollySource, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &CollySource{
		cfg:     cfg,
		blocked: newDomainSet(cfg.BlockedDomains),
		logger:  logger.Named("crawl"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Crawl visits the start URLs and follows same-site links until the frontier
// is exhausted or ctx is canceled.
func (s *CollySource) Crawl(ctx context.Context, emit func(ingest.Page)) error {
	collector, err := s.collector()
	if err != nil {
		return err
	}
	var pages atomic.Int64
	limitReached := func() bool {
		return s.cfg.MaxPages > 0 && pages.Load() >= int64(s.cfg.MaxPages)
	}

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil || limitReached() || s.blocked.Contains(r.URL.Hostname()) {
			r.Abort()
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		if ctx.Err() != nil || isHTML(r) {
			return
		}
		s.logger.Debug("non-html page ignored", zap.String("url", r.Request.URL.String()))
	})
	collector.OnHTML("html", func(e *colly.HTMLElement) {
		if ctx.Err() != nil || limitReached() {
			return
		}
		pages.Add(1)
		page := s.page(ctx, e)
		emit(page)
		for _, link := range page.Links {
			u, err := url.Parse(link.URL)
			if err != nil || !isPageLink(u) {
				continue
			}
			if err := e.Request.Visit(link.URL); err != nil && !benignVisitError(err) {
				s.logger.Debug("visit skipped", zap.String("url", link.URL), zap.Error(err))
			}
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("request failed",
			zap.String("url", r.Request.URL.String()),
			zap.Int("status_code", r.StatusCode),
			zap.Error(err),
		)
		emit(ingest.Page{URL: r.Request.URL.String(), Err: fmt.Errorf("fetch page: %w", err)})
	})

	var visitErrs []error
	for _, start := range s.cfg.StartURLs {
		if err := collector.Visit(start); err != nil && !benignVisitError(err) {
			visitErrs = append(visitErrs, fmt.Errorf("visit %s: %w", start, err))
		}
	}

	// Requests issued after cancellation are aborted in OnRequest, so Wait
	// only drains what is already in flight.
	collector.Wait()
	if ctx.Err() != nil {
		return fmt.Errorf("crawl canceled: %w", ctx.Err())
	}
	if len(visitErrs) == len(s.cfg.StartURLs) {
		return errors.Join(visitErrs...)
	}
	for _, err := range visitErrs {
		s.logger.Warn("start url skipped", zap.Error(err))
	}
	s.logger.Info("crawl finished", zap.Int64("pages", pages.Load()))
	return nil
}

func (s *CollySource) collector() (*colly.Collector, error) {
	opts := []colly.CollectorOption{
		colly.UserAgent(s.cfg.UserAgent),
		colly.Async(true),
		colly.AllowedDomains(s.allowedHosts()...),
	}
	if s.cfg.MaxDepth > 0 {
		opts = append(opts, colly.MaxDepth(s.cfg.MaxDepth))
	}
	c := colly.NewCollector(opts...)
	c.AllowURLRevisit = false
	c.IgnoreRobotsTxt = !s.cfg.RespectRobots
	c.SetRequestTimeout(s.cfg.Timeout)
	c.WithTransport(newHTTPTransport())
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: s.cfg.Parallelism,
		Delay:       s.cfg.Delay,
	}); err != nil {
		return nil, fmt.Errorf("set collector limits: %w", err)
	}
	return c, nil
}

// allowedHosts returns the configured domains plus every start URL host,
// each with and without "www.".
func (s *CollySource) allowedHosts() []string {
	seen := make(map[string]bool)
	var hosts []string
	add := func(host string) {
		host = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(host)), "www.")
		if host == "" || seen[host] {
			return
		}
		seen[host] = true
		hosts = append(hosts, host, "www."+host)
	}
	for _, d := range s.cfg.AllowedDomains {
		add(d)
	}
	for _, raw := range s.cfg.StartURLs {
		if u, err := url.Parse(raw); err == nil {
			add(u.Hostname())
		}
	}
	return hosts
}

func (s *CollySource) page(ctx context.Context, e *colly.HTMLElement) ingest.Page {
	pageURL := e.Request.URL
	if s.renderer != nil && needsRender(e.Response.Body, s.cfg.RenderThreshold) {
		html, finalURL, err := s.renderer.Render(ctx, pageURL.String())
		if err == nil {
			if u, perr := url.Parse(finalURL); perr == nil {
				pageURL = u
			}
			if page, perr := ParsePage(strings.NewReader(html), pageURL); perr == nil {
				s.logger.Debug("page rendered", zap.String("url", pageURL.String()))
				return page
			}
		} else {
			s.logger.Warn("render failed, using static html", zap.String("url", pageURL.String()), zap.Error(err))
		}
		pageURL = e.Request.URL
	}
	return ExtractPage(e.DOM, pageURL)
}

func isHTML(r *colly.Response) bool {
	ct := strings.ToLower(r.Headers.Get("Content-Type"))
	return strings.Contains(ct, "html") || bytes.HasPrefix(bytes.TrimSpace(r.Body), []byte("<"))
}

func benignVisitError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already visited") ||
		errors.Is(err, colly.ErrForbiddenDomain) ||
		errors.Is(err, colly.ErrMaxDepth) ||
		errors.Is(err, colly.ErrRobotsTxtBlocked) ||
		errors.Is(err, colly.ErrAbortedAfterHeaders)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
