package crawl

import (
	"errors"
	"time"
)

// Config controls how a source walks a site.
type Config struct {
	// StartURLs seed the crawl.
	StartURLs []string
	// AllowedDomains restricts followed links. The hosts of StartURLs are
	// always allowed.
	AllowedDomains []string
	// BlockedDomains accepts exact hosts and "*.suffix" patterns.
	BlockedDomains []string
	// MaxDepth limits crawl depth with start pages at depth 1; 0 means
	// unlimited.
	MaxDepth int
	// MaxPages stops the crawl after this many pages; 0 means unlimited.
	MaxPages      int
	UserAgent     string
	Parallelism   int
	Delay         time.Duration
	Timeout       time.Duration
	RespectRobots bool
	// RenderThreshold is the body size under which script-heavy pages are
	// promoted to the renderer.
	RenderThreshold int
}

const (
	defaultUserAgent   = "edu-harvester/1.0 (+https://github.com/JakeFAU/edu-harvester)"
	defaultParallelism = 4
	defaultTimeout     = 30 * time.Second
	maxContextRunes    = 300
)

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.Parallelism <= 0 {
		c.Parallelism = defaultParallelism
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxDepth < 0 {
		c.MaxDepth = 0
	}
	return c
}

func (c Config) validate() error {
	if len(c.StartURLs) == 0 {
		return errors.New("at least one start url is required")
	}
	return nil
}
