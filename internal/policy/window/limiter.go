// Package window implements a fixed-window request limiter for the remote
// classification service.
package window

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/edu-harvester/internal/metrics"
)

// Defaults match the free-tier quota of the classification service.
const (
	DefaultLimit  = 15
	DefaultWindow = time.Minute
)

// Config holds limiter configuration.
type Config struct {
	Limit  int
	Window time.Duration
	// Scope labels observed wait durations.
	Scope string
}

// Limiter admits at most Limit requests per Window. Once the limit is reached,
// Acquire blocks until the current window rolls over.
type Limiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	scope       string
	count       int
	windowStart time.Time
	now         func() time.Time
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Scope == "" {
		cfg.Scope = "classification"
	}
	return &Limiter{
		limit:  cfg.Limit,
		window: cfg.Window,
		scope:  cfg.Scope,
		now:    time.Now,
	}
}

// Acquire reserves one request slot, waiting for the window to reset when the
// limit has been reached. It returns ctx.Err() if the wait is interrupted.
func (l *Limiter) Acquire(ctx context.Context) error {
	var waited time.Duration
	for {
		l.mu.Lock()
		now := l.now()
		if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
			l.windowStart = now
			l.count = 0
		}
		if l.count < l.limit {
			l.count++
			l.mu.Unlock()
			if waited > 0 {
				metrics.ObserveRateLimitDelay(l.scope, waited)
			}
			return nil
		}
		wait := l.window - now.Sub(l.windowStart)
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("window wait: %w", ctx.Err())
		case <-timer.C:
			waited += wait
		}
	}
}

// Stats returns the number of requests issued in the current window.
func (l *Limiter) Stats() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.windowStart.IsZero() || l.now().Sub(l.windowStart) >= l.window {
		return 0
	}
	return l.count
}

// Limit returns the configured request budget per window.
func (l *Limiter) Limit() int {
	return l.limit
}
