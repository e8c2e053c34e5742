package orchestrator

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrAlreadyRunning is returned by Start while a run is active.
	ErrAlreadyRunning = errors.New("harvester is already running")
	// ErrNotRunning is returned by Stop when nothing is running.
	ErrNotRunning = errors.New("harvester is not running")
)

// RunFunc performs one complete run and returns when it finishes or ctx ends.
type RunFunc func(ctx context.Context) error

// Controller starts and stops at most one background run at a time.
type Controller struct {
	run    RunFunc
	logger *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// NewController wraps run.
func NewController(run RunFunc, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{run: run, logger: logger.Named("controller")}
}

// Start launches a run detached from the caller's context but bound to
// parent, which normally lives as long as the process.
func (c *Controller) Start(parent context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.lastErr = nil

	go func() {
		defer close(done)
		err := c.run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("run failed", zap.Error(err))
		} else {
			c.logger.Info("run finished")
		}
		c.mu.Lock()
		c.lastErr = err
		c.cancel = nil
		c.mu.Unlock()
		cancel()
	}()
	c.logger.Info("run started")
	return nil
}

// Stop signals the active run to finish. It does not wait; use Wait for that.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return ErrNotRunning
	}
	c.cancel()
	c.logger.Info("stop signal sent")
	return nil
}

// Running reports whether a run is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Wait blocks until the current run, if any, has finished or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastError returns the error of the most recent finished run.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
