// Package stats aggregates pipeline counters and persists them after every
// change so a restart resumes where the previous process stopped.
package stats

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
)

// DefaultMaxConcurrency is reported before any run configured one.
const DefaultMaxConcurrency = 5

// DefaultFileCountInterval is how often WatchFileCount rescans by default.
const DefaultFileCountInterval = 10 * time.Second

const persistTimeout = 5 * time.Second

// AIFilterStats summarizes relevance decisions.
type AIFilterStats struct {
	TotalAnalyzed     int64   `json:"totalAnalyzed"`
	Approved          int64   `json:"approved"`
	Rejected          int64   `json:"rejected"`
	AverageConfidence float64 `json:"averageConfidence"`
}

// State is the persisted set of raw counters.
type State struct {
	IsRunning       bool          `json:"isRunning"`
	FileCount       int           `json:"fileCount"`
	ActiveThreads   int           `json:"activeThreads"`
	MaxConcurrency  int           `json:"maxConcurrency"`
	URLsProcessed   int64         `json:"urlsProcessed"`
	URLsFailed      int64         `json:"urlsFailed"`
	TotalDownloaded int64         `json:"totalDownloaded"`
	TotalErrors     int64         `json:"totalErrors"`
	TotalFiltered   int64         `json:"totalFiltered"`
	AIFilterStats   AIFilterStats `json:"aiFilterStats"`
	StartTime       *time.Time    `json:"startTime"`
	LastActivity    *time.Time    `json:"lastActivity"`
}

func initialState() State {
	return State{MaxConcurrency: DefaultMaxConcurrency}
}

// Snapshot is State plus the derived rates.
type Snapshot struct {
	State
	// DownloadSpeed is files per minute since StartTime.
	DownloadSpeed float64 `json:"downloadSpeed"`
	// SuccessRate is the percentage of processed URLs that did not fail.
	SuccessRate float64 `json:"successRate"`
	// FilterRate is the percentage of analyzed links that were rejected.
	FilterRate float64 `json:"filterRate"`
}

// Store persists State.
type Store interface {
	Save(ctx context.Context, state State) error
	// Load returns false when nothing has been saved yet.
	Load(ctx context.Context) (State, bool, error)
}

// Aggregator implements ingest.StatsRecorder.
type Aggregator struct {
	mu     sync.Mutex
	state  State
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

var _ ingest.StatsRecorder = (*Aggregator)(nil)

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the wall clock.
func WithClock(c ingest.Clock) Option {
	return func(a *Aggregator) { a.now = c.Now }
}

// New restores the last saved state from store, or starts fresh. A nil store
// keeps counters in memory only.
func New(ctx context.Context, store Store, logger *zap.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	a := &Aggregator{
		state:  initialState(),
		store:  store,
		now:    time.Now,
		logger: logger.Named("stats"),
	}
	for _, opt := range opts {
		opt(a)
	}
	state, ok, err := store.Load(ctx)
	switch {
	case err != nil:
		a.logger.Warn("failed to load stats, starting fresh", zap.Error(err))
	case ok:
		a.state = state
	}
	return a
}

// update applies fn, stamps lastActivity and persists the full state.
func (a *Aggregator) update(fn func(s *State)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.state)
	now := a.now()
	a.state.LastActivity = &now
	a.persistLocked()
}

func (a *Aggregator) persistLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := a.store.Save(ctx, a.state); err != nil {
		a.logger.Warn("failed to persist stats", zap.Error(err))
	}
}

// IncrementURLsProcessed counts one handled page.
func (a *Aggregator) IncrementURLsProcessed(success bool) {
	a.update(func(s *State) {
		s.URLsProcessed++
		if !success {
			s.URLsFailed++
		}
	})
}

// IncrementDownloaded counts one finalized download.
func (a *Aggregator) IncrementDownloaded() {
	a.update(func(s *State) { s.TotalDownloaded++ })
}

// IncrementErrors counts one failed download.
func (a *Aggregator) IncrementErrors() {
	a.update(func(s *State) { s.TotalErrors++ })
}

// IncrementFiltered counts one rejected link.
func (a *Aggregator) IncrementFiltered() {
	a.update(func(s *State) { s.TotalFiltered++ })
}

// UpdateAIFilterStats folds one decision into the running averages.
func (a *Aggregator) UpdateAIFilterStats(approved bool, confidence float64) {
	a.update(func(s *State) { foldDecision(s, approved, confidence) })
}

func foldDecision(s *State, approved bool, confidence float64) {
	ai := &s.AIFilterStats
	ai.TotalAnalyzed++
	if approved {
		ai.Approved++
	} else {
		ai.Rejected++
	}
	ai.AverageConfidence += (confidence - ai.AverageConfidence) / float64(ai.TotalAnalyzed)
}

// RecordDecision folds a decision and counts it as filtered when rejected.
// Both happen under one lock and one persist.
func (a *Aggregator) RecordDecision(d ingest.FilterDecision) {
	a.update(func(s *State) {
		foldDecision(s, d.ShouldDownload, d.Confidence)
		if !d.ShouldDownload {
			s.TotalFiltered++
		}
	})
}

// SetRunning flips the running flag; starting a run resets StartTime.
// A maxConcurrency <= 0 keeps the current value.
func (a *Aggregator) SetRunning(running bool, maxConcurrency int) {
	a.update(func(s *State) {
		s.IsRunning = running
		if maxConcurrency > 0 {
			s.MaxConcurrency = maxConcurrency
		}
		if running {
			start := a.now()
			s.StartTime = &start
		}
	})
}

// SetActiveThreads records how many workers are busy.
func (a *Aggregator) SetActiveThreads(count int) {
	a.update(func(s *State) { s.ActiveThreads = count })
}

// SetFileCount records the number of files in the archive.
func (a *Aggregator) SetFileCount(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.FileCount = n
	a.persistLocked()
}

// UpdateFileCount counts regular files under dir recursively.
func (a *Aggregator) UpdateFileCount(dir string) error {
	count := 0
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	if err != nil {
		return err
	}
	a.SetFileCount(count)
	return nil
}

// WatchFileCount refreshes the file count from dir every interval until ctx
// is done.
func (a *Aggregator) WatchFileCount(ctx context.Context, dir string, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFileCountInterval
	}
	refresh := func() {
		if err := a.UpdateFileCount(dir); err != nil {
			a.logger.Debug("file count refresh failed", zap.String("dir", dir), zap.Error(err))
		}
	}
	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// Reset restores the initial counters and persists them.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = initialState()
	a.persistLocked()
	a.logger.Info("stats reset")
}

// Snapshot returns a copy of the counters with derived rates computed now.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	state := a.state
	now := a.now()
	a.mu.Unlock()

	snap := Snapshot{State: state, SuccessRate: 100}
	if state.URLsProcessed > 0 {
		snap.SuccessRate = float64(state.URLsProcessed-state.URLsFailed) / float64(state.URLsProcessed) * 100
	}
	if state.StartTime != nil && state.TotalDownloaded > 0 {
		if minutes := now.Sub(*state.StartTime).Minutes(); minutes > 0 {
			snap.DownloadSpeed = float64(state.TotalDownloaded) / minutes
		}
	}
	if state.AIFilterStats.TotalAnalyzed > 0 {
		snap.FilterRate = float64(state.TotalFiltered) / float64(state.AIFilterStats.TotalAnalyzed) * 100
	}
	return snap
}
