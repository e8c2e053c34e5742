package stats

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestIncrementalAverageConfidence(t *testing.T) {
	t.Parallel()

	a := New(context.Background(), nil, nil)
	a.UpdateAIFilterStats(true, 0.9)
	a.UpdateAIFilterStats(false, 0.3)
	a.UpdateAIFilterStats(true, 0.6)

	snap := a.Snapshot()
	assert.Equal(t, int64(3), snap.AIFilterStats.TotalAnalyzed)
	assert.Equal(t, int64(2), snap.AIFilterStats.Approved)
	assert.Equal(t, int64(1), snap.AIFilterStats.Rejected)
	assert.InDelta(t, 0.6, snap.AIFilterStats.AverageConfidence, 1e-9)
}

func TestRecordDecisionCountsEveryRejection(t *testing.T) {
	t.Parallel()

	a := New(context.Background(), nil, nil)
	a.RecordDecision(ingest.FilterDecision{ShouldDownload: true, Confidence: 0.9})
	a.RecordDecision(ingest.FilterDecision{ShouldDownload: false, Confidence: 0.95})
	a.RecordDecision(ingest.FilterDecision{ShouldDownload: false, Confidence: 0.2})
	a.RecordDecision(ingest.FilterDecision{ShouldDownload: false, Confidence: 0.3})

	snap := a.Snapshot()
	assert.Equal(t, int64(3), snap.TotalFiltered)
	assert.InDelta(t, 75.0, snap.FilterRate, 1e-9)
}

func TestSnapshotDerivedRates(t *testing.T) {
	t.Parallel()

	clock := &manualClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	a := New(context.Background(), nil, nil, WithClock(clock))

	fresh := a.Snapshot()
	assert.InDelta(t, 100.0, fresh.SuccessRate, 1e-9)
	assert.Zero(t, fresh.DownloadSpeed)
	assert.Zero(t, fresh.FilterRate)
	assert.Equal(t, DefaultMaxConcurrency, fresh.MaxConcurrency)

	a.SetRunning(true, 8)
	for i := 0; i < 4; i++ {
		a.IncrementURLsProcessed(i != 0)
	}
	for i := 0; i < 6; i++ {
		a.IncrementDownloaded()
	}
	clock.Advance(2 * time.Minute)

	snap := a.Snapshot()
	assert.True(t, snap.IsRunning)
	assert.Equal(t, 8, snap.MaxConcurrency)
	assert.InDelta(t, 75.0, snap.SuccessRate, 1e-9)
	assert.InDelta(t, 3.0, snap.DownloadSpeed, 1e-9)

	clock.Advance(4 * time.Minute)
	assert.InDelta(t, 1.0, a.Snapshot().DownloadSpeed, 1e-9)

	a.SetRunning(false, 0)
	assert.Equal(t, 8, a.Snapshot().MaxConcurrency)
}

func TestEveryMutationPersists(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	a := New(context.Background(), store, nil)
	a.IncrementErrors()
	a.IncrementFiltered()
	a.SetActiveThreads(3)
	a.SetFileCount(10)
	assert.Equal(t, 4, store.Saves())

	saved, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), saved.TotalErrors)
	assert.Equal(t, 3, saved.ActiveThreads)
	assert.Equal(t, 10, saved.FileCount)
	require.NotNil(t, saved.LastActivity)
}

func TestFileStoreRoundTripAndRestore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "stats.json")
	store := NewFileStore(path)
	_, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	a := New(context.Background(), store, nil)
	a.SetRunning(true, 4)
	a.IncrementDownloaded()
	a.UpdateAIFilterStats(true, 0.8)

	restored := New(context.Background(), NewFileStore(path), nil).Snapshot()
	assert.Equal(t, int64(1), restored.TotalDownloaded)
	assert.Equal(t, 4, restored.MaxConcurrency)
	assert.InDelta(t, 0.8, restored.AIFilterStats.AverageConfidence, 1e-9)
	require.NotNil(t, restored.StartTime)

	a.Reset()
	reset := New(context.Background(), NewFileStore(path), nil).Snapshot()
	assert.Zero(t, reset.TotalDownloaded)
	assert.Nil(t, reset.StartTime)
}

func TestCorruptStateStartsFresh(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	a := New(context.Background(), NewFileStore(path), nil)
	assert.Zero(t, a.Snapshot().URLsProcessed)
}

func TestSaveFailureDoesNotLoseCounters(t *testing.T) {
	t.Parallel()

	a := New(context.Background(), failingStore{}, nil)
	a.IncrementDownloaded()
	assert.Equal(t, int64(1), a.Snapshot().TotalDownloaded)
}

func TestUpdateFileCount(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "SHS1", "Physics"), 0o750))
	for _, p := range []string{"a.pdf", "SHS1/b.pdf", "SHS1/Physics/c.pdf"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, p), []byte("x"), 0o600))
	}
	a := New(context.Background(), nil, nil)
	require.NoError(t, a.UpdateFileCount(root))
	assert.Equal(t, 3, a.Snapshot().FileCount)
	require.Error(t, a.UpdateFileCount(filepath.Join(root, "missing")))
}

func TestConcurrentUpdates(t *testing.T) {
	t.Parallel()

	a := New(context.Background(), nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.IncrementURLsProcessed(true)
			a.RecordDecision(ingest.FilterDecision{Confidence: 0.5})
		}()
	}
	wg.Wait()
	snap := a.Snapshot()
	assert.Equal(t, int64(50), snap.URLsProcessed)
	assert.Equal(t, int64(50), snap.TotalFiltered)
	assert.InDelta(t, 0.5, snap.AIFilterStats.AverageConfidence, 1e-9)
}

type failingStore struct{}

func (failingStore) Save(context.Context, State) error { return errors.New("disk full") }

func (failingStore) Load(context.Context) (State, bool, error) { return State{}, false, nil }

func TestWatchFileCountRefreshes(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.pdf"), []byte("x"), 0o600))
	a := New(context.Background(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.WatchFileCount(ctx, root, 10*time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return a.Snapshot().FileCount == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "b.pdf"), []byte("x"), 0o600))
	require.Eventually(t, func() bool { return a.Snapshot().FileCount == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
