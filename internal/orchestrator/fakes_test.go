package orchestrator

import (
	"context"
	"sync"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
	"github.com/JakeFAU/edu-harvester/internal/progress"
)

type fakeStats struct {
	mu          sync.Mutex
	processed   int
	failedPages int
	downloaded  int
	errors      int
	decisions   []ingest.FilterDecision
	running     []bool
	maxActive   int
}

func (s *fakeStats) IncrementURLsProcessed(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	if !success {
		s.failedPages++
	}
}

func (s *fakeStats) IncrementDownloaded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloaded++
}

func (s *fakeStats) IncrementErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
}

func (s *fakeStats) IncrementFiltered() {}

func (s *fakeStats) UpdateAIFilterStats(bool, float64) {}

func (s *fakeStats) RecordDecision(d ingest.FilterDecision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
}

func (s *fakeStats) SetRunning(running bool, _ int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = append(s.running, running)
}

func (s *fakeStats) SetActiveThreads(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if count > s.maxActive {
		s.maxActive = count
	}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}

type fakeDecider struct {
	mu      sync.Mutex
	approve map[string]bool
	seen    []string
	// onBatch runs before decisions are returned.
	onBatch func()
}

func (f *fakeDecider) DecideBatch(_ context.Context, links []ingest.LinkContext) []ingest.FilterDecision {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ingest.FilterDecision, len(links))
	for i, link := range links {
		f.seen = append(f.seen, link.URL)
		out[i] = ingest.FilterDecision{
			ShouldDownload: f.approve[link.URL],
			Confidence:     0.9,
			Reasoning:      "test",
		}
	}
	if f.onBatch != nil {
		f.onBatch()
	}
	return out
}

type fakeAcquirer struct {
	mu       sync.Mutex
	outcomes map[string]ingest.DownloadOutcome
	calls    []string
	folders  []string
}

func (f *fakeAcquirer) Acquire(_ context.Context, url, targetFolder string) ingest.DownloadOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	f.folders = append(f.folders, targetFolder)
	if out, ok := f.outcomes[url]; ok {
		return out
	}
	return ingest.Success("file.pdf", "/tmp/finished/file.pdf")
}
