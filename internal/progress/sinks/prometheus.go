package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/edu-harvester/internal/progress"
)

// PrometheusSink exports run-level pipeline metrics derived from events.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsRunning   prometheus.Gauge
	events        *prometheus.CounterVec
	confidence    *prometheus.HistogramVec
	acquiredBytes prometheus.Counter

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_runs_started_total",
			Help: "Total crawl or sort runs started.",
		}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_runs_running",
			Help: "Runs that have started and not yet finished.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_pipeline_events_total",
			Help: "Pipeline events partitioned by stage.",
		}, []string{"stage"}),
		confidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_decision_confidence",
			Help:    "Confidence of relevance decisions partitioned by verdict.",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}, []string{"verdict"}),
		acquiredBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_acquired_bytes_total",
			Help: "Bytes written by successful downloads.",
		}),
		tracker: &runTracker{running: make(map[[16]byte]struct{})},
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsRunning,
		s.events,
		s.confidence,
		s.acquiredBytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.events.WithLabelValues(string(evt.Stage)).Inc()
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.tracker.start(evt.RunID) {
				s.runsRunning.Inc()
			}
		case progress.StageRunDone:
			if s.tracker.finish(evt.RunID) {
				s.runsRunning.Dec()
			}
		case progress.StageDecision:
			verdict := "rejected"
			if evt.Approved {
				verdict = "approved"
			}
			s.confidence.WithLabelValues(verdict).Observe(evt.Confidence)
		case progress.StageDownloadDone:
			if evt.Bytes > 0 {
				s.acquiredBytes.Add(float64(evt.Bytes))
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) finish(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
