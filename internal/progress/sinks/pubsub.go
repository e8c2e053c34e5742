package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/edu-harvester/internal/progress"
)

// Publisher is the subset of a message bus client the PubSubSink needs.
type Publisher interface {
	Publish(ctx context.Context, attrs map[string]string, payload any) (string, error)
}

// PubSubSink forwards selected pipeline events to a message bus so
// downstream systems can react to new curriculum files.
type PubSubSink struct {
	pub    Publisher
	stages map[progress.Stage]bool
	closer func() error
}

// DefaultPublishedStages are forwarded when NewPubSubSink gets no stages.
var DefaultPublishedStages = []progress.Stage{
	progress.StageDownloadDone,
	progress.StageArchived,
	progress.StageSorted,
}

// NewPubSubSink publishes events whose stage is listed in stages.
func NewPubSubSink(pub Publisher, stages ...progress.Stage) *PubSubSink {
	if len(stages) == 0 {
		stages = DefaultPublishedStages
	}
	s := &PubSubSink{pub: pub, stages: make(map[progress.Stage]bool, len(stages))}
	for _, st := range stages {
		s.stages[st] = true
	}
	if c, ok := pub.(interface{ Close() error }); ok {
		s.closer = c.Close
	}
	return s
}

type eventMessage struct {
	RunID      string    `json:"runId"`
	Timestamp  time.Time `json:"timestamp"`
	Stage      string    `json:"stage"`
	URL        string    `json:"url,omitempty"`
	Path       string    `json:"path,omitempty"`
	Note       string    `json:"note,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Bytes      int64     `json:"bytes,omitempty"`
}

// Consume publishes every selected event; failures are joined.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		if !s.stages[evt.Stage] {
			continue
		}
		runID := evt.RunUUID().String()
		msg := eventMessage{
			RunID:      runID,
			Timestamp:  evt.TS.UTC(),
			Stage:      string(evt.Stage),
			URL:        evt.URL,
			Path:       evt.Path,
			Note:       evt.Note,
			Confidence: evt.Confidence,
			Bytes:      evt.Bytes,
		}
		attrs := map[string]string{"stage": string(evt.Stage), "run_id": runID}
		if _, err := s.pub.Publish(ctx, attrs, msg); err != nil {
			errs = append(errs, fmt.Errorf("publish %s event: %w", evt.Stage, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the publisher when it supports closing.
func (s *PubSubSink) Close(context.Context) error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
