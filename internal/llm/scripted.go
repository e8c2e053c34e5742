package llm

import (
	"context"
	"sync"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
)

// Step is one scripted reply.
type Step struct {
	Raw string
	Err error
}

// Scripted is a deterministic ClassificationService for tests and dry runs.
// Replies are consumed in order; the last one repeats once the script runs out.
type Scripted struct {
	mu       sync.Mutex
	steps    []Step
	requests []ingest.ClassifyRequest
}

// NewScripted creates a scripted service.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// Reply is shorthand for a successful step.
func Reply(raw string) Step {
	return Step{Raw: raw}
}

// Fail is shorthand for a failing step.
func Fail(err error) Step {
	return Step{Err: err}
}

// Classify implements ingest.ClassificationService.
func (s *Scripted) Classify(ctx context.Context, req ingest.ClassifyRequest) (ingest.ClassifyResponse, error) {
	if err := ctx.Err(); err != nil {
		return ingest.ClassifyResponse{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		return ingest.ClassifyResponse{Raw: "{}"}, nil
	}
	step := s.steps[0]
	if len(s.steps) > 1 {
		s.steps = s.steps[1:]
	}
	if step.Err != nil {
		return ingest.ClassifyResponse{}, step.Err
	}
	return ingest.ClassifyResponse{Raw: step.Raw}, nil
}

// Calls returns how many requests were received.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns a copy of the received requests.
func (s *Scripted) Requests() []ingest.ClassifyRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ingest.ClassifyRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// Func adapts a function to ingest.ClassificationService.
type Func func(ctx context.Context, req ingest.ClassifyRequest) (ingest.ClassifyResponse, error)

// Classify implements ingest.ClassificationService.
func (f Func) Classify(ctx context.Context, req ingest.ClassifyRequest) (ingest.ClassifyResponse, error) {
	return f(ctx, req)
}
