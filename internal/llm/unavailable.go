package llm

import (
	"context"
	"errors"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
)

// ErrNotConfigured is returned by Unavailable for every request.
var ErrNotConfigured = errors.New("classification service not configured")

// Unavailable stands in when no API key is configured. The filter falls back
// to its keyword heuristic and the sorter routes every file to review.
type Unavailable struct{}

// Classify implements ingest.ClassificationService.
func (Unavailable) Classify(context.Context, ingest.ClassifyRequest) (ingest.ClassifyResponse, error) {
	return ingest.ClassifyResponse{}, ErrNotConfigured
}
