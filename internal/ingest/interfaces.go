package ingest

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrQuotaExceeded marks a transient quota or rate-limit signal from the
// remote classification service. Callers retry these with backoff.
var ErrQuotaExceeded = errors.New("classification service quota exceeded")

// RequestKind selects which contract a ClassifyRequest follows.
type RequestKind string

// Supported request kinds.
const (
	KindRelevance      RequestKind = "relevance"
	KindClassification RequestKind = "classification"
)

// ClassifyRequest is what the pipeline sends to the remote language model.
type ClassifyRequest struct {
	Kind   RequestKind
	Prompt string
	// Link is set for relevance requests.
	Link *LinkContext
	// Filename and Context are set for classification requests.
	Filename string
	Context  string
}

// ClassifyResponse carries the raw JSON object returned by the service.
type ClassifyResponse struct {
	Raw string
}

// ClassificationService is the narrow port to the remote language model.
type ClassificationService interface {
	Classify(ctx context.Context, req ClassifyRequest) (ClassifyResponse, error)
}

// ObjectStore is the remote folder/file store used for archival.
// Folders are unique by (name, parentID); lookups ignore trashed items.
type ObjectStore interface {
	FindFolder(ctx context.Context, name, parentID string) (StorageItem, bool, error)
	CreateFolder(ctx context.Context, name, parentID string) (StorageItem, error)
	FindFile(ctx context.Context, name, parentID string) (StorageItem, bool, error)
	CreateFile(ctx context.Context, name, parentID, mimeType string, content io.Reader) (StorageItem, error)
	List(ctx context.Context, parentID string) ([]StorageItem, error)
	Move(ctx context.Context, id, fromParentID, toParentID string) (StorageItem, error)
	Delete(ctx context.Context, id string) error
}

// Fetcher performs the binary download of a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchResult, error)
}

// StatsRecorder receives counters from every pipeline stage.
type StatsRecorder interface {
	IncrementURLsProcessed(success bool)
	IncrementDownloaded()
	IncrementErrors()
	IncrementFiltered()
	UpdateAIFilterStats(approved bool, confidence float64)
	RecordDecision(decision FilterDecision)
	SetRunning(running bool, maxConcurrency int)
	SetActiveThreads(count int)
}

// Ledger tracks the lifecycle stage and curriculum mapping per file path.
type Ledger interface {
	Advance(ctx context.Context, filePath string, stage FileStage) error
	Assign(ctx context.Context, filePath, nodeID string) error
	SetRemoteID(ctx context.Context, filePath, remoteID string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
