package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
)

// Stage denotes which pipeline milestone an Event records.
type Stage string

// Supported pipeline stages.
const (
	StageRunStart        Stage = "RUN_START"
	StageRunDone         Stage = "RUN_DONE"
	StageDecision        Stage = "DECISION"
	StageDownloadDone    Stage = "DOWNLOAD_DONE"
	StageDownloadSkipped Stage = "DOWNLOAD_SKIPPED"
	StageDownloadFailed  Stage = "DOWNLOAD_FAILED"
	StageArchived        Stage = "ARCHIVED"
	StageSorted          Stage = "SORTED"
)

// Event is one pipeline milestone.
type Event struct {
	// RunID identifies the crawl or sort run in 16-byte UUID form.
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// URL is the candidate link for decision and download events.
	URL string
	// Path is the local file (or remote id for ARCHIVED).
	Path string
	// Note carries low-volume context such as reasoning or an error.
	Note       string
	Confidence float64
	Approved   bool
	Bytes      int64
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageDecision:
		if e.URL == "" {
			return errors.New("decision requires url")
		}
		if e.Confidence < 0 || e.Confidence > 1 {
			return fmt.Errorf("confidence %v out of range", e.Confidence)
		}
	case StageDownloadDone, StageDownloadSkipped, StageDownloadFailed:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	case StageArchived, StageSorted:
		if e.Path == "" {
			return fmt.Errorf("%s requires path", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Bytes < 0 {
		return errors.New("bytes must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// NewRunID returns a fresh random run id.
func NewRunID() [16]byte {
	return UUIDToBytes(uuid.New())
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// DownloadStage maps a download outcome to its event stage.
func DownloadStage(status ingest.OutcomeStatus) Stage {
	switch status {
	case ingest.OutcomeSuccess:
		return StageDownloadDone
	case ingest.OutcomeSkipped:
		return StageDownloadSkipped
	default:
		return StageDownloadFailed
	}
}

// Emitter publishes individual events; Hub satisfies it.
type Emitter interface {
	Emit(evt Event)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}
