// Package mapping persists which curriculum node each archived file belongs
// to, together with the file's lifecycle stage.
package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
)

// ErrStageRegression is returned when a stage change would move backwards.
var ErrStageRegression = errors.New("file stage cannot move backwards")

// Record is one file mapping.
type Record struct {
	FilePath         string           `json:"filePath"`
	CurriculumNodeID string           `json:"curriculumNodeId"`
	Stage            ingest.FileStage `json:"stage,omitempty"`
	RemoteID         string           `json:"remoteId,omitempty"`
	UpdatedAt        time.Time        `json:"updatedAt,omitempty"`
}

// Store keeps records in memory and rewrites the JSON file after every change.
// An empty path keeps the store in memory only.
type Store struct {
	mu      sync.RWMutex
	path    string
	records map[string]*Record
	logger  *zap.Logger
	now     func() time.Time
}

// Open loads path if it exists.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		path:    path,
		records: make(map[string]*Record),
		logger:  logger.Named("mapping"),
		now:     time.Now,
	}
	if path == "" {
		return s, nil
	}
	// #nosec G304 -- operator-configured mapping path.
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mappings: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse mappings: %w", err)
	}
	for i := range records {
		rec := records[i]
		s.records[rec.FilePath] = &rec
	}
	return s, nil
}

// SetClock overrides the time source used for UpdatedAt.
func (s *Store) SetClock(c ingest.Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = c.Now
}

// Get returns the record for filePath.
func (s *Store) Get(filePath string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[filePath]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// List returns every record ordered by path.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() []Record {
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })
	return out
}

// Upsert assigns filePath to nodeID, creating the record when needed.
func (s *Store) Upsert(filePath, nodeID string) error {
	return s.mutate(filePath, func(rec *Record) error {
		rec.CurriculumNodeID = nodeID
		return nil
	})
}

// Remove deletes the record for filePath.
func (s *Store) Remove(filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[filePath]; !ok {
		return nil
	}
	delete(s.records, filePath)
	return s.saveLocked()
}

// Rename re-keys a record after the file moved on disk.
func (s *Store) Rename(_ context.Context, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[from]
	if !ok {
		rec = &Record{}
	}
	delete(s.records, from)
	rec.FilePath = to
	rec.UpdatedAt = s.now().UTC()
	s.records[to] = rec
	return s.saveLocked()
}

// Advance implements ingest.Ledger. Stages only move forward.
func (s *Store) Advance(_ context.Context, filePath string, stage ingest.FileStage) error {
	return s.mutate(filePath, func(rec *Record) error {
		if !rec.Stage.CanAdvance(stage) {
			return fmt.Errorf("%s: %s -> %s: %w", filePath, rec.Stage, stage, ErrStageRegression)
		}
		rec.Stage = stage
		return nil
	})
}

// Assign implements ingest.Ledger.
func (s *Store) Assign(_ context.Context, filePath, nodeID string) error {
	return s.Upsert(filePath, nodeID)
}

// SetRemoteID implements ingest.Ledger.
func (s *Store) SetRemoteID(_ context.Context, filePath, remoteID string) error {
	return s.mutate(filePath, func(rec *Record) error {
		rec.RemoteID = remoteID
		return nil
	})
}

func (s *Store) mutate(filePath string, fn func(*Record) error) error {
	if filePath == "" {
		return errors.New("file path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[filePath]
	if !ok {
		rec = &Record{FilePath: filePath}
	}
	updated := *rec
	if err := fn(&updated); err != nil {
		return err
	}
	updated.UpdatedAt = s.now().UTC()
	s.records[filePath] = &updated
	return s.saveLocked()
}

// saveLocked writes the full record set through a temp file and rename.
func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.snapshotLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode mappings: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create mapping dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create mapping temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpPath, s.path)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		s.logger.Warn("failed to save mappings", zap.String("path", s.path), zap.Error(err))
		return fmt.Errorf("save mappings: %w", err)
	}
	return nil
}
