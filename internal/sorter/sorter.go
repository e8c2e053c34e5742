// Package sorter assigns archived files to a grade bucket and subject and
// moves them into the matching folder, locally or in the remote store.
package sorter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
	"github.com/JakeFAU/edu-harvester/internal/metrics"
	"github.com/JakeFAU/edu-harvester/internal/progress"
	"github.com/JakeFAU/edu-harvester/internal/taxonomy"
)

// Defaults.
const (
	DefaultConfidenceThreshold = 0.8
	DefaultItemDelay           = 2 * time.Second
	DefaultRetries             = 3
	DefaultBackoffUnit         = 10 * time.Second
)

// Limiter throttles calls to the classification service.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Ledger records classification results per file path.
type Ledger interface {
	ingest.Ledger
	Rename(ctx context.Context, from, to string) error
}

// Folders resolves and moves remote folders. archive.Sync satisfies it.
type Folders interface {
	GetOrCreateFolder(ctx context.Context, name, parentID string) (string, error)
	Move(ctx context.Context, id, fromParentID, toParentID string) error
}

// Config holds sorter configuration.
type Config struct {
	ConfidenceThreshold float64
	// ItemDelay is slept between classifications to stay under service quotas.
	ItemDelay  time.Duration
	StagingDir string
	// Retries bounds attempts on quota errors.
	Retries int
	// BackoffUnit is multiplied by (attempt+1) after a quota error.
	BackoffUnit time.Duration
}

// Sorter is the classification sorter.
type Sorter struct {
	service ingest.ClassificationService
	limiter Limiter
	tax     taxonomy.Taxonomy
	cfg     Config
	ledger  Ledger
	store   ingest.ObjectStore
	folders Folders
	emitter progress.Emitter
	runID   [16]byte
	logger  *zap.Logger
	now     func() time.Time
}

// Option customizes a Sorter.
type Option func(*Sorter)

// WithLimiter throttles classification calls.
func WithLimiter(l Limiter) Option {
	return func(s *Sorter) { s.limiter = l }
}

// WithLedger records curriculum node assignments.
func WithLedger(l Ledger) Option {
	return func(s *Sorter) { s.ledger = l }
}

// WithRemote enables ResortRemote.
func WithRemote(store ingest.ObjectStore, folders Folders) Option {
	return func(s *Sorter) {
		s.store = store
		s.folders = folders
	}
}

// WithEmitter reports SORTED events.
func WithEmitter(e progress.Emitter, runID [16]byte) Option {
	return func(s *Sorter) {
		s.emitter = e
		s.runID = runID
	}
}

// WithClock overrides the time source used for collision suffixes.
func WithClock(c ingest.Clock) Option {
	return func(s *Sorter) { s.now = c.Now }
}

// New creates a Sorter.
func New(service ingest.ClassificationService, tax taxonomy.Taxonomy, cfg Config, logger *zap.Logger, opts ...Option) *Sorter {
	if cfg.ConfidenceThreshold <= 0 || cfg.ConfidenceThreshold > 1 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if cfg.ItemDelay < 0 {
		cfg.ItemDelay = 0
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = ingest.StagingDirName
	}
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = DefaultBackoffUnit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sorter{
		service: service,
		tax:     tax,
		cfg:     cfg,
		emitter: progress.Nop{},
		logger:  logger.Named("sorter"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func unclassified() ingest.ClassificationResult {
	return ingest.ClassificationResult{Grade: ingest.Uncategorized, Subject: ingest.Uncategorized}
}

// Classify asks the service for a grade and subject. The answer is validated
// against the taxonomy; any failure yields Uncategorized with zero confidence.
func (s *Sorter) Classify(ctx context.Context, filename, extra string) ingest.ClassificationResult {
	logger := s.logger.With(zap.String("file", filename))
	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx); err != nil {
			logger.Warn("rate limit wait interrupted", zap.Error(err))
			return unclassified()
		}
	}
	resp, err := s.call(ctx, ingest.ClassifyRequest{
		Kind:     ingest.KindClassification,
		Prompt:   buildPrompt(filename, extra, s.tax),
		Filename: filename,
		Context:  extra,
	}, logger)
	if err != nil {
		logger.Error("classification failed", zap.Error(err))
		return unclassified()
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(resp.Raw), &fields); err != nil {
		logger.Error("unparseable classification", zap.Error(err))
		return unclassified()
	}
	rawGrade, _ := fields["grade"].(string)
	rawSubject, _ := fields["subject"].(string)
	confidence := ingest.DefaultConfidence
	if v, ok := fields["confidence"].(float64); ok && v > 0 {
		confidence = min(v, 1)
	}
	grade, subject, rejected := s.tax.Validate(strings.TrimSpace(rawGrade), strings.TrimSpace(rawSubject))
	if rejected {
		logger.Warn("hallucinated subject reset",
			zap.String("grade", grade),
			zap.String("subject", rawSubject),
		)
		metrics.ObserveHallucination()
	}
	return ingest.ClassificationResult{Grade: grade, Subject: subject, Confidence: confidence}
}

// call sends req, backing off (attempt+1)*BackoffUnit after each quota error.
func (s *Sorter) call(ctx context.Context, req ingest.ClassifyRequest, logger *zap.Logger) (ingest.ClassifyResponse, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.Retries; attempt++ {
		resp, err := s.service.Classify(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !errors.Is(err, ingest.ErrQuotaExceeded) || attempt == s.cfg.Retries-1 {
			break
		}
		wait := time.Duration(attempt+1) * s.cfg.BackoffUnit
		logger.Warn("quota exceeded, backing off",
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
		)
		if err := sleep(ctx, wait); err != nil {
			return ingest.ClassifyResponse{}, err
		}
	}
	return ingest.ClassifyResponse{}, lastErr
}

// Placement says where a file went.
type Placement struct {
	Source string                      `json:"source"`
	Target string                      `json:"target"`
	Result ingest.ClassificationResult `json:"result"`
	Review bool                        `json:"review"`
}

// Report summarizes a sort run.
type Report struct {
	Classified int         `json:"classified"`
	Sorted     int         `json:"sorted"`
	Review     int         `json:"review"`
	Kept       int         `json:"kept"`
	Failed     int         `json:"failed"`
	Placements []Placement `json:"placements,omitempty"`
}

// needsReview reports whether a result is too weak to file automatically.
func (s *Sorter) needsReview(r ingest.ClassificationResult) bool {
	return r.Confidence < s.cfg.ConfidenceThreshold ||
		r.Grade == ingest.Uncategorized ||
		r.Subject == ingest.Uncategorized
}

// SortLocal classifies every file under root that is not already sorted and
// moves it to root/<grade>/<subject>/ or root/Review_Needed/.
func (s *Sorter) SortLocal(ctx context.Context, root string) (Report, error) {
	var report Report
	files, err := s.unsortedFiles(root)
	if err != nil {
		return report, err
	}
	s.logger.Info("sorting local files", zap.String("root", root), zap.Int("files", len(files)))

	for i, path := range files {
		if i > 0 {
			if err := s.pause(ctx); err != nil {
				return report, err
			}
		}
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("sort interrupted: %w", err)
		}
		result := s.Classify(ctx, filepath.Base(path), "")
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("sort interrupted: %w", err)
		}
		report.Classified++

		review := s.needsReview(result)
		destDir := filepath.Join(root, ingest.ReviewNeeded)
		if !review {
			destDir = filepath.Join(root, result.Grade, result.Subject)
		}
		target, err := s.moveLocal(path, destDir)
		if err != nil {
			s.logger.Error("move failed", zap.String("file", path), zap.Error(err))
			report.Failed++
			continue
		}
		if review {
			report.Review++
		} else {
			report.Sorted++
		}
		s.record(ctx, path, target, result, review)
		report.Placements = append(report.Placements, Placement{Source: path, Target: target, Result: result, Review: review})
	}
	return report, nil
}

func (s *Sorter) unsortedFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			if name == s.cfg.StagingDir || strings.HasPrefix(name, ".") || s.tax.IsSortedDir(name) {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !d.Type().IsRegular() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return files, nil
}

// moveLocal renames path into destDir, suffixing the name with the current
// unix milliseconds when the target already exists.
func (s *Sorter) moveLocal(path, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return "", fmt.Errorf("create %s: %w", destDir, err)
	}
	name := filepath.Base(path)
	target := filepath.Join(destDir, name)
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(name)
		target = filepath.Join(destDir, fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), s.now().UnixMilli(), ext))
	}
	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	return target, nil
}

func (s *Sorter) record(ctx context.Context, from, to string, result ingest.ClassificationResult, review bool) {
	dest := "sorted"
	stage := ingest.StageSorted
	if review {
		dest = "review"
		stage = ingest.StageReview
	}
	metrics.ObserveSorted(dest)
	s.logger.Info("file organized",
		zap.String("file", filepath.Base(to)),
		zap.String("grade", result.Grade),
		zap.String("subject", result.Subject),
		zap.Float64("confidence", result.Confidence),
		zap.Bool("review", review),
	)
	s.emitter.Emit(progress.Event{
		RunID:      s.runID,
		Stage:      progress.StageSorted,
		Path:       to,
		Note:       result.NodeID(),
		Confidence: result.Confidence,
		Approved:   !review,
	})
	if s.ledger == nil {
		return
	}
	if from != to {
		if err := s.ledger.Rename(ctx, from, to); err != nil {
			s.logger.Warn("ledger rename failed", zap.Error(err))
		}
	}
	if err := s.ledger.Assign(ctx, to, result.NodeID()); err != nil {
		s.logger.Warn("ledger assign failed", zap.Error(err))
	}
	if err := s.ledger.Advance(ctx, to, stage); err != nil {
		s.logger.Debug("ledger advance skipped", zap.Error(err))
	}
}

// ResortRemote re-classifies the files in the remote Review_Needed folder by
// name and moves confident results into grade/subject folders without
// downloading them.
func (s *Sorter) ResortRemote(ctx context.Context, rootFolderID string) (Report, error) {
	var report Report
	if s.store == nil || s.folders == nil {
		return report, errors.New("remote store is not configured")
	}
	review, found, err := s.store.FindFolder(ctx, ingest.ReviewNeeded, rootFolderID)
	if err != nil {
		return report, fmt.Errorf("find review folder: %w", err)
	}
	if !found {
		s.logger.Info("no review folder found")
		return report, nil
	}
	items, err := s.store.List(ctx, review.ID)
	if err != nil {
		return report, fmt.Errorf("list review folder: %w", err)
	}
	s.logger.Info("re-sorting remote review queue", zap.Int("files", len(items)))

	first := true
	for _, item := range items {
		if item.IsFolder() {
			continue
		}
		if !first {
			if err := s.pause(ctx); err != nil {
				return report, err
			}
		}
		first = false

		result := s.Classify(ctx, item.Name, "")
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("resort interrupted: %w", err)
		}
		report.Classified++
		if !s.tax.IsGrade(result.Grade) || result.Subject == ingest.Uncategorized ||
			result.Confidence < s.cfg.ConfidenceThreshold {
			s.logger.Info("still unsure, keeping in review", zap.String("file", item.Name))
			report.Kept++
			continue
		}
		if err := s.moveRemote(ctx, item, review.ID, rootFolderID, result); err != nil {
			s.logger.Error("remote move failed", zap.String("file", item.Name), zap.Error(err))
			report.Failed++
			continue
		}
		report.Sorted++
		metrics.ObserveSorted("remote")
		target := result.NodeID() + "/" + item.Name
		report.Placements = append(report.Placements, Placement{Source: item.ID, Target: target, Result: result})
		s.emitter.Emit(progress.Event{
			RunID:      s.runID,
			Stage:      progress.StageSorted,
			Path:       target,
			Note:       item.ID,
			Confidence: result.Confidence,
			Approved:   true,
		})
	}
	return report, nil
}

func (s *Sorter) moveRemote(ctx context.Context, item ingest.StorageItem, from, root string, result ingest.ClassificationResult) error {
	gradeID, err := s.folders.GetOrCreateFolder(ctx, result.Grade, root)
	if err != nil {
		return err
	}
	subjectID, err := s.folders.GetOrCreateFolder(ctx, result.Subject, gradeID)
	if err != nil {
		return err
	}
	return s.folders.Move(ctx, item.ID, from, subjectID)
}

func (s *Sorter) pause(ctx context.Context) error {
	if s.cfg.ItemDelay <= 0 {
		return nil
	}
	return sleep(ctx, s.cfg.ItemDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sort interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
