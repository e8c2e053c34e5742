// Package archive mirrors the local archive into a remote folder store.
//
// Folders are addressed by (name, parent id) and reused when they exist, and
// uploads are idempotent by (name, parent id): a file that is already present
// remotely is never transferred twice.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
	"github.com/JakeFAU/edu-harvester/internal/metrics"
	"github.com/JakeFAU/edu-harvester/internal/progress"
	"github.com/JakeFAU/edu-harvester/internal/storage"
)

// Config controls sync behavior.
type Config struct {
	// RootID is the remote folder the local archive root maps to.
	RootID string
	// StagingDir is skipped while mirroring.
	StagingDir string
	// AutoCleanup deletes a local file once its upload is confirmed.
	AutoCleanup bool
}

// Sync implements folder reuse, idempotent upload and recursive mirroring.
type Sync struct {
	cfg     Config
	store   ingest.ObjectStore
	emitter progress.Emitter
	ledger  ingest.Ledger
	runID   [16]byte
	logger  *zap.Logger

	// folderMu serializes find-then-create so concurrent callers never
	// create two folders with the same (name, parent).
	folderMu sync.Mutex
	folders  map[string]string
}

// Option customizes a Sync.
type Option func(*Sync)

// WithEmitter reports ARCHIVED events for every confirmed upload.
func WithEmitter(e progress.Emitter, runID [16]byte) Option {
	return func(s *Sync) {
		s.emitter = e
		s.runID = runID
	}
}

// WithLedger records the Archived stage and remote id of mirrored files.
func WithLedger(l ingest.Ledger) Option {
	return func(s *Sync) { s.ledger = l }
}

// New creates a Sync over store.
func New(store ingest.ObjectStore, cfg Config, logger *zap.Logger, opts ...Option) (*Sync, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = ingest.StagingDirName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sync{
		cfg:     cfg,
		store:   store,
		emitter: progress.Nop{},
		logger:  logger.Named("archive"),
		folders: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RootID returns the configured remote root folder.
func (s *Sync) RootID() string {
	return s.cfg.RootID
}

func (s *Sync) parent(parentID string) string {
	if parentID == "" {
		return s.cfg.RootID
	}
	return parentID
}

// GetOrCreateFolder returns the id of the folder named name under parentID,
// creating it when absent.
func (s *Sync) GetOrCreateFolder(ctx context.Context, name, parentID string) (string, error) {
	parentID = s.parent(parentID)
	key := parentID + "\x00" + name

	s.folderMu.Lock()
	defer s.folderMu.Unlock()
	if id, ok := s.folders[key]; ok {
		return id, nil
	}
	item, found, err := s.store.FindFolder(ctx, name, parentID)
	if err != nil {
		return "", fmt.Errorf("find folder %q: %w", name, err)
	}
	if !found {
		item, err = s.store.CreateFolder(ctx, name, parentID)
		if err != nil {
			return "", fmt.Errorf("create folder %q: %w", name, err)
		}
		s.logger.Info("created remote folder", zap.String("name", name), zap.String("id", item.ID))
	}
	s.folders[key] = item.ID
	return item.ID, nil
}

// Upload transfers localPath into parentID unless a file with the same name
// already exists there, in which case the existing id is returned.
func (s *Sync) Upload(ctx context.Context, localPath, parentID string) (string, error) {
	id, _, err := s.upload(ctx, localPath, s.parent(parentID))
	return id, err
}

func (s *Sync) upload(ctx context.Context, localPath, parentID string) (string, bool, error) {
	name := filepath.Base(localPath)
	existing, found, err := s.store.FindFile(ctx, name, parentID)
	if err != nil {
		metrics.ObserveArchiveUpload("failed")
		return "", false, fmt.Errorf("check remote file %q: %w", name, err)
	}
	if found {
		metrics.ObserveArchiveUpload("existing")
		s.logger.Debug("remote file exists", zap.String("name", name), zap.String("id", existing.ID))
		return existing.ID, false, nil
	}

	// #nosec G304 -- paths come from the archive walk.
	f, err := os.Open(localPath)
	if err != nil {
		metrics.ObserveArchiveUpload("failed")
		return "", false, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	item, err := s.store.CreateFile(ctx, name, parentID, storage.MimeTypeFor(name), f)
	if err != nil {
		metrics.ObserveArchiveUpload("failed")
		return "", false, fmt.Errorf("upload %q: %w", name, err)
	}
	metrics.ObserveArchiveUpload("uploaded")
	s.logger.Info("uploaded", zap.String("name", name), zap.String("id", item.ID))
	s.emitter.Emit(progress.Event{
		RunID: s.runID,
		Stage: progress.StageArchived,
		Path:  localPath,
		Note:  item.ID,
	})
	return item.ID, true, nil
}

// Move relocates a remote item between folders.
func (s *Sync) Move(ctx context.Context, id, fromParentID, toParentID string) error {
	if _, err := s.store.Move(ctx, id, fromParentID, toParentID); err != nil {
		return fmt.Errorf("move %s: %w", id, err)
	}
	return nil
}

// Purge deletes every item directly under folderID (recursively for folders)
// and returns how many top-level items were removed.
func (s *Sync) Purge(ctx context.Context, folderID string) (int, error) {
	folderID = s.parent(folderID)
	items, err := s.store.List(ctx, folderID)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", folderID, err)
	}
	var (
		deleted int
		errs    []error
	)
	for _, item := range items {
		if err := s.store.Delete(ctx, item.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", item.Name, err))
			continue
		}
		deleted++
		s.logger.Info("deleted remote item", zap.String("name", item.Name), zap.String("id", item.ID))
	}
	s.folderMu.Lock()
	clear(s.folders)
	s.folderMu.Unlock()
	return deleted, errors.Join(errs...)
}

// MirrorReport summarizes one Mirror run.
type MirrorReport struct {
	Folders  int `json:"folders"`
	Uploaded int `json:"uploaded"`
	Existing int `json:"existing"`
	Failed   int `json:"failed"`
	Cleaned  int `json:"cleaned"`
}

type pendingDir struct {
	local    string
	remoteID string
}

// Mirror walks localRoot breadth-first. For each directory it resolves every
// subfolder remotely before uploading that directory's files. The staging
// directory and dotfiles are skipped. Individual failures are counted and
// logged; only a cancelled context aborts the walk.
func (s *Sync) Mirror(ctx context.Context, localRoot, remoteParentID string) (MirrorReport, error) {
	var report MirrorReport
	queue := []pendingDir{{local: localRoot, remoteID: s.parent(remoteParentID)}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("mirror interrupted: %w", err)
		}
		dir := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(dir.local)
		if err != nil {
			if dir.local == localRoot {
				return report, fmt.Errorf("read %s: %w", localRoot, err)
			}
			s.logger.Warn("skipping unreadable directory", zap.String("dir", dir.local), zap.Error(err))
			report.Failed++
			continue
		}

		var files []string
		for _, entry := range entries {
			name := entry.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			full := filepath.Join(dir.local, name)
			if !entry.IsDir() {
				if entry.Type().IsRegular() {
					files = append(files, full)
				}
				continue
			}
			if dir.local == localRoot && name == s.cfg.StagingDir {
				continue
			}
			id, err := s.GetOrCreateFolder(ctx, name, dir.remoteID)
			if err != nil {
				s.logger.Warn("skipping directory", zap.String("dir", full), zap.Error(err))
				report.Failed++
				continue
			}
			report.Folders++
			queue = append(queue, pendingDir{local: full, remoteID: id})
		}

		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return report, fmt.Errorf("mirror interrupted: %w", err)
			}
			s.mirrorFile(ctx, path, dir.remoteID, &report)
		}
	}
	s.logger.Info("mirror complete",
		zap.Int("folders", report.Folders),
		zap.Int("uploaded", report.Uploaded),
		zap.Int("existing", report.Existing),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (s *Sync) mirrorFile(ctx context.Context, path, parentID string, report *MirrorReport) {
	id, transferred, err := s.upload(ctx, path, parentID)
	if err != nil || id == "" {
		s.logger.Warn("upload failed", zap.String("path", path), zap.Error(err))
		report.Failed++
		return
	}
	if transferred {
		report.Uploaded++
	} else {
		report.Existing++
	}
	if s.ledger != nil {
		if err := s.ledger.Advance(ctx, path, ingest.StageArchived); err != nil {
			s.logger.Debug("ledger advance skipped", zap.String("path", path), zap.Error(err))
		}
		if err := s.ledger.SetRemoteID(ctx, path, id); err != nil {
			s.logger.Debug("ledger remote id skipped", zap.String("path", path), zap.Error(err))
		}
	}
	if !s.cfg.AutoCleanup {
		return
	}
	if err := os.Remove(path); err != nil {
		s.logger.Warn("auto-cleanup failed", zap.String("path", path), zap.Error(err))
		return
	}
	report.Cleaned++
}

// Node is one entry of a remote folder tree.
type Node struct {
	ingest.StorageItem
	Children []Node `json:"children,omitempty"`
}

// Tree lists folderID recursively down to maxDepth levels (0 means no limit).
func (s *Sync) Tree(ctx context.Context, folderID string, maxDepth int) ([]Node, error) {
	return s.tree(ctx, s.parent(folderID), 1, maxDepth)
}

func (s *Sync) tree(ctx context.Context, folderID string, depth, maxDepth int) ([]Node, error) {
	items, err := s.store.List(ctx, folderID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", folderID, err)
	}
	nodes := make([]Node, 0, len(items))
	for _, item := range items {
		node := Node{StorageItem: item}
		if item.IsFolder() && (maxDepth <= 0 || depth < maxDepth) {
			children, err := s.tree(ctx, item.ID, depth+1, maxDepth)
			if err != nil {
				return nil, err
			}
			node.Children = children
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}
