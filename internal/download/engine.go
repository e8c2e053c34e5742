// Package download fetches approved links into the local archive.
//
// Files are written to a staging directory first and renamed into the
// finished tree only once complete, so scans of the archive never observe a
// partial file. Filenames are unique across the whole archive root.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
	"github.com/JakeFAU/edu-harvester/internal/metrics"
)

// ErrTooLarge is returned when a response exceeds the configured size cap.
var ErrTooLarge = errors.New("download exceeds size limit")

// Archiver receives finalized files for remote upload.
type Archiver interface {
	GetOrCreateFolder(ctx context.Context, name, parentID string) (string, error)
	Upload(ctx context.Context, localPath, parentID string) (string, error)
}

// Politeness delays requests to the same host.
type Politeness interface {
	Wait(ctx context.Context, url string) error
}

// Config holds engine configuration.
type Config struct {
	Root        string
	StagingDir  string
	FinishedDir string
	// MaxBytes caps a single download; zero means unlimited.
	MaxBytes int64
	// AutoCleanup removes the local copy once the archiver confirmed the upload.
	AutoCleanup bool
	// ArchiveRootID is the remote folder the finished tree is mirrored under.
	ArchiveRootID string
	// ClaimWait bounds how long an acquire waits for another acquire working
	// on the same server-offered name.
	ClaimWait time.Duration
}

// DefaultClaimWait is used when Config.ClaimWait is unset.
const DefaultClaimWait = 30 * time.Second

const claimPollInterval = 20 * time.Millisecond

// Engine implements acquire for approved links.
type Engine struct {
	cfg        Config
	fetcher    ingest.Fetcher
	politeness Politeness
	archiver   Archiver
	ledger     ingest.Ledger
	locks      *nameLocks
	logger     *zap.Logger
	now        func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithArchiver hands finalized files to the archiver.
func WithArchiver(a Archiver) Option {
	return func(e *Engine) { e.archiver = a }
}

// WithPoliteness waits on the limiter before each fetch.
func WithPoliteness(p Politeness) Option {
	return func(e *Engine) { e.politeness = p }
}

// WithLedger records file stages.
func WithLedger(l ingest.Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithClock overrides the time source used for synthesized names.
func WithClock(c ingest.Clock) Option {
	return func(e *Engine) { e.now = c.Now }
}

// New creates an Engine rooted at cfg.Root, creating the directory if needed.
func New(cfg Config, fetcher ingest.Fetcher, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, errors.New("download root is required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = ingest.StagingDirName
	}
	if cfg.FinishedDir == "" {
		cfg.FinishedDir = ingest.DefaultFinishedDir
	}
	if cfg.ClaimWait <= 0 {
		cfg.ClaimWait = DefaultClaimWait
	}
	if err := ensureDir(cfg.Root); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:     cfg,
		fetcher: fetcher,
		locks:   newNameLocks(),
		logger:  logger.Named("download"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return fmt.Errorf("create download root: %w", mkErr)
		}
		return nil
	case err != nil:
		return fmt.Errorf("stat download root: %w", err)
	case !info.IsDir():
		return fmt.Errorf("download root %s is not a directory", dir)
	}
	return nil
}

// Root returns the archive root directory.
func (e *Engine) Root() string {
	return e.cfg.Root
}

// Acquire downloads url into <root>/<finished>/<targetFolder>/. It returns
// Skipped when a file with the same name already exists anywhere under the
// root, Success with the final path, or Failed; partial files never remain.
func (e *Engine) Acquire(ctx context.Context, url, targetFolder string) ingest.DownloadOutcome {
	name := FilenameFromURL(url, e.now())
	logger := e.logger.With(zap.String("url", url), zap.String("name", name))

	claims := &claimSet{}
	defer claims.release()

	claims.add(e.locks.Lock(name))
	claims.names = append(claims.names, name)
	if existing, ok := e.findExisting(name); ok {
		logger.Debug("duplicate by url name", zap.String("existing", existing))
		e.observe(url, ingest.OutcomeSkipped, 0)
		return ingest.Skipped(name, existing)
	}

	if e.politeness != nil {
		if err := e.politeness.Wait(ctx, url); err != nil {
			return e.fail(url, name, err)
		}
	}

	res, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return e.fail(url, name, err)
	}
	defer func() { _ = res.Body.Close() }()

	if offered := FilenameFromDisposition(res.Headers.Get("Content-Disposition")); offered != "" {
		if existing, dup := e.claim(ctx, claims, offered, logger); dup {
			logger.Debug("duplicate by content-disposition", zap.String("offered", offered), zap.String("existing", existing))
			e.observe(url, ingest.OutcomeSkipped, 0)
			return ingest.Skipped(offered, existing)
		}
		name = offered
	}

	if filepath.Ext(name) == "" {
		if ext := ExtensionForContentType(res.Headers.Get("Content-Type")); ext != "" {
			withExt := name + ext
			if existing, dup := e.claim(ctx, claims, withExt, logger); dup {
				e.observe(url, ingest.OutcomeSkipped, 0)
				return ingest.Skipped(withExt, existing)
			}
			name = withExt
		}
	}

	finalPath, written, err := e.finalize(res.Body, name, targetFolder)
	if err != nil {
		return e.fail(url, name, err)
	}
	e.advance(ctx, finalPath, ingest.StageFetched)
	e.advance(ctx, finalPath, ingest.StageVerified)
	e.observe(url, ingest.OutcomeSuccess, written)
	logger.Info("download finalized", zap.String("path", finalPath), zap.Int64("bytes", written))

	outcome := ingest.Success(name, finalPath)
	outcome.Bytes = written
	outcome.RemoteID = e.archive(ctx, finalPath, targetFolder)
	return outcome
}

// claim takes the lock for an alternative name and checks it for duplicates.
// When another acquire holds the name, claim waits for it to finish so that a
// failed holder does not cost this download. Waiting gives up after ClaimWait,
// which also breaks two acquires claiming each other's names.
func (e *Engine) claim(ctx context.Context, claims *claimSet, name string, logger *zap.Logger) (string, bool) {
	for _, held := range claims.names {
		if strings.EqualFold(held, name) {
			return "", false
		}
	}
	release, ok := e.locks.TryLock(name)
	if !ok {
		release, ok = e.waitClaim(ctx, name)
		if !ok {
			logger.Info("concurrent claim, skipping", zap.String("name", name))
			return "", true
		}
	}
	claims.add(release)
	claims.names = append(claims.names, name)
	if existing, found := e.findExisting(name); found {
		return existing, true
	}
	return "", false
}

func (e *Engine) waitClaim(ctx context.Context, name string) (func(), bool) {
	deadline := time.NewTimer(e.cfg.ClaimWait)
	defer deadline.Stop()
	tick := time.NewTicker(claimPollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			return nil, false
		case <-tick.C:
			if release, ok := e.locks.TryLock(name); ok {
				return release, true
			}
		}
	}
}

func (e *Engine) finalize(body io.Reader, name, targetFolder string) (string, int64, error) {
	stagingDir := filepath.Join(e.cfg.Root, e.cfg.StagingDir)
	if err := os.MkdirAll(stagingDir, 0o750); err != nil {
		return "", 0, fmt.Errorf("create staging dir: %w", err)
	}
	destDir, err := e.destination(targetFolder)
	if err != nil {
		return "", 0, err
	}

	tmp, err := os.CreateTemp(stagingDir, name+".*.part")
	if err != nil {
		return "", 0, fmt.Errorf("create staging file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	reader := body
	if e.cfg.MaxBytes > 0 {
		reader = io.LimitReader(body, e.cfg.MaxBytes+1)
	}
	written, copyErr := io.Copy(tmp, reader)
	if copyErr == nil && e.cfg.MaxBytes > 0 && written > e.cfg.MaxBytes {
		copyErr = ErrTooLarge
	}
	if copyErr == nil {
		copyErr = tmp.Sync()
	}
	if closeErr := tmp.Close(); copyErr == nil && closeErr != nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		return "", 0, fmt.Errorf("write staging file: %w", copyErr)
	}

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return "", 0, fmt.Errorf("create destination dir: %w", err)
	}
	finalPath := filepath.Join(destDir, name)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", 0, fmt.Errorf("finalize download: %w", err)
	}
	committed = true
	return finalPath, written, nil
}

func (e *Engine) destination(targetFolder string) (string, error) {
	base := filepath.Join(e.cfg.Root, e.cfg.FinishedDir)
	if strings.TrimSpace(targetFolder) == "" {
		return base, nil
	}
	dest := filepath.Join(base, filepath.Clean("/" + targetFolder))
	if !strings.HasPrefix(dest, filepath.Clean(base)+string(filepath.Separator)) {
		return "", fmt.Errorf("target folder %q escapes the archive", targetFolder)
	}
	return dest, nil
}

// findExisting walks the archive root (minus staging) for a case-insensitive name match.
func (e *Engine) findExisting(name string) (string, bool) {
	staging := filepath.Join(e.cfg.Root, e.cfg.StagingDir)
	var found string
	err := filepath.WalkDir(e.cfg.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != e.cfg.Root {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path == staging {
				return fs.SkipDir
			}
			return nil
		}
		if strings.EqualFold(d.Name(), name) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		e.logger.Warn("archive scan failed", zap.Error(err))
	}
	return found, found != ""
}

func (e *Engine) archive(ctx context.Context, finalPath, targetFolder string) string {
	if e.archiver == nil {
		return ""
	}
	logger := e.logger.With(zap.String("path", finalPath))
	parentID := e.cfg.ArchiveRootID
	for _, segment := range splitFolder(targetFolder) {
		id, err := e.archiver.GetOrCreateFolder(ctx, segment, parentID)
		if err != nil {
			logger.Warn("archive folder unavailable", zap.String("folder", segment), zap.Error(err))
			return ""
		}
		parentID = id
	}
	remoteID, err := e.archiver.Upload(ctx, finalPath, parentID)
	if err != nil || remoteID == "" {
		logger.Warn("archive upload failed", zap.Error(err))
		return ""
	}
	e.advance(ctx, finalPath, ingest.StageArchived)
	if e.ledger != nil {
		if err := e.ledger.SetRemoteID(ctx, finalPath, remoteID); err != nil {
			logger.Warn("ledger update failed", zap.Error(err))
		}
	}
	if e.cfg.AutoCleanup {
		if err := os.Remove(finalPath); err != nil {
			logger.Warn("auto-cleanup failed", zap.Error(err))
		} else {
			logger.Debug("local copy removed after upload")
		}
	}
	return remoteID
}

func splitFolder(folder string) []string {
	var out []string
	for _, part := range strings.Split(filepath.ToSlash(folder), "/") {
		if part != "" && part != "." && part != ".." {
			out = append(out, part)
		}
	}
	return out
}

func (e *Engine) advance(ctx context.Context, path string, stage ingest.FileStage) {
	if e.ledger == nil {
		return
	}
	if err := e.ledger.Advance(ctx, path, stage); err != nil {
		e.logger.Warn("ledger update failed", zap.String("path", path), zap.String("stage", string(stage)), zap.Error(err))
	}
}

func (e *Engine) fail(url, name string, err error) ingest.DownloadOutcome {
	e.logger.Warn("download failed", zap.String("url", url), zap.String("name", name), zap.Error(err))
	e.observe(url, ingest.OutcomeFailed, 0)
	return ingest.Failed(name, err)
}

func (e *Engine) observe(url string, status ingest.OutcomeStatus, written int64) {
	metrics.ObserveDownload(url, string(status), written)
}

type claimSet struct {
	releases []func()
	names    []string
}

func (c *claimSet) add(release func()) {
	c.releases = append(c.releases, release)
}

func (c *claimSet) release() {
	for i := len(c.releases) - 1; i >= 0; i-- {
		c.releases[i]()
	}
}
