package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
)

type docServer struct {
	*httptest.Server
	hits atomic.Int64
}

func newDocServer(t *testing.T, handler http.HandlerFunc) *docServer {
	t.Helper()
	ds := &docServer{}
	ds.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ds.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(ds.Close)
	return ds
}

func pdfHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte(body))
	}
}

func newTestEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	if cfg.Root == "" {
		cfg.Root = t.TempDir()
	}
	e, err := New(cfg, NewHTTPFetcher(5*time.Second, "edu-harvester-test"), nil, opts...)
	require.NoError(t, err)
	return e
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			out = append(out, path)
		}
		return nil
	})
	return out
}

func TestAcquireFinalizesIntoTargetFolder(t *testing.T) {
	t.Parallel()

	srv := newDocServer(t, pdfHandler("syllabus bytes"))
	e := newTestEngine(t, Config{})

	out := e.Acquire(context.Background(), srv.URL+"/docs/jhs1-maths.pdf", "moe.gov.gh")
	require.Equal(t, ingest.OutcomeSuccess, out.Status, "err: %v", out.Err)
	assert.Equal(t, filepath.Join(e.Root(), "finished", "moe.gov.gh", "jhs1-maths.pdf"), out.Path)

	data, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Equal(t, "syllabus bytes", string(data))
	assert.Empty(t, listFiles(t, filepath.Join(e.Root(), "incoming")))
	assert.Zero(t, e.locks.Held())
}

func TestAcquireDuplicateAnywhereSkipsWithoutFetch(t *testing.T) {
	t.Parallel()

	srv := newDocServer(t, pdfHandler("x"))
	root := t.TempDir()
	existing := filepath.Join(root, "SHS1", "Biology", "Notes.PDF")
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o750))
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o600))

	e := newTestEngine(t, Config{Root: root})
	out := e.Acquire(context.Background(), srv.URL+"/files/notes.pdf", "")

	assert.Equal(t, ingest.OutcomeSkipped, out.Status)
	assert.Equal(t, existing, out.Path)
	assert.Zero(t, srv.hits.Load())
}

func TestAcquireIgnoresPartialsInStaging(t *testing.T) {
	t.Parallel()

	srv := newDocServer(t, pdfHandler("fresh"))
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "incoming"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "incoming", "report.pdf"), []byte("partial"), 0o600))

	e := newTestEngine(t, Config{Root: root})
	out := e.Acquire(context.Background(), srv.URL+"/report.pdf", "")
	assert.Equal(t, ingest.OutcomeSuccess, out.Status)
}

func TestAcquireContentDispositionDuplicate(t *testing.T) {
	t.Parallel()

	srv := newDocServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="biology-wassce.pdf"`)
		_, _ = w.Write([]byte("x"))
	})
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "finished"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "finished", "biology-wassce.pdf"), []byte("old"), 0o600))

	e := newTestEngine(t, Config{Root: root})
	out := e.Acquire(context.Background(), srv.URL+"/download.php?id=7", "")

	assert.Equal(t, ingest.OutcomeSkipped, out.Status)
	assert.Equal(t, "biology-wassce.pdf", out.Name)
	assert.Equal(t, int64(1), srv.hits.Load())
}

func TestAcquireUsesContentDispositionName(t *testing.T) {
	t.Parallel()

	srv := newDocServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="Core Maths SHS2.pdf"`)
		_, _ = w.Write([]byte("x"))
	})
	e := newTestEngine(t, Config{})

	out := e.Acquire(context.Background(), srv.URL+"/get?file=22", "")
	require.Equal(t, ingest.OutcomeSuccess, out.Status)
	assert.Equal(t, "Core_Maths_SHS2.pdf", filepath.Base(out.Path))
}

func TestAcquireInfersExtension(t *testing.T) {
	t.Parallel()

	srv := newDocServer(t, pdfHandler("%PDF-1.4"))
	e := newTestEngine(t, Config{})

	out := e.Acquire(context.Background(), srv.URL+"/resources/syllabus", "")
	require.Equal(t, ingest.OutcomeSuccess, out.Status)
	assert.Equal(t, "syllabus.pdf", filepath.Base(out.Path))
}

func TestAcquireConcurrentSameURL(t *testing.T) {
	t.Parallel()

	srv := newDocServer(t, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("content"))
	})
	e := newTestEngine(t, Config{})
	url := srv.URL + "/past-questions/bece-2019.pdf"

	var wg sync.WaitGroup
	outcomes := make([]ingest.DownloadOutcome, 2)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = e.Acquire(context.Background(), url, "")
		}(i)
	}
	wg.Wait()

	statuses := map[ingest.OutcomeStatus]int{}
	for _, o := range outcomes {
		statuses[o.Status]++
	}
	assert.Equal(t, 1, statuses[ingest.OutcomeSuccess])
	assert.Equal(t, 1, statuses[ingest.OutcomeSkipped])
	assert.Len(t, listFiles(t, filepath.Join(e.Root(), "finished")), 1)
	assert.Equal(t, int64(1), srv.hits.Load())
}

func TestAcquireWaitsForFailedClaimHolder(t *testing.T) {
	t.Parallel()

	srv := newDocServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="notes.pdf"`)
		_, _ = w.Write([]byte("x"))
	})
	e := newTestEngine(t, Config{})

	// Another acquire is working on notes.pdf and gives up without a file.
	release := e.locks.Lock("notes.pdf")
	go func() {
		time.Sleep(60 * time.Millisecond)
		release()
	}()

	out := e.Acquire(context.Background(), srv.URL+"/download.php?id=3", "")
	require.Equal(t, ingest.OutcomeSuccess, out.Status)
	assert.Equal(t, "notes.pdf", filepath.Base(out.Path))
}

func TestAcquireGivesUpOnLongClaim(t *testing.T) {
	t.Parallel()

	srv := newDocServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="notes.pdf"`)
		_, _ = w.Write([]byte("x"))
	})
	e := newTestEngine(t, Config{ClaimWait: 50 * time.Millisecond})
	release := e.locks.Lock("notes.pdf")
	defer release()

	out := e.Acquire(context.Background(), srv.URL+"/download.php?id=3", "")
	assert.Equal(t, ingest.OutcomeSkipped, out.Status)
	assert.Empty(t, listFiles(t, filepath.Join(e.Root(), "finished")))
}

func TestAcquireSizeLimitRemovesPartial(t *testing.T) {
	t.Parallel()

	srv := newDocServer(t, pdfHandler("0123456789"))
	e := newTestEngine(t, Config{MaxBytes: 4})

	out := e.Acquire(context.Background(), srv.URL+"/big.pdf", "")
	assert.Equal(t, ingest.OutcomeFailed, out.Status)
	require.ErrorIs(t, out.Err, ErrTooLarge)
	assert.Empty(t, listFiles(t, e.Root()))
}

func TestAcquireHTTPErrorFails(t *testing.T) {
	t.Parallel()

	srv := newDocServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	e := newTestEngine(t, Config{})

	out := e.Acquire(context.Background(), srv.URL+"/broken.pdf", "")
	assert.Equal(t, ingest.OutcomeFailed, out.Status)
	require.Error(t, out.Err)
	assert.Empty(t, listFiles(t, e.Root()))
}

func TestAcquireTargetFolderStaysInsideArchive(t *testing.T) {
	t.Parallel()

	srv := newDocServer(t, pdfHandler("x"))
	e := newTestEngine(t, Config{})

	out := e.Acquire(context.Background(), srv.URL+"/escape.pdf", "../../outside")
	require.Equal(t, ingest.OutcomeSuccess, out.Status)
	assert.Equal(t, filepath.Join(e.Root(), "finished", "outside", "escape.pdf"), out.Path)
}

type fakeArchiver struct {
	mu      sync.Mutex
	folders []string
	uploads []string
	err     error
}

func (f *fakeArchiver) GetOrCreateFolder(_ context.Context, name, parentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folders = append(f.folders, parentID+"/"+name)
	return parentID + "/" + name, nil
}

func (f *fakeArchiver) Upload(_ context.Context, localPath, parentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.uploads = append(f.uploads, localPath)
	return parentID + "/" + filepath.Base(localPath), nil
}

type fakeLedger struct {
	mu     sync.Mutex
	stages map[string][]ingest.FileStage
	remote map[string]string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{stages: map[string][]ingest.FileStage{}, remote: map[string]string{}}
}

func (l *fakeLedger) Advance(_ context.Context, path string, stage ingest.FileStage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stages[path] = append(l.stages[path], stage)
	return nil
}

func (l *fakeLedger) Assign(context.Context, string, string) error { return nil }

func (l *fakeLedger) SetRemoteID(_ context.Context, path, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remote[path] = id
	return nil
}

func TestAcquireArchivesAndCleansUp(t *testing.T) {
	t.Parallel()

	srv := newDocServer(t, pdfHandler("x"))
	archiver := &fakeArchiver{}
	ledger := newFakeLedger()
	e := newTestEngine(t, Config{AutoCleanup: true, ArchiveRootID: "root"},
		WithArchiver(archiver), WithLedger(ledger))

	out := e.Acquire(context.Background(), srv.URL+"/ict-jhs2.pdf", "moe/jhs")
	require.Equal(t, ingest.OutcomeSuccess, out.Status)
	assert.Equal(t, "root/moe/jhs/ict-jhs2.pdf", out.RemoteID)
	assert.Equal(t, []string{"root/moe", "root/moe/jhs"}, archiver.folders)

	_, err := os.Stat(out.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t,
		[]ingest.FileStage{ingest.StageFetched, ingest.StageVerified, ingest.StageArchived},
		ledger.stages[out.Path])
	assert.Equal(t, out.RemoteID, ledger.remote[out.Path])
}

func TestAcquireKeepsLocalCopyWhenUploadFails(t *testing.T) {
	t.Parallel()

	srv := newDocServer(t, pdfHandler("x"))
	archiver := &fakeArchiver{err: errors.New("quota")}
	e := newTestEngine(t, Config{AutoCleanup: true}, WithArchiver(archiver))

	out := e.Acquire(context.Background(), srv.URL+"/french.pdf", "")
	require.Equal(t, ingest.OutcomeSuccess, out.Status)
	assert.Empty(t, out.RemoteID)
	_, err := os.Stat(out.Path)
	assert.NoError(t, err)
}

type recordingPoliteness struct{ calls atomic.Int64 }

func (p *recordingPoliteness) Wait(context.Context, string) error {
	p.calls.Add(1)
	return nil
}

func TestAcquireWaitsOnPoliteness(t *testing.T) {
	t.Parallel()

	srv := newDocServer(t, pdfHandler("x"))
	p := &recordingPoliteness{}
	e := newTestEngine(t, Config{}, WithPoliteness(p))

	for i := range 3 {
		e.Acquire(context.Background(), fmt.Sprintf("%s/doc-%d.pdf", srv.URL, i), "")
	}
	assert.Equal(t, int64(3), p.calls.Load())
}

func TestNewRejectsFileRoot(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err := New(Config{Root: file}, NewHTTPFetcher(0, ""), nil)
	require.Error(t, err)

	_, err = New(Config{}, NewHTTPFetcher(0, ""), nil)
	require.Error(t, err)
}
