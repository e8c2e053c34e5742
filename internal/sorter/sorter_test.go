package sorter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/edu-harvester/internal/archive"
	"github.com/JakeFAU/edu-harvester/internal/ingest"
	"github.com/JakeFAU/edu-harvester/internal/llm"
	"github.com/JakeFAU/edu-harvester/internal/mapping"
	"github.com/JakeFAU/edu-harvester/internal/storage/memory"
	"github.com/JakeFAU/edu-harvester/internal/taxonomy"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newSorter(svc ingest.ClassificationService, opts ...Option) *Sorter {
	return New(svc, taxonomy.Default(), Config{ItemDelay: 0}, nil, opts...)
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
}

func TestClassifyValidatesAgainstTaxonomy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want ingest.ClassificationResult
	}{
		{
			name: "valid shs",
			raw:  `{"grade":"SHS2","subject":"Physics","confidence":0.91}`,
			want: ingest.ClassificationResult{Grade: "SHS2", Subject: "Physics", Confidence: 0.91},
		},
		{
			name: "jhs subject under shs grade",
			raw:  `{"grade":"SHS2","subject":"Science","confidence":0.9}`,
			want: ingest.ClassificationResult{Grade: "SHS2", Subject: ingest.Uncategorized, Confidence: 0.9},
		},
		{
			name: "unknown grade",
			raw:  `{"grade":"Primary 4","subject":"Uncategorized","confidence":0.7}`,
			want: ingest.ClassificationResult{Grade: ingest.Uncategorized, Subject: ingest.Uncategorized, Confidence: 0.7},
		},
		{
			name: "missing confidence",
			raw:  `{"grade":"Grade9_JHS3","subject":"Social Studies"}`,
			want: ingest.ClassificationResult{Grade: "Grade9_JHS3", Subject: "Social Studies", Confidence: 0.5},
		},
		{
			name: "confidence as string",
			raw:  `{"grade":"SHS2","subject":"Physics","confidence":"0.95"}`,
			want: ingest.ClassificationResult{Grade: "SHS2", Subject: "Physics", Confidence: 0.5},
		},
		{
			name: "grade wrong type",
			raw:  `{"grade":7,"subject":"Mathematics","confidence":0.9}`,
			want: ingest.ClassificationResult{Grade: ingest.Uncategorized, Subject: ingest.Uncategorized, Confidence: 0.9},
		},
		{
			name: "malformed",
			raw:  `grade: SHS1`,
			want: ingest.ClassificationResult{Grade: ingest.Uncategorized, Subject: ingest.Uncategorized},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newSorter(llm.NewScripted(llm.Reply(tc.raw)))
			got := s.Classify(context.Background(), "file.pdf", "")
			assert.Equal(t, tc.want.Grade, got.Grade)
			assert.Equal(t, tc.want.Subject, got.Subject)
			assert.InDelta(t, tc.want.Confidence, got.Confidence, 1e-9)
		})
	}
}

func TestClassifyLogsHallucination(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	s := New(llm.NewScripted(llm.Reply(`{"grade":"Grade7_JHS1","subject":"Quantum Physics","confidence":0.95}`)),
		taxonomy.Default(), Config{}, zap.New(core))

	got := s.Classify(context.Background(), "quantum.pdf", "")
	assert.Equal(t, ingest.Uncategorized, got.Subject)
	require.Equal(t, 1, logs.FilterMessage("hallucinated subject reset").Len())
}

func TestClassifyServiceErrorIsUncategorized(t *testing.T) {
	t.Parallel()

	svc := llm.NewScripted(llm.Fail(errors.New("boom")))
	s := newSorter(svc)
	got := s.Classify(context.Background(), "a.pdf", "first page text")
	assert.Equal(t, ingest.ClassificationResult{Grade: ingest.Uncategorized, Subject: ingest.Uncategorized}, got)

	req := svc.Requests()[0]
	assert.Equal(t, ingest.KindClassification, req.Kind)
	assert.Equal(t, "first page text", req.Context)
	assert.Contains(t, req.Prompt, "WASSCE")
}

func TestClassifyRetriesQuotaErrors(t *testing.T) {
	t.Parallel()

	svc := llm.NewScripted(
		llm.Fail(fmt.Errorf("429: %w", ingest.ErrQuotaExceeded)),
		llm.Reply(`{"grade":"SHS2","subject":"Physics","confidence":0.9}`),
	)
	s := New(svc, taxonomy.Default(), Config{Retries: 3, BackoffUnit: time.Millisecond}, nil)

	got := s.Classify(context.Background(), "waves.pdf", "")
	assert.Equal(t, ingest.ClassificationResult{Grade: "SHS2", Subject: "Physics", Confidence: 0.9}, got)
	assert.Equal(t, 2, svc.Calls())
}

func TestClassifyQuotaRetriesAreBounded(t *testing.T) {
	t.Parallel()

	svc := llm.NewScripted(llm.Fail(ingest.ErrQuotaExceeded))
	s := New(svc, taxonomy.Default(), Config{Retries: 2, BackoffUnit: time.Millisecond}, nil)

	got := s.Classify(context.Background(), "waves.pdf", "")
	assert.Equal(t, ingest.Uncategorized, got.Grade)
	assert.Equal(t, 2, svc.Calls())
}

func TestClassifyBackoffHonorsContext(t *testing.T) {
	t.Parallel()

	svc := llm.NewScripted(llm.Fail(ingest.ErrQuotaExceeded))
	s := New(svc, taxonomy.Default(), Config{Retries: 3, BackoffUnit: time.Hour}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	got := s.Classify(ctx, "waves.pdf", "")
	assert.Equal(t, ingest.Uncategorized, got.Grade)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, 1, svc.Calls())
}

func TestClassifyRespectsLimiter(t *testing.T) {
	t.Parallel()

	svc := llm.NewScripted(llm.Reply(`{"grade":"SHS1","subject":"Biology","confidence":0.9}`))
	s := newSorter(svc, WithLimiter(limiterFunc(func(context.Context) error { return context.Canceled })))
	got := s.Classify(context.Background(), "a.pdf", "")
	assert.Equal(t, ingest.Uncategorized, got.Grade)
	assert.Zero(t, svc.Calls())
}

func TestSortLocalPlacesFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "finished", "a_physics.pdf"))
	writeFile(t, filepath.Join(root, "finished", "b_unsure.pdf"))
	writeFile(t, filepath.Join(root, "incoming", "c.pdf.1.part"))
	writeFile(t, filepath.Join(root, "SHS1", "Biology", "already.pdf"))
	writeFile(t, filepath.Join(root, ingest.ReviewNeeded, "old.pdf"))
	writeFile(t, filepath.Join(root, ".hidden"))

	svc := llm.Func(func(_ context.Context, req ingest.ClassifyRequest) (ingest.ClassifyResponse, error) {
		if strings.Contains(req.Filename, "physics") {
			return ingest.ClassifyResponse{Raw: `{"grade":"SHS1","subject":"Physics","confidence":0.92}`}, nil
		}
		return ingest.ClassifyResponse{Raw: `{"grade":"SHS1","subject":"Physics","confidence":0.6}`}, nil
	})
	ledger, err := mapping.Open("", nil)
	require.NoError(t, err)
	s := newSorter(svc, WithLedger(ledger))

	report, err := s.SortLocal(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Classified)
	assert.Equal(t, 1, report.Sorted)
	assert.Equal(t, 1, report.Review)

	assert.FileExists(t, filepath.Join(root, "SHS1", "Physics", "a_physics.pdf"))
	assert.FileExists(t, filepath.Join(root, ingest.ReviewNeeded, "b_unsure.pdf"))
	assert.FileExists(t, filepath.Join(root, "incoming", "c.pdf.1.part"))
	assert.FileExists(t, filepath.Join(root, "SHS1", "Biology", "already.pdf"))

	rec, ok := ledger.Get(filepath.Join(root, "SHS1", "Physics", "a_physics.pdf"))
	require.True(t, ok)
	assert.Equal(t, "SHS1/Physics", rec.CurriculumNodeID)
	assert.Equal(t, ingest.StageSorted, rec.Stage)
	rec, ok = ledger.Get(filepath.Join(root, ingest.ReviewNeeded, "b_unsure.pdf"))
	require.True(t, ok)
	assert.Equal(t, ingest.StageReview, rec.Stage)
}

func TestSortLocalCollisionGetsSuffix(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "finished", "syllabus.pdf"))
	writeFile(t, filepath.Join(root, ingest.ReviewNeeded, "syllabus.pdf"))

	now := time.UnixMilli(1700000000123)
	s := newSorter(llm.NewScripted(llm.Reply(`{"grade":"Uncategorized","subject":"Uncategorized","confidence":0.9}`)),
		WithClock(fixedClock{now}))

	report, err := s.SortLocal(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, report.Placements, 1)
	assert.Equal(t, filepath.Join(root, ingest.ReviewNeeded, "syllabus_1700000000123.pdf"), report.Placements[0].Target)
	assert.FileExists(t, filepath.Join(root, ingest.ReviewNeeded, "syllabus.pdf"))
}

func TestSortLocalDelayHonorsContext(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.pdf"))
	writeFile(t, filepath.Join(root, "b.pdf"))
	s := New(llm.NewScripted(llm.Reply(`{"grade":"SHS1","subject":"Physics","confidence":0.9}`)),
		taxonomy.Default(), Config{ItemDelay: time.Hour}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	report, err := s.SortLocal(ctx, root)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, report.Classified)
}

func TestSortLocalStopsWhenCancelledMidClassify(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "notes.pdf"))
	ledger, err := mapping.Open("", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := llm.Func(func(ctx context.Context, _ ingest.ClassifyRequest) (ingest.ClassifyResponse, error) {
		cancel()
		return ingest.ClassifyResponse{}, ctx.Err()
	})
	s := newSorter(svc, WithLedger(ledger))

	report, err := s.SortLocal(ctx, root)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, report.Review)
	assert.FileExists(t, filepath.Join(root, "notes.pdf"))
	assert.NoDirExists(t, filepath.Join(root, ingest.ReviewNeeded))
	assert.Empty(t, ledger.List())
}

func TestResortRemoteMovesConfidentFiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewObjectStore()
	sync, err := archive.New(store, archive.Config{RootID: memory.RootID}, nil)
	require.NoError(t, err)
	review, err := sync.GetOrCreateFolder(ctx, ingest.ReviewNeeded, memory.RootID)
	require.NoError(t, err)
	good, err := store.CreateFile(ctx, "shs3_chemistry_notes.pdf", review, "application/pdf", strings.NewReader("x"))
	require.NoError(t, err)
	_, err = store.CreateFile(ctx, "scan0001.pdf", review, "application/pdf", strings.NewReader("y"))
	require.NoError(t, err)
	_, err = store.CreateFolder(ctx, "nested", review)
	require.NoError(t, err)

	svc := llm.Func(func(_ context.Context, req ingest.ClassifyRequest) (ingest.ClassifyResponse, error) {
		if strings.Contains(req.Filename, "chemistry") {
			return ingest.ClassifyResponse{Raw: `{"grade":"SHS3","subject":"Chemistry","confidence":0.88}`}, nil
		}
		return ingest.ClassifyResponse{Raw: `{"grade":"SHS3","subject":"Uncategorized","confidence":0.9}`}, nil
	})
	s := newSorter(svc, WithRemote(store, sync))

	report, err := s.ResortRemote(ctx, memory.RootID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Classified)
	assert.Equal(t, 1, report.Sorted)
	assert.Equal(t, 1, report.Kept)
	assert.Equal(t, 2, store.Transfers())

	grade, found, err := store.FindFolder(ctx, "SHS3", memory.RootID)
	require.NoError(t, err)
	require.True(t, found)
	subject, found, err := store.FindFolder(ctx, "Chemistry", grade.ID)
	require.NoError(t, err)
	require.True(t, found)
	moved, found, err := store.FindFile(ctx, "shs3_chemistry_notes.pdf", subject.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, good.ID, moved.ID)
	_, found, err = store.FindFile(ctx, "scan0001.pdf", review)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestResortRemoteStopsWhenCancelledMidClassify(t *testing.T) {
	t.Parallel()

	store := memory.NewObjectStore()
	sync, err := archive.New(store, archive.Config{RootID: memory.RootID}, nil)
	require.NoError(t, err)
	review, err := sync.GetOrCreateFolder(context.Background(), ingest.ReviewNeeded, memory.RootID)
	require.NoError(t, err)
	_, err = store.CreateFile(context.Background(), "shs1_physics.pdf", review, "application/pdf", strings.NewReader("x"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := llm.Func(func(ctx context.Context, _ ingest.ClassifyRequest) (ingest.ClassifyResponse, error) {
		cancel()
		return ingest.ClassifyResponse{}, ctx.Err()
	})
	s := newSorter(svc, WithRemote(store, sync))

	report, err := s.ResortRemote(ctx, memory.RootID)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, report.Kept)
	_, found, err := store.FindFile(context.Background(), "shs1_physics.pdf", review)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestResortRemoteWithoutReviewFolder(t *testing.T) {
	t.Parallel()

	store := memory.NewObjectStore()
	sync, err := archive.New(store, archive.Config{RootID: memory.RootID}, nil)
	require.NoError(t, err)
	svc := llm.NewScripted()
	s := newSorter(svc, WithRemote(store, sync))

	report, err := s.ResortRemote(context.Background(), memory.RootID)
	require.NoError(t, err)
	assert.Zero(t, report.Classified)
	assert.Zero(t, svc.Calls())

	_, err = newSorter(svc).ResortRemote(context.Background(), memory.RootID)
	require.Error(t, err)
}

type limiterFunc func(ctx context.Context) error

func (f limiterFunc) Acquire(ctx context.Context) error { return f(ctx) }
