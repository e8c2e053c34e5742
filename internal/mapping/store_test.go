package mapping

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestStorePersistsAcrossOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data", "file_mappings.json")
	s, err := Open(path, nil)
	require.NoError(t, err)
	s.SetClock(fixedClock{time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)})

	require.NoError(t, s.Upsert("SHS1/Physics/waves.pdf", "SHS1/Physics"))
	require.NoError(t, s.Upsert("Grade7_JHS1/Science/cells.pdf", "Grade7_JHS1/Science"))
	require.NoError(t, s.Upsert("SHS1/Physics/waves.pdf", "SHS1/Physics_2"))

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	recs := reopened.List()
	require.Len(t, recs, 2)
	assert.Equal(t, "Grade7_JHS1/Science/cells.pdf", recs[0].FilePath)
	assert.Equal(t, "SHS1/Physics_2", recs[1].CurriculumNodeID)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), recs[1].UpdatedAt)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"curriculumNodeId"`)

	require.NoError(t, reopened.Remove("SHS1/Physics/waves.pdf"))
	require.NoError(t, reopened.Remove("unknown"))
	_, ok := reopened.Get("SHS1/Physics/waves.pdf")
	assert.False(t, ok)
}

func TestAdvanceIsForwardOnly(t *testing.T) {
	t.Parallel()

	s, err := Open("", nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Advance(ctx, "a.pdf", ingest.StageFetched))
	require.NoError(t, s.Advance(ctx, "a.pdf", ingest.StageVerified))
	require.NoError(t, s.Advance(ctx, "a.pdf", ingest.StageArchived))
	require.ErrorIs(t, s.Advance(ctx, "a.pdf", ingest.StageFetched), ErrStageRegression)
	require.NoError(t, s.Advance(ctx, "a.pdf", ingest.StageSorted))

	rec, ok := s.Get("a.pdf")
	require.True(t, ok)
	assert.Equal(t, ingest.StageSorted, rec.Stage)
}

func TestLedgerOperations(t *testing.T) {
	t.Parallel()

	s, err := Open("", nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Assign(ctx, "incoming.pdf", "SHS2/Chemistry"))
	require.NoError(t, s.SetRemoteID(ctx, "incoming.pdf", "remote-7"))
	require.NoError(t, s.Rename(ctx, "incoming.pdf", "SHS2/Chemistry/incoming.pdf"))

	_, ok := s.Get("incoming.pdf")
	assert.False(t, ok)
	rec, ok := s.Get("SHS2/Chemistry/incoming.pdf")
	require.True(t, ok)
	assert.Equal(t, "SHS2/Chemistry", rec.CurriculumNodeID)
	assert.Equal(t, "remote-7", rec.RemoteID)

	require.Error(t, s.Assign(ctx, "", "x"))
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "m.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := Open(path, nil)
	require.Error(t, err)
}
