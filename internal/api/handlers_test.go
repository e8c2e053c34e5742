package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
	"github.com/JakeFAU/edu-harvester/internal/stats"
)

func TestStatsAndReset(t *testing.T) {
	t.Parallel()

	d := newDeps(t)
	d.stats.IncrementURLsProcessed(true)
	d.stats.IncrementURLsProcessed(false)
	d.stats.RecordDecision(ingest.FilterDecision{ShouldDownload: false, Confidence: 0.4})
	server := NewServer(d.deps(), Config{}, zap.NewNop())

	rec := serve(t, server, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap stats.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.EqualValues(t, 2, snap.URLsProcessed)
	assert.EqualValues(t, 1, snap.URLsFailed)
	assert.InDelta(t, 50.0, snap.SuccessRate, 1e-9)
	assert.InDelta(t, 100.0, snap.FilterRate, 1e-9)

	rec = serve(t, server, http.MethodPost, "/api/stats/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Zero(t, snap.URLsProcessed)
	assert.InDelta(t, 100.0, snap.SuccessRate, 1e-9)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, Config{})

	rec := serve(t, server, http.MethodPost, "/api/stop", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "not running")

	rec = serve(t, server, http.MethodPost, "/api/start", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, server, http.MethodPost, "/api/start", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "already running")

	rec = serve(t, server, http.MethodPost, "/api/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMissingDependenciesAnswer503(t *testing.T) {
	t.Parallel()

	server := NewServer(Deps{}, Config{}, zap.NewNop())
	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/stats"},
		{http.MethodPost, "/api/stats/reset"},
		{http.MethodPost, "/api/start"},
		{http.MethodGet, "/api/mappings"},
		{http.MethodGet, "/api/archive/tree"},
		{http.MethodGet, "/api/filter/cache"},
		{http.MethodGet, "/api/filter/config"},
	} {
		rec := serve(t, server, route.method, route.path, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, route.path)
	}
}

func TestListFilesAndServeFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "SHS1", "Physics"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "SHS1", "Physics", "waves.pdf"), []byte("%PDF-1.4"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.txt"), []byte("hi"), 0o600))
	server := newTestServer(t, Config{FilesRoot: root})

	rec := serve(t, server, http.MethodGet, "/api/files", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []FileItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2)
	assert.Equal(t, "SHS1", items[0].Name)
	assert.Equal(t, "directory", items[0].Type)
	require.Len(t, items[0].Children, 1)
	assert.Equal(t, "SHS1/Physics/waves.pdf", items[0].Children[0].Children[0].Path)
	assert.EqualValues(t, 8, items[0].Children[0].Children[0].Size)
	assert.Equal(t, "file", items[1].Type)

	rec = serve(t, server, http.MethodGet, "/files/SHS1/Physics/waves.pdf", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.4", rec.Body.String())

	rec = serve(t, server, http.MethodGet, "/files/SHS1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, server, http.MethodGet, "/files/nope.pdf", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, server, http.MethodGet, "/files/SHS1/..%2f..%2fetc%2fpasswd", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListFilesMissingRoot(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, Config{FilesRoot: filepath.Join(t.TempDir(), "missing")})
	rec := serve(t, server, http.MethodGet, "/api/files", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestArchiveTree(t *testing.T) {
	t.Parallel()

	d := newDeps(t)
	server := NewServer(d.deps(), Config{TreeDepth: 3}, zap.NewNop())

	rec := serve(t, server, http.MethodGet, "/api/archive/tree", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "root", d.archive.lastID)
	assert.Equal(t, 3, d.archive.lastDepth)
	assert.Contains(t, rec.Body.String(), "waves.pdf")

	rec = serve(t, server, http.MethodGet, "/api/archive/tree?folder=f1&depth=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "f1", d.archive.lastID)
	assert.Equal(t, 1, d.archive.lastDepth)

	rec = serve(t, server, http.MethodGet, "/api/archive/tree?depth=-2", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	d.archive.err = errors.New("quota")
	rec = serve(t, server, http.MethodGet, "/api/archive/tree", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestListMappings(t *testing.T) {
	t.Parallel()

	d := newDeps(t)
	require.NoError(t, d.mappings.Upsert("finished/a.pdf", "SHS1/Physics"))
	require.NoError(t, d.mappings.Upsert("finished/b.pdf", "SHS2/Biology"))
	require.NoError(t, d.mappings.Upsert("finished/c.pdf", "SHS1/Chemistry"))
	server := NewServer(d.deps(), Config{}, zap.NewNop())

	var body struct {
		Total    int `json:"total"`
		Mappings []struct {
			FilePath string `json:"filePath"`
		} `json:"mappings"`
	}
	rec := serve(t, server, http.MethodGet, "/api/mappings?node=SHS1&limit=1&offset=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Total)
	require.Len(t, body.Mappings, 1)
	assert.Equal(t, "finished/c.pdf", body.Mappings[0].FilePath)

	rec = serve(t, server, http.MethodGet, "/api/mappings?offset=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Total)
	assert.Empty(t, body.Mappings)

	rec = serve(t, server, http.MethodGet, "/api/mappings?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFilterConfigAndCache(t *testing.T) {
	t.Parallel()

	d := newDeps(t)
	server := NewServer(d.deps(), Config{}, zap.NewNop())

	rec := serve(t, server, http.MethodPut, "/api/filter/config",
		`{"targetSubjects":["Physics"],"minConfidence":0.8}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"targetSubjects":["Physics"],"targetGrades":[],"minConfidence":0.8,"enableCaching":true}`,
		rec.Body.String())
	assert.Equal(t, []string{"Physics"}, d.filter.Config().TargetSubjects)

	rec = serve(t, server, http.MethodPut, "/api/filter/config", `{"minConfidence":1.5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(t, server, http.MethodPut, "/api/filter/config", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, server, http.MethodGet, "/api/filter/cache", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cacheSize":3`)

	rec = serve(t, server, http.MethodDelete, "/api/filter/cache", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cacheSize":0`)
	assert.Equal(t, 1, d.filter.cleared)
}

func TestServer_RunContextDefaults(t *testing.T) {
	t.Parallel()

	server := NewServer(Deps{}, Config{}, nil)
	assert.Equal(t, context.Background(), server.deps.RunContext)
}
