package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/edu-harvester/internal/mapping"
	"github.com/JakeFAU/edu-harvester/internal/orchestrator"
)

const (
	defaultMappingLimit = 100
	maxMappingLimit     = 1000
	archiveTimeout      = 30 * time.Second
)

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Stats == nil {
		writeError(w, http.StatusServiceUnavailable, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Stats.Snapshot())
}

func (s *Server) resetStats(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Stats == nil {
		writeError(w, http.StatusServiceUnavailable, "stats unavailable")
		return
	}
	s.deps.Stats.Reset()
	writeJSON(w, http.StatusOK, s.deps.Stats.Snapshot())
}

// startRun handles POST /api/start. It answers 400 when a run is already
// active, mirroring stopRun.
func (s *Server) startRun(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "runner unavailable")
		return
	}
	if err := s.deps.Runner.Start(s.deps.RunContext); err != nil {
		if errors.Is(err, orchestrator.ErrAlreadyRunning) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Harvester is already running"})
			return
		}
		s.logger.Error("start run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Harvester started"})
}

func (s *Server) stopRun(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "runner unavailable")
		return
	}
	if err := s.deps.Runner.Stop(); err != nil {
		if errors.Is(err, orchestrator.ErrNotRunning) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Harvester is not running"})
			return
		}
		s.logger.Error("stop run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to stop")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Stop signal sent"})
}

func (s *Server) listFiles(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.FilesRoot == "" {
		writeJSON(w, http.StatusOK, []FileItem{})
		return
	}
	items, err := ScanDirectory(s.cfg.FilesRoot)
	if err != nil {
		s.logger.Error("scan files failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to scan files")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// serveFile handles GET /files/*, streaming one file from FilesRoot.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	if s.cfg.FilesRoot == "" {
		http.NotFound(w, r)
		return
	}
	rel := chi.URLParam(r, "*")
	if strings.Contains(rel, "..") {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	fsys := http.Dir(s.cfg.FilesRoot)
	f, err := fsys.Open("/" + rel)
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// archiveTree handles GET /api/archive/tree?folder=&depth=.
func (s *Server) archiveTree(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive unavailable")
		return
	}
	depth := s.cfg.TreeDepth
	if raw := r.URL.Query().Get("depth"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 0 {
			writeError(w, http.StatusBadRequest, "invalid depth")
			return
		}
		depth = val
	}
	folder := r.URL.Query().Get("folder")
	if folder == "" {
		folder = s.deps.Archive.RootID()
	}
	ctx, cancel := context.WithTimeout(r.Context(), archiveTimeout)
	defer cancel()
	nodes, err := s.deps.Archive.Tree(ctx, folder, depth)
	if err != nil {
		s.logger.Error("archive tree failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to list archive")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folderId": folder, "items": nodes})
}

// listMappings handles GET /api/mappings?limit=&offset=&node=.
func (s *Server) listMappings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Mappings == nil {
		writeError(w, http.StatusServiceUnavailable, "mappings unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultMappingLimit, maxMappingLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	node := strings.TrimSpace(r.URL.Query().Get("node"))
	all := s.deps.Mappings.List()
	records := make([]mapping.Record, 0, len(all))
	for _, rec := range all {
		if node == "" || strings.HasPrefix(rec.CurriculumNodeID, node) {
			records = append(records, rec)
		}
	}
	total := len(records)
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)
	writeJSON(w, http.StatusOK, map[string]any{
		"total":    total,
		"mappings": records[offset:end],
	})
}

type filterConfigDTO struct {
	TargetSubjects []string `json:"targetSubjects"`
	TargetGrades   []string `json:"targetGrades"`
	MinConfidence  float64  `json:"minConfidence"`
	EnableCaching  bool     `json:"enableCaching"`
}

type filterConfigPatch struct {
	TargetSubjects *[]string `json:"targetSubjects"`
	TargetGrades   *[]string `json:"targetGrades"`
	MinConfidence  *float64  `json:"minConfidence"`
	EnableCaching  *bool     `json:"enableCaching"`
}

func (s *Server) getFilterConfig(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Filter == nil {
		writeError(w, http.StatusServiceUnavailable, "filter unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.filterConfig())
}

// updateFilterConfig applies a partial update; omitted fields keep their
// current value.
func (s *Server) updateFilterConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Filter == nil {
		writeError(w, http.StatusServiceUnavailable, "filter unavailable")
		return
	}
	var patch filterConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if patch.MinConfidence != nil && (*patch.MinConfidence < 0 || *patch.MinConfidence > 1) {
		writeError(w, http.StatusBadRequest, "minConfidence must be within [0,1]")
		return
	}
	cfg := s.deps.Filter.Config()
	if patch.TargetSubjects != nil {
		cfg.TargetSubjects = *patch.TargetSubjects
	}
	if patch.TargetGrades != nil {
		cfg.TargetGrades = *patch.TargetGrades
	}
	if patch.MinConfidence != nil {
		cfg.MinConfidence = *patch.MinConfidence
	}
	if patch.EnableCaching != nil {
		cfg.EnableCaching = *patch.EnableCaching
	}
	s.deps.Filter.UpdateConfig(cfg)
	writeJSON(w, http.StatusOK, s.filterConfig())
}

func (s *Server) filterConfig() filterConfigDTO {
	cfg := s.deps.Filter.Config()
	return filterConfigDTO{
		TargetSubjects: nonNil(cfg.TargetSubjects),
		TargetGrades:   nonNil(cfg.TargetGrades),
		MinConfidence:  cfg.MinConfidence,
		EnableCaching:  cfg.EnableCaching,
	}
}

func (s *Server) getFilterCache(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Filter == nil {
		writeError(w, http.StatusServiceUnavailable, "filter unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Filter.CacheStats())
}

func (s *Server) clearFilterCache(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Filter == nil {
		writeError(w, http.StatusServiceUnavailable, "filter unavailable")
		return
	}
	s.deps.Filter.ClearCache()
	writeJSON(w, http.StatusOK, s.deps.Filter.CacheStats())
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
