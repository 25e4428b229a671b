package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/robometrics/robometrics/pkg/model"
	"github.com/robometrics/robometrics/pkg/store"
)

// defaultListLimit caps the run list endpoint when no limit is given.
const defaultListLimit = 50

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// queryInt reads an integer query parameter, falling back on absence or
// garbage.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   "robometrics",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleStatus returns headline metrics from the most recent run.
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	summaries, total := s.listSummaries(r, 1)

	resp := map[string]any{
		"status":       "operational",
		"timestamp":    time.Now().Format(time.RFC3339),
		"total_runs":   total,
		"latest_run":   nil,
		"total_tests":  0,
		"pass_rate":    0.0,
		"avg_duration": 0.0,
		"last_run":     "N/A",
	}

	if len(summaries) > 0 {
		latest := summaries[0]
		resp["latest_run"] = map[string]any{
			"run_id":    latest.RunID,
			"timestamp": latest.Timestamp,
			"pass_rate": latest.Summary.PassRate,
		}
		resp["total_tests"] = latest.Summary.Total
		resp["pass_rate"] = latest.Summary.PassRate
		resp["avg_duration"] = latest.Duration
		resp["last_run"] = latest.Timestamp
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleListRuns returns run summaries, newest first.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit)

	summaries, _ := s.listSummaries(r, limit)

	writeJSON(w, http.StatusOK, map[string]any{
		"total": len(summaries),
		"runs":  summaries,
	})
}

// listSummaries reads run summaries from the index when available,
// otherwise from the file store. The second return value is the total
// run count regardless of limit.
func (s *server) listSummaries(
	r *http.Request, limit int,
) ([]model.RunSummary, int) {
	if s.index != nil {
		rows, err := s.index.ListRuns(r.Context(), limit)
		if err == nil {
			count, cErr := s.index.CountRuns(r.Context())
			if cErr != nil {
				count = int64(len(rows))
			}

			summaries := make([]model.RunSummary, 0, len(rows))
			for i := range rows {
				summaries = append(summaries, rows[i].Summarize())
			}

			return summaries, int(count)
		}

		// Fall through to the file store on index trouble; partial
		// results beat a failed read path.
		s.log.WithError(err).Warn("Index listing failed, using file store")
	}

	runs := s.service.Store().List()
	total := len(runs)

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	summaries := make([]model.RunSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, run.Summarize())
	}

	return summaries, total
}

// handleGetRun returns the full record for one run.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := s.service.Store().Get(runID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"run not found"})

			return
		}

		writeJSON(w, http.StatusInternalServerError,
			errorResponse{err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, run)
}

// handleDeleteRun removes one run. Deleting twice is safe: the second
// call reports not found.
func (s *server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if err := s.service.DeleteRun(r.Context(), runID); err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"run not found"})

			return
		}

		writeJSON(w, http.StatusInternalServerError,
			errorResponse{err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "run " + runID + " deleted",
	})
}

// handleParse force-ingests the results directory's output.xml.
func (s *server) handleParse(w http.ResponseWriter, r *http.Request) {
	if s.resultsDir == "" {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"no results directory configured"})

		return
	}

	xmlPath := filepath.Join(s.resultsDir, "output.xml")

	if _, err := os.Stat(xmlPath); err != nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"output.xml not found"})

		return
	}

	result, err := s.service.Ingest(r.Context(), xmlPath)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{err.Error()})

		return
	}

	message := "metrics parsed and saved"
	if result.Skipped {
		message = "run already exists, skipped"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"run_id":  result.Run.RunID,
		"skipped": result.Skipped,
		"message": message,
	})
}

// handleClear removes all history.
func (s *server) handleClear(w http.ResponseWriter, r *http.Request) {
	removed, err := s.service.ClearHistory(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
		})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"cleared":   removed,
		"message":   fmt.Sprintf("cleared %d history record(s)", removed),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleTrends returns chronological trend series.
func (s *server) handleTrends(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "runs", 0)

	writeJSON(w, http.StatusOK, s.engine.Trend(limit))
}

// handleFlakyTests returns banded-rule flaky tests.
func (s *server) handleFlakyTests(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "runs", 0)

	flaky := s.engine.FlakyTests(limit)

	writeJSON(w, http.StatusOK, map[string]any{
		"total": len(flaky),
		"tests": flaky,
	})
}

// handleSlowestTests returns the top slowest tests of one run.
func (s *server) handleSlowestTests(w http.ResponseWriter, r *http.Request) {
	slowest := s.engine.SlowestTests(r.URL.Query().Get("run_id"))

	writeJSON(w, http.StatusOK, map[string]any{
		"total": len(slowest),
		"tests": slowest,
	})
}

// handleTagStats returns the latest run's per-tag rollups.
func (s *server) handleTagStats(w http.ResponseWriter, _ *http.Request) {
	runs := s.service.Store().List()
	if len(runs) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"tags": []model.GroupStat{},
		})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runs[0].RunID,
		"tags":   runs[0].TagStats,
	})
}

// handleSuiteStats returns the latest run's per-suite rollups.
func (s *server) handleSuiteStats(w http.ResponseWriter, _ *http.Request) {
	runs := s.service.Store().List()
	if len(runs) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"suites": []model.GroupStat{},
		})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runs[0].RunID,
		"suites": runs[0].SuiteStats,
	})
}

// handleCompare diffs two runs.
func (s *server) handleCompare(w http.ResponseWriter, r *http.Request) {
	runID1 := r.URL.Query().Get("run1")
	runID2 := r.URL.Query().Get("run2")

	if runID1 == "" || runID2 == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"both run1 and run2 parameters are required"})

		return
	}

	comparison, err := s.engine.Compare(runID1, runID2)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"one or both runs not found"})

			return
		}

		writeJSON(w, http.StatusInternalServerError,
			errorResponse{err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, comparison)
}

// handleTagAnalysis returns the full historical picture for one tag.
func (s *server) handleTagAnalysis(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")

	writeJSON(w, http.StatusOK, s.engine.TagAnalysis(tag))
}

// handleTagHistory returns the tag's pass-rate series.
func (s *server) handleTagHistory(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	limit := queryInt(r, "limit", 0)

	writeJSON(w, http.StatusOK, s.engine.TagHistory(tag, limit))
}

// handleTagTests returns per-test performance under a tag.
func (s *server) handleTagTests(w http.ResponseWriter, r *http.Request) {
	analysis := s.engine.TagAnalysis(chi.URLParam(r, "tag"))

	writeJSON(w, http.StatusOK, map[string]any{
		"tests":       analysis.Tests,
		"total_count": len(analysis.Tests),
		"flaky_count": analysis.FlakyCount,
	})
}

// handleTagExport serves the tag's per-test rollup as a CSV attachment.
func (s *server) handleTagExport(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")

	data, err := s.engine.TagCSV(tag)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{err.Error()})

		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=tag_%s_analysis.csv", tag))
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write(data)
}

// handleArchivedFile serves one archived artifact for a run. A missing
// archive is a normal state (still copying, or rotated away), reported
// as not found rather than an error.
func (s *server) handleArchivedFile(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	filePath := chi.URLParam(r, "*")

	if runID == "" || !isAllowedPath(filePath) {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid file path"})

		return
	}

	root := filepath.Join(s.service.Store().Dir(), runID)
	full := filepath.Join(root, filepath.FromSlash(filePath))

	// The resolved path must stay under the run's archive directory.
	if !strings.HasPrefix(full, root+string(filepath.Separator)) {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid file path"})

		return
	}

	if _, err := os.Stat(full); err != nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"file not found in archive"})

		return
	}

	http.ServeFile(w, r, full)
}

// isAllowedPath rejects empty, absolute, unclean, or traversal paths.
func isAllowedPath(filePath string) bool {
	if filePath == "" {
		return false
	}

	if strings.Contains(filePath, "..") {
		return false
	}

	if filepath.IsAbs(filePath) {
		return false
	}

	return path.Clean(filePath) == filePath
}
