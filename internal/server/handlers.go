package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/caevv/smartmover/internal/diskusage"
	"github.com/caevv/smartmover/internal/runner"
	"github.com/caevv/smartmover/internal/store"
)

const (
	version         = "v1.0.0"
	defaultLogLines = 500
	maxBodyBytes    = 64 * 1024
)

// handleHealth returns the health status of the server
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "ok",
		Version: version,
		Uptime:  s.Uptime(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleStatus returns the live runner state
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Runner.Status())
}

// handleRun starts a manual run in the background. The dry-run override is
// taken from the dry_run query parameter or the JSON body, in that order.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	override, err := parseDryRun(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if s.deps.Runner.Status().IsRunning {
		s.writeJSON(w, http.StatusConflict, RunResponse{
			Started: false,
			DryRun:  s.effectiveDryRun(override),
			Message: runner.ErrAlreadyRunning.Error(),
		})
		return
	}

	dryRun := s.effectiveDryRun(override)
	ctx := s.backgroundContext()

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		res := s.deps.Runner.Run(ctx, runner.RunOptions{DryRun: &dryRun})
		if !res.Success {
			s.logger.Warn("manual run failed", "run_id", res.RunID, "error", strings.TrimSpace(res.Error))
		}
	}()

	s.writeJSON(w, http.StatusAccepted, RunResponse{Started: true, DryRun: dryRun})
}

func parseDryRun(r *http.Request) (*bool, error) {
	if v := r.URL.Query().Get("dry_run"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid dry_run value %q", v)
		}
		return &b, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}
	var req RunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %v", err)
	}
	return req.DryRun, nil
}

func (s *Server) effectiveDryRun(override *bool) bool {
	if override != nil {
		return *override
	}
	settings, err := s.deps.Settings.Load()
	if err != nil {
		return true
	}
	return settings.DryRun
}

// handleSchedule returns the scheduled job
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.scheduleResponse())
}

func (s *Server) scheduleResponse() ScheduleResponse {
	sch := s.deps.Scheduler
	return ScheduleResponse{
		Enabled:  sch.IsEnabled(),
		Cron:     sch.Expression(),
		Timezone: sch.Timezone(),
		NextRun:  sch.NextRunTime(),
	}
}

// handleListHistory returns recorded runs, newest first
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit := s.parseIntParam(r, "limit", store.MaxRecords)

	records, err := s.deps.History.List(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve history", err)
		return
	}
	if records == nil {
		records = []store.Record{}
	}

	s.writeJSON(w, http.StatusOK, records)
}

// handleClearHistory removes every history record
func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.History.Clear(); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to clear history", err)
		return
	}
	s.logEvent("INFO", "Run history cleared")
	s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// handleGetLogs returns the tail of the run log
func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	lines := s.parseIntParam(r, "lines", defaultLogLines)
	level := r.URL.Query().Get("level")

	content, err := s.deps.Settings.ReadLogs(lines, level)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read logs", err)
		return
	}

	s.writeJSON(w, http.StatusOK, LogsResponse{Content: content, Lines: countLines(content)})
}

func countLines(content string) int {
	if content == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(content, "\n"), "\n") + 1
}

// handleClearLogs deletes the run log
func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Settings.ClearLogs(); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to clear logs", err)
		return
	}
	s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// handleDownloadLogs serves the raw run log as an attachment
func (s *Server) handleDownloadLogs(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(s.deps.Settings.LogFile())
	if errors.Is(err, os.ErrNotExist) {
		s.writeError(w, http.StatusNotFound, "log file not found", nil)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to open log file", err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to stat log file", err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="smart_mover.log"`)
	http.ServeContent(w, r, "smart_mover.log", info.ModTime(), f)
}

// handleGetSettings returns the settings with the API key masked
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.deps.Settings.Load()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load settings", err)
		return
	}
	s.writeJSON(w, http.StatusOK, newSettingsView(settings))
}

// handleUpdateSettings applies a partial update, saves it and reconfigures
// the schedule.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	patch, err := parseSettingsPatch(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	saved, err := s.deps.Settings.Update(patch.apply)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	s.deps.Scheduler.UpdateSchedule()
	s.logEvent("INFO", "Settings updated")

	s.writeJSON(w, http.StatusOK, SettingsUpdateResponse{
		Success:  true,
		Settings: newSettingsView(saved),
		Schedule: s.scheduleResponse(),
	})
}

// handleDisk reports cache and array usage
func (s *Server) handleDisk(w http.ResponseWriter, r *http.Request) {
	settings, err := s.deps.Settings.Load()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load settings", err)
		return
	}
	s.writeJSON(w, http.StatusOK, diskusage.NewReport(settings))
}

// handleCacheContents lists a directory below the cache drive
func (s *Server) handleCacheContents(w http.ResponseWriter, r *http.Request) {
	settings, err := s.deps.Settings.Load()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load settings", err)
		return
	}

	listing, err := diskusage.ListContents(settings.CacheDrive, r.URL.Query().Get("path"))
	switch {
	case errors.Is(err, diskusage.ErrInvalidPath), errors.Is(err, diskusage.ErrNotDirectory):
		s.writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	case errors.Is(err, diskusage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error(), nil)
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, "failed to list cache contents", err)
		return
	}

	s.writeJSON(w, http.StatusOK, listing)
}

func (s *Server) logEvent(level, msg string) {
	if err := s.deps.Runner.LogEvent(level, msg); err != nil {
		s.logger.Warn("failed to write run log event", "error", err)
	}
}

// parseIntParam parses a positive integer query parameter
func (s *Server) parseIntParam(r *http.Request, name string, def int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return def
	}

	n, err := strconv.Atoi(str)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	}

	if err != nil {
		s.logger.Error("API error", "status", status, "message", message, "error", err)
	}

	s.writeJSON(w, status, response)
}
