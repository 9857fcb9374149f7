package runner

import (
	"strings"
	"sync"
	"time"
)

// State is the runner state shared by the coordinator, the scheduler and the
// HTTP layer. All fields are guarded by mu.
type State struct {
	mu      sync.Mutex
	running bool
	output  strings.Builder
	status  string
	lastRun *RunResult
}

// NewState returns an idle state with no last run.
func NewState() *State {
	return &State{}
}

// Status is a point-in-time copy of State.
type Status struct {
	IsRunning     bool        `json:"is_running"`
	CurrentOutput string      `json:"current_output"`
	CurrentStatus string      `json:"current_status"`
	LastRun       *RunSummary `json:"last_run"`
}

// RunSummary is the status view of a completed run.
type RunSummary struct {
	RunID           string    `json:"run_id"`
	Success         bool      `json:"success"`
	DryRun          bool      `json:"dry_run"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	ReturnCode      int       `json:"return_code"`
	FilesMoved      int       `json:"files_moved"`
}

// begin is the single-flight check-and-set. It reports false, leaving the
// state untouched, when a run is already in flight.
func (s *State) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}
	s.running = true
	s.output.Reset()
	s.status = ""
	return true
}

// abort releases a slot taken by begin without recording a result.
func (s *State) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	s.output.Reset()
	s.status = ""
}

// record appends a line to the live output and applies status updates.
func (s *State) record(l Line) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.output.WriteString(l.Raw)
	s.output.WriteByte('\n')
	if l.Kind == KindStatus {
		s.status = l.Text
	}
}

// finish ends the run and publishes its result.
func (s *State) finish(r RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	s.lastRun = &r
	s.output.Reset()
	s.status = ""
}

// Running reports whether a run is in flight.
func (s *State) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastRun returns the most recent completed result, if any.
func (s *State) LastRun() (RunResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastRun == nil {
		return RunResult{}, false
	}
	return *s.lastRun, true
}

// Snapshot returns a copy of the state.
func (s *State) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		IsRunning:     s.running,
		CurrentOutput: s.output.String(),
		CurrentStatus: s.status,
	}
	if s.lastRun != nil {
		sum := s.lastRun.Summary()
		st.LastRun = &sum
	}
	return st
}
