package runner

import (
	"time"
)

// RunResult describes one execution of the mover script. It is built once,
// when the run completes, and handed out by value.
type RunResult struct {
	RunID      string    `json:"run_id"`
	Success    bool      `json:"success"`
	Output     string    `json:"output"`
	Error      string    `json:"error"`
	ReturnCode int       `json:"return_code"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	DryRun     bool      `json:"dry_run"`
	FilesMoved int       `json:"files_moved"`
}

// Duration returns EndTime - StartTime, never negative.
func (r RunResult) Duration() time.Duration {
	d := r.EndTime.Sub(r.StartTime)
	if d < 0 {
		return 0
	}
	return d
}

// DurationSeconds returns Duration in fractional seconds.
func (r RunResult) DurationSeconds() float64 {
	return r.Duration().Seconds()
}

// Summary returns the status view of r.
func (r RunResult) Summary() RunSummary {
	return RunSummary{
		RunID:           r.RunID,
		Success:         r.Success,
		DryRun:          r.DryRun,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		DurationSeconds: r.DurationSeconds(),
		ReturnCode:      r.ReturnCode,
		FilesMoved:      r.FilesMoved,
	}
}

func mode(dryRun bool) string {
	if dryRun {
		return "DRY RUN"
	}
	return "LIVE"
}
