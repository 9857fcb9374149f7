// Package store provides persistence for the bounded run history.
package store

import (
	"time"
)

// MaxRecords is the number of history records kept. Appending beyond it
// evicts the oldest record.
const MaxRecords = 50

// Store defines the interface for persisting and retrieving run history.
type Store interface {
	// Append inserts a record at the head of the history and evicts from the
	// tail so that at most MaxRecords remain.
	Append(rec Record) error

	// List returns up to limit records, newest first. limit <= 0 returns all.
	List(limit int) ([]Record, error)

	// Clear removes every record.
	Clear() error

	// Close releases any resources held by the store.
	Close() error
}

// Record summarizes one completed run. Records are never modified after
// they are written.
type Record struct {
	// RunID identifies the run that produced this record.
	RunID string `json:"run_id"`

	// Timestamp is when the run started.
	Timestamp time.Time `json:"timestamp"`

	// DryRun is true when the mover only simulated its moves.
	DryRun bool `json:"dry_run"`

	Success         bool    `json:"success"`
	DurationSeconds float64 `json:"duration_seconds"`

	// FilesMoved counts moved (or would-be-moved) files reported by the script.
	FilesMoved int `json:"files_moved"`

	// Log is the run output with status lines removed.
	Log string `json:"log"`
}

// Mode returns "dry" or "live".
func (r Record) Mode() string {
	if r.DryRun {
		return "dry"
	}
	return "live"
}

func limitRecords(recs []Record, limit int) []Record {
	if limit > 0 && len(recs) > limit {
		return recs[:limit]
	}
	return recs
}
