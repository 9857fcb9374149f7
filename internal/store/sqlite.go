package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS run_history (
    seq              INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id           TEXT NOT NULL,
    timestamp        TEXT NOT NULL,
    dry_run          INTEGER NOT NULL,
    success          INTEGER NOT NULL,
    duration_seconds REAL NOT NULL,
    files_moved      INTEGER NOT NULL,
    log              TEXT NOT NULL
)`

// SQLiteStore implements the Store interface on a SQLite database, for
// setups that already inspect their history with SQL tooling.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create run_history table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append inserts rec and deletes everything older than the newest MaxRecords rows.
func (s *SQLiteStore) Append(rec Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(
		`INSERT INTO run_history (run_id, timestamp, dry_run, success, duration_seconds, files_moved, log)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.DryRun,
		rec.Success,
		rec.DurationSeconds,
		rec.FilesMoved,
		rec.Log,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	_, err = tx.Exec(
		`DELETE FROM run_history WHERE seq NOT IN (
            SELECT seq FROM run_history ORDER BY seq DESC LIMIT ?
        )`,
		MaxRecords,
	)
	if err != nil {
		return fmt.Errorf("evict records: %w", err)
	}

	return tx.Commit()
}

// List returns records newest first.
func (s *SQLiteStore) List(limit int) ([]Record, error) {
	query := `SELECT run_id, timestamp, dry_run, success, duration_seconds, files_moved, log
              FROM run_history ORDER BY seq DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var (
			rec Record
			ts  string
		)
		if err := rows.Scan(&rec.RunID, &ts, &rec.DryRun, &rec.Success, &rec.DurationSeconds, &rec.FilesMoved, &rec.Log); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return recs, nil
}

// Clear deletes every record.
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM run_history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// Close releases resources held by the store.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
