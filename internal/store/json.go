package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/gofrs/flock"
)

// JSONStore implements the Store interface using a single JSON array file,
// newest record first. Every operation re-reads the file under an advisory
// lock on <path>.lock, so processes sharing the file never drop each other's
// records.
type JSONStore struct {
	path string
	lock *flock.Flock

	// flock state is per handle; mu serializes goroutines of this process
	mu sync.Mutex
}

// NewJSONStore creates a new JSON file-backed store at the given path.
// An unreadable or corrupt file is treated as an empty history.
func NewJSONStore(path string) (Store, error) {
	if _, err := os.Stat(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	return &JSONStore{path: path, lock: flock.New(path + ".lock")}, nil
}

// load reads the JSON file. A missing or corrupt file yields no records.
func (s *JSONStore) load() []Record {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}
	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil
	}
	return limitRecords(recs, MaxRecords)
}

// save writes recs to the JSON file.
func (s *JSONStore) save(recs []Record) error {
	if recs == nil {
		recs = []Record{}
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	// Write to temp file first, then rename (atomic on POSIX)
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// withLock runs fn holding the in-process mutex and the file lock.
func (s *JSONStore) withLock(shared bool, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockFn := s.lock.Lock
	if shared {
		lockFn = s.lock.RLock
	}
	if err := lockFn(); err != nil {
		return fmt.Errorf("lock history file: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	return fn()
}

// Append inserts rec at the head and truncates to MaxRecords.
func (s *JSONStore) Append(rec Record) error {
	return s.withLock(false, func() error {
		current := s.load()
		recs := make([]Record, 0, len(current)+1)
		recs = append(recs, rec)
		recs = append(recs, current...)
		return s.save(limitRecords(recs, MaxRecords))
	})
}

// List returns records newest first.
func (s *JSONStore) List(limit int) ([]Record, error) {
	var recs []Record
	err := s.withLock(true, func() error {
		recs = limitRecords(s.load(), limit)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// Clear removes every record and deletes the backing file.
func (s *JSONStore) Clear() error {
	return s.withLock(false, func() error {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove file: %w", err)
		}
		return nil
	})
}

// Close releases the lock file handle.
func (s *JSONStore) Close() error {
	return s.lock.Close()
}
