package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// historyBucket holds records keyed by a big-endian sequence number, so
// cursor order is insertion order.
const historyBucket = "history"

// openTimeout bounds the wait for another process's file lock.
const openTimeout = 5 * time.Second

// BoltStore implements the Store interface using BoltDB.
//
// bbolt holds an exclusive lock on the file while it is open, so the database
// is opened for each operation and closed straight after. A daemon and CLI
// invocations sharing one config directory then take turns instead of
// failing at startup.
type BoltStore struct {
	path string

	// serializes opens within this process
	mu sync.Mutex
}

// NewBoltStore creates a new BoltDB-backed store at the given path.
func NewBoltStore(path string) (Store, error) {
	s := &BoltStore{path: path}
	err := s.update(func(*bolt.Bucket) error { return nil })
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) open() (*bolt.DB, error) {
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb at %s: %w", s.path, err)
	}
	return db, nil
}

// update runs fn in a write transaction against the history bucket,
// creating the bucket when missing.
func (s *BoltStore) update(fn func(b *bolt.Bucket) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(historyBucket))
		if err != nil {
			return fmt.Errorf("create history bucket: %w", err)
		}
		return fn(b)
	})
}

// Append persists a record at the head and trims the oldest beyond MaxRecords.
func (s *BoltStore) Append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	return s.update(func(b *bolt.Bucket) error {
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return fmt.Errorf("put record: %w", err)
		}

		// Keep the newest MaxRecords keys; collect the rest, then delete,
		// since deleting while iterating skips keys.
		var stale [][]byte
		c := b.Cursor()
		kept := 0
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			if kept < MaxRecords {
				kept++
				continue
			}
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("evict record: %w", err)
			}
		}
		return nil
	})
}

// List returns records newest first.
func (s *BoltStore) List(limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var recs []Record
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(historyBucket))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(recs) >= limit {
				break
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// Clear deletes every record.
func (s *BoltStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(historyBucket)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("delete history bucket: %w", err)
		}
		if _, err := tx.CreateBucket([]byte(historyBucket)); err != nil {
			return fmt.Errorf("create history bucket: %w", err)
		}
		return nil
	})
}

// Close is a no-op; the database is only open during an operation.
func (s *BoltStore) Close() error {
	return nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
