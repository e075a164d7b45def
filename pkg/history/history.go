// Package history persists per-(entity, action) sample histories used by the
// distribution estimator, guarding concurrent writers with an advisory file lock and
// replacing the backing file atomically on every append.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// ErrInvalidDuration is returned by Append when d falls outside the (0, 3600) second
// range a completion duration is allowed to take.
var ErrInvalidDuration = errors.New("history: duration must be in (0, 3600) seconds")

const (
	minDuration = 0
	maxDuration = 3600
)

// shardRecord is the on-disk shape of a single (entity, action) shard: a JSON file
// mapping each shard key to its observed completion-time history.
type shardRecord struct {
	CtHistory []float64 `json:"ct_history"`
}

// Store is a sharded sample history backed by a single JSON file, mutated only via
// snapshot-and-replace so a reader (C1/C2) never observes a half-written file.
type Store struct {
	mu     sync.RWMutex
	path   string
	lock   *flock.Flock
	shards map[string][]float64
}

// Open loads path if it exists, or starts an empty store if it does not.
func Open(path string) (*Store, error) {
	store := &Store{
		path:   path,
		lock:   flock.New(path + ".lock"),
		shards: make(map[string][]float64),
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return store, nil
	}

	if err != nil {
		return nil, fmt.Errorf("history: read %s: %w", path, err)
	}

	var records map[string]shardRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("history: decode %s: %w", path, err)
	}

	for key, record := range records {
		store.shards[key] = record.CtHistory
	}

	return store, nil
}

// shardKey builds the "<entity>,<action_key>" composite key used both as the map key
// and the persisted JSON field name.
func shardKey(entity, actionKey string) string {
	return entity + "," + actionKey
}

// Append validates d against the duration invariant, appends it to the (entity,
// actionKey) shard, and snapshot-and-replaces the backing file.
func (s *Store) Append(entity, actionKey string, d float64) error {
	if d <= minDuration || d >= maxDuration {
		return fmt.Errorf("%w: got %v", ErrInvalidDuration, d)
	}

	s.mu.Lock()
	key := shardKey(entity, actionKey)
	s.shards[key] = append(s.shards[key], d)
	records := s.snapshotLocked()
	s.mu.Unlock()

	return s.persist(records)
}

// Snapshot returns a copy of the (entity, actionKey) shard for a reader that must not
// observe concurrent appends mid-fit.
func (s *Store) Snapshot(entity, actionKey string) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shard := s.shards[shardKey(entity, actionKey)]
	out := make([]float64, len(shard))
	copy(out, shard)

	return out
}

// snapshotLocked builds the full on-disk record set. Callers must hold s.mu.
func (s *Store) snapshotLocked() map[string]shardRecord {
	records := make(map[string]shardRecord, len(s.shards))

	for key, samples := range s.shards {
		copied := make([]float64, len(samples))
		copy(copied, samples)
		records[key] = shardRecord{CtHistory: copied}
	}

	return records
}

// persist writes records to a temp file in the same directory and renames it over the
// store's path, guarded by an advisory file lock so a concurrent writer (another
// process, or an inspection CLI) never observes a torn write.
func (s *Store) persist(records map[string]shardRecord) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("history: acquire lock: %w", err)
	}
	defer s.lock.Unlock()

	body, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}

	dir := filepath.Dir(s.path)

	tmp, err := os.CreateTemp(dir, ".history-*.tmp")
	if err != nil {
		return fmt.Errorf("history: create temp file: %w", err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("history: write temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("history: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("history: replace %s: %w", s.path, err)
	}

	return nil
}
