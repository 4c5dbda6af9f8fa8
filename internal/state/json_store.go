package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"git.home.luguber.info/inful/streamrec/internal/foundation/errors"
)

const (
	snapshotVersion = 1
	stateFileName   = "recorder-state.json"
)

// Store is the contract the supervisor, reconciler and control loop share.
type Store interface {
	Snapshot() Snapshot
	Session() (*Session, bool)
	Scheduler() SchedulerState
	Change() int64
	// Update applies fn to a copy of the snapshot and persists it. The in-memory
	// state only changes when the write succeeds.
	Update(fn func(*Snapshot)) error
}

// JSONStore implements Store using a single JSON file.
type JSONStore struct {
	dataDir string
	mu      sync.RWMutex
	current Snapshot
	now     func() time.Time
}

// NewJSONStore creates the data directory if needed and loads any existing snapshot.
func NewJSONStore(dataDir string) (*JSONStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to create data directory").
			WithContext("data_dir", dataDir).
			Fatal().
			Build()
	}

	store := &JSONStore{
		dataDir: dataDir,
		current: Snapshot{Version: snapshotVersion},
		now:     time.Now,
	}
	if err := store.loadFromDisk(); err != nil {
		return nil, err
	}
	return store, nil
}

// Path returns the location of the snapshot file.
func (js *JSONStore) Path() string {
	return filepath.Join(js.dataDir, stateFileName)
}

// Snapshot returns a copy of the current state.
func (js *JSONStore) Snapshot() Snapshot {
	js.mu.RLock()
	defer js.mu.RUnlock()
	return js.current.clone()
}

// Session returns a copy of the active session, if any.
func (js *JSONStore) Session() (*Session, bool) {
	js.mu.RLock()
	defer js.mu.RUnlock()
	if js.current.Session == nil {
		return nil, false
	}
	return js.current.Session.Clone(), true
}

// Scheduler returns a copy of the scheduler ownership record.
func (js *JSONStore) Scheduler() SchedulerState {
	js.mu.RLock()
	defer js.mu.RUnlock()
	return js.current.Scheduler.Clone()
}

// Change returns the current change stamp.
func (js *JSONStore) Change() int64 {
	js.mu.RLock()
	defer js.mu.RUnlock()
	return js.current.Change
}

// Update applies fn to a copy of the snapshot, writes it, then publishes it.
func (js *JSONStore) Update(fn func(*Snapshot)) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	next := js.current.clone()
	fn(&next)
	next.Version = snapshotVersion
	next.UpdatedAt = js.now()

	if err := js.saveToDiskUnsafe(next); err != nil {
		return err
	}
	js.current = next
	return nil
}

// NextChange returns a stamp strictly greater than prev, based on now.
func NextChange(prev int64, now time.Time) int64 {
	stamp := now.UnixNano()
	if stamp <= prev {
		stamp = prev + 1
	}
	return stamp
}

// loadFromDisk loads the snapshot if present.
func (js *JSONStore) loadFromDisk() error {
	data, err := os.ReadFile(js.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to read state file").
			WithContext("path", js.Path()).
			Build()
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to parse state file").
			WithContext("path", js.Path()).
			Build()
	}
	if snap.Version > snapshotVersion {
		return errors.NewError(errors.CategoryFileSystem, fmt.Sprintf("unsupported state version %d", snap.Version)).
			WithContext("path", js.Path()).
			Build()
	}
	js.current = snap
	return nil
}

// saveToDiskUnsafe writes snap via temp file and rename. Caller holds the lock.
func (js *JSONStore) saveToDiskUnsafe(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.StateWriteError("failed to encode state").WithCause(err).Build()
	}

	tmp, err := os.CreateTemp(js.dataDir, stateFileName+".*.tmp")
	if err != nil {
		return errors.StateWriteError("failed to create temp state file").WithCause(err).
			WithContext("data_dir", js.dataDir).
			Build()
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.StateWriteError("failed to write temp state file").WithCause(err).Build()
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.StateWriteError("failed to sync temp state file").WithCause(err).Build()
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.StateWriteError("failed to close temp state file").WithCause(err).Build()
	}
	if err := os.Rename(tmpPath, js.Path()); err != nil {
		cleanup()
		return errors.StateWriteError("failed to replace state file").WithCause(err).
			WithContext("path", js.Path()).
			Build()
	}
	return nil
}
