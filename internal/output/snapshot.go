package output

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// snapshotBucket holds one snapshot per output, keyed by output ID.
const snapshotBucket = "output_snapshots"

// KV is a JSON key/value store such as boltstore.Store.
type KV interface {
	Put(bucket, key string, v any) error
	Get(bucket, key string, v any) error
	Delete(bucket, key string) error
}

// Snapshot is the last logical state of an output. It is written on every
// state or mode change, more often than the minute-granular history.
type Snapshot struct {
	Manual      State       `json:"manual"`
	Automatic   State       `json:"automatic"`
	ControlMode ControlMode `json:"controlMode"`
	SavedAt     time.Time   `json:"savedAt"`
}

// Active returns the sub-state selected by ControlMode.
func (s Snapshot) Active() State {
	if s.ControlMode == ControlModeManual {
		return s.Manual
	}
	return s.Automatic
}

// SnapshotStore persists last-state snapshots in a KV store.
type SnapshotStore struct {
	kv       KV
	notFound error
}

// NewSnapshotStore wraps kv. notFound is the error kv returns for a
// missing key, such as boltstore.ErrNotFound.
func NewSnapshotStore(kv KV, notFound error) *SnapshotStore {
	return &SnapshotStore{kv: kv, notFound: notFound}
}

// Save stores the snapshot of outputID.
func (s *SnapshotStore) Save(outputID int64, snap Snapshot) error {
	if err := s.kv.Put(snapshotBucket, snapshotKey(outputID), snap); err != nil {
		return fmt.Errorf("saving snapshot %d: %w", outputID, err)
	}
	return nil
}

// Load returns the snapshot of outputID or ErrSnapshotNotFound.
func (s *SnapshotStore) Load(outputID int64) (Snapshot, error) {
	var snap Snapshot
	if err := s.kv.Get(snapshotBucket, snapshotKey(outputID), &snap); err != nil {
		if s.notFound != nil && errors.Is(err, s.notFound) {
			return Snapshot{}, ErrSnapshotNotFound
		}
		return Snapshot{}, fmt.Errorf("loading snapshot %d: %w", outputID, err)
	}
	return snap, nil
}

// Delete removes the snapshot of outputID.
func (s *SnapshotStore) Delete(outputID int64) error {
	if err := s.kv.Delete(snapshotBucket, snapshotKey(outputID)); err != nil {
		return fmt.Errorf("deleting snapshot %d: %w", outputID, err)
	}
	return nil
}

func snapshotKey(outputID int64) string {
	return strconv.FormatInt(outputID, 10)
}
