package output

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/Ipswich/sproot-sub000/internal/infrastructure/boltstore"
)

func TestSnapshotStore_Bolt(t *testing.T) {
	kv, err := boltstore.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kv.Close() }) //nolint:errcheck // Test cleanup

	s := NewSnapshotStore(kv, boltstore.ErrNotFound)

	if _, err := s.Load(7); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("Load(missing) error = %v, want ErrSnapshotNotFound", err)
	}

	want := Snapshot{
		Manual:      State{Value: 25, ControlMode: ControlModeManual, LogTime: base},
		Automatic:   State{Value: 75, ControlMode: ControlModeAutomatic, LogTime: base},
		ControlMode: ControlModeManual,
		SavedAt:     base,
	}
	if err := s.Save(7, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Load(7)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Manual.Value != 25 || got.Automatic.Value != 75 || got.ControlMode != ControlModeManual {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
	if got.Active().Value != 25 {
		t.Errorf("Active().Value = %d, want 25", got.Active().Value)
	}
	if !got.SavedAt.Equal(base) {
		t.Errorf("SavedAt = %v, want %v", got.SavedAt, base)
	}

	if err := s.Delete(7); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Load(7); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("Load() after Delete error = %v, want ErrSnapshotNotFound", err)
	}
}
