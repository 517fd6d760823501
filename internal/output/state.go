package output

import "time"

// StateStore holds the manual and automatic sub-states of an output and the
// mode selecting the active one.
//
// StateStore is not safe for concurrent use; Output serialises access.
type StateStore struct {
	manual    State
	automatic State
	mode      ControlMode
}

// NewStateStore returns a store with both values 0 in automatic mode.
func NewStateStore(now time.Time) *StateStore {
	return &StateStore{
		manual:    State{Value: 0, ControlMode: ControlModeManual, LogTime: now},
		automatic: State{Value: 0, ControlMode: ControlModeAutomatic, LogTime: now},
		mode:      ControlModeAutomatic,
	}
}

// Set overwrites the sub-state selected by mode. The value is clamped to 0-100.
func (s *StateStore) Set(st State, mode ControlMode) {
	st.Value = clampValue(st.Value)
	st.ControlMode = mode
	switch mode {
	case ControlModeManual:
		s.manual = st
	case ControlModeAutomatic:
		s.automatic = st
	}
}

// SetMode switches the active sub-state.
func (s *StateStore) SetMode(mode ControlMode) {
	if mode.Valid() {
		s.mode = mode
	}
}

// Mode returns the active control mode.
func (s *StateStore) Mode() ControlMode { return s.mode }

// Manual returns the manual sub-state.
func (s *StateStore) Manual() State { return s.manual }

// Automatic returns the automatic sub-state.
func (s *StateStore) Automatic() State { return s.automatic }

// Active returns the sub-state selected by the current mode.
func (s *StateStore) Active() State {
	if s.mode == ControlModeManual {
		return s.manual
	}
	return s.automatic
}

// Value returns the active value.
func (s *StateStore) Value() int { return s.Active().Value }

// roundBinary rounds the value of both sub-states to 0 or 100 at 50.
func (s *StateStore) roundBinary() {
	s.manual.Value = roundBinary(s.manual.Value)
	s.automatic.Value = roundBinary(s.automatic.Value)
}

func roundBinary(v int) int {
	if v >= 50 {
		return 100
	}
	return 0
}
