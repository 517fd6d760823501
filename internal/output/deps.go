package output

import (
	"context"
	"time"

	"github.com/Ipswich/sproot-sub000/internal/automation"
)

// Logger defines the logging interface used by the output package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Repository persists output configuration and state history.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// LoadOutputs returns every configured output ordered by ID.
	LoadOutputs(ctx context.Context) ([]Config, error)

	// LoadSubcontrollers returns every configured subcontroller.
	LoadSubcontrollers(ctx context.Context) ([]Subcontroller, error)

	// AppendState records one state of an output.
	AppendState(ctx context.Context, outputID int64, st State) error

	// LoadHistoricalStates returns up to limit states logged at or after
	// since, oldest first.
	LoadHistoricalStates(ctx context.Context, outputID int64, since time.Time, limit int) ([]State, error)

	// LastState returns the newest recorded state. ok is false when the
	// output has no history.
	LastState(ctx context.Context, outputID int64) (st State, ok bool, err error)
}

// Telemetry receives every recorded state.
type Telemetry interface {
	WriteOutputState(outputID int64, name string, value int, controlMode string, at time.Time)
}

// StatePublisher announces the active state of an output.
type StatePublisher interface {
	PublishState(outputID int64, st State) error
}

// Deps are the collaborators shared by every output. Only Repo is required.
type Deps struct {
	Repo        Repository
	Automations automation.Repository
	Snapshots   *SnapshotStore
	Telemetry   Telemetry
	Publisher   StatePublisher
	Logger      Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = noopLogger{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}
