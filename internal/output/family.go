package output

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// FamilyManager creates and disposes the outputs of one device family and
// owns the family's resource table.
type FamilyManager interface {
	// Model returns the output model the family builds.
	Model() Model

	// CreateOutput claims the output's pin, binds a driver and initialises
	// the output.
	CreateOutput(ctx context.Context, cfg Config) (*Output, error)

	// DisposeOutput drives the output to 0 and releases its pin.
	DisposeOutput(ctx context.Context, o *Output) error

	// AvailableResources lists devices, or pins of the device at address.
	AvailableResources(address string, filterUsed bool) []Resource

	// Close releases every device held by the family.
	Close() error
}

// LostOutputsNotifier is implemented by families whose outputs can vanish
// when a network device goes offline.
type LostOutputsNotifier interface {
	OnOutputsLost(fn func(ids []int64))
}

// TransmitPolicy bounds network transmissions.
type TransmitPolicy struct {
	// Attempts is the number of sequential attempts.
	Attempts int

	// Timeout bounds each attempt.
	Timeout time.Duration
}

// DefaultTransmitPolicy makes 3 attempts of at most 2 seconds each.
func DefaultTransmitPolicy() TransmitPolicy {
	return TransmitPolicy{Attempts: 3, Timeout: 2 * time.Second}
}

// transmit runs send up to p.Attempts times until it succeeds.
func (p TransmitPolicy) transmit(ctx context.Context, send func(ctx context.Context) error) error {
	attempts := max(1, p.Attempts)
	var errs []error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		actx, cancel := ctx, context.CancelFunc(func() {})
		if p.Timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		err := send(actx)
		cancel()
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("attempt %d: %w", i+1, err))
	}
	return fmt.Errorf("%w: %w", ErrTransmitFailed, errors.Join(errs...))
}

// familyBase is shared by the family implementations.
type familyBase struct {
	settings  Settings
	deps      Deps
	resources *ResourceTable
}

func newFamilyBase(settings Settings, deps Deps) familyBase {
	return familyBase{
		settings:  settings,
		deps:      deps.withDefaults(),
		resources: NewResourceTable(),
	}
}

// build creates and initialises an output holding address/pin. The pin is
// released again when initialisation fails.
func (b *familyBase) build(ctx context.Context, cfg Config, address string, driver Driver) (*Output, error) {
	if err := b.resources.Claim(address, cfg.Pin, cfg.ID); err != nil {
		return nil, err
	}
	o, err := b.initialize(ctx, cfg, driver)
	if err != nil {
		b.resources.Release(address, cfg.Pin)
		return nil, err
	}
	return o, nil
}

// initialize creates an output on driver and loads its state. The caller
// owns the pin claim.
func (b *familyBase) initialize(ctx context.Context, cfg Config, driver Driver) (*Output, error) {
	o := New(cfg, driver, b.settings, b.deps)
	if err := o.Initialize(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// Resources returns the family's resource table.
func (b *familyBase) Resources() *ResourceTable { return b.resources }
