package output

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"periph.io/x/conn/v3/i2c"

	"github.com/Ipswich/sproot-sub000/internal/hardware/pca9685"
)

// Board is one PWM board on the local bus.
type Board interface {
	SetDuty(ch int, fraction float64) error
	Halt() error
}

// BoardOpener opens the board at an I2C address such as "0x40".
type BoardOpener func(address string) (Board, error)

// I2CBoardOpener opens PCA9685 boards on bus at frequency Hz.
func I2CBoardOpener(bus i2c.Bus, frequency int) BoardOpener {
	return func(address string) (Board, error) {
		addr, err := pca9685.ParseAddress(address)
		if err != nil {
			return nil, err
		}
		return pca9685.NewI2C(bus, addr, frequency)
	}
}

// PCA9685Family drives PCA9685 boards on the local I2C bus. Boards are
// opened on first use and released with their last output.
type PCA9685Family struct {
	familyBase
	open BoardOpener

	mu     sync.Mutex
	boards map[string]Board
	pins   map[int64]string // output ID -> address
}

var _ FamilyManager = (*PCA9685Family)(nil)

// NewPCA9685Family creates the family.
func NewPCA9685Family(open BoardOpener, settings Settings, deps Deps) *PCA9685Family {
	return &PCA9685Family{
		familyBase: newFamilyBase(settings, deps),
		open:       open,
		boards:     make(map[string]Board),
		pins:       make(map[int64]string),
	}
}

// Model returns ModelPCA9685.
func (f *PCA9685Family) Model() Model { return ModelPCA9685 }

// CreateOutput binds cfg.Pin (channel 0-15) of the board at cfg.Address.
// The pin is claimed before the board is opened, so a concurrent dispose
// of the board's last other channel cannot close it underneath.
func (f *PCA9685Family) CreateOutput(ctx context.Context, cfg Config) (*Output, error) {
	ch, err := strconv.Atoi(cfg.Pin)
	if err != nil || ch < 0 || ch >= pca9685.Channels {
		return nil, fmt.Errorf("%w: pin %q", pca9685.ErrInvalidChannel, cfg.Pin)
	}
	if err := f.resources.Claim(cfg.Address, cfg.Pin, cfg.ID); err != nil {
		return nil, err
	}

	board, err := f.board(cfg.Address)
	if err != nil {
		f.release(cfg.Address, cfg.Pin)
		return nil, err
	}

	driver := DriverFunc(func(ctx context.Context, cmd Command) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return board.SetDuty(ch, cmd.Fraction)
	})

	o, err := f.initialize(ctx, cfg, driver)
	if err != nil {
		f.release(cfg.Address, cfg.Pin)
		return nil, err
	}

	f.mu.Lock()
	f.pins[cfg.ID] = cfg.Address
	f.mu.Unlock()

	f.deps.Logger.Info("created pca9685 output", "output_id", cfg.ID, "address", cfg.Address, "channel", ch)
	return o, nil
}

// DisposeOutput drives the channel off and frees it. The board is released
// with its last channel.
func (f *PCA9685Family) DisposeOutput(ctx context.Context, o *Output) error {
	cfg := o.Config()
	err := o.Dispose(ctx)

	f.mu.Lock()
	address, ok := f.pins[cfg.ID]
	delete(f.pins, cfg.ID)
	f.mu.Unlock()
	if !ok {
		address = cfg.Address
	}

	f.release(address, cfg.Pin)
	return err
}

// AvailableResources lists the unused channels of the board at address.
func (f *PCA9685Family) AvailableResources(address string, _ bool) []Resource {
	out := make([]Resource, 0, pca9685.Channels)
	for ch := range pca9685.Channels {
		pin := strconv.Itoa(ch)
		if f.resources.InUse(address, pin) {
			continue
		}
		out = append(out, Resource{Value: pin, Label: pin})
	}
	return out
}

// Close switches every open board off.
func (f *PCA9685Family) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for addr, b := range f.boards {
		if err := b.Halt(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("halting board %s: %w", addr, err)
		}
		delete(f.boards, addr)
	}
	return firstErr
}

// OpenBoards returns the number of open boards.
func (f *PCA9685Family) OpenBoards() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.boards)
}

func (f *PCA9685Family) board(address string) (Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := f.boards[address]; ok {
		return b, nil
	}
	b, err := f.open(address)
	if err != nil {
		return nil, fmt.Errorf("opening pca9685 at %s: %w", address, err)
	}
	f.boards[address] = b
	return b, nil
}

// release frees address/pin and halts the board with its last channel.
// Both happen under f.mu so that board cannot hand out a board that is
// being halted.
func (f *PCA9685Family) release(address, pin string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.resources.Release(address, pin) {
		return
	}
	b, ok := f.boards[address]
	if !ok {
		return
	}
	delete(f.boards, address)
	if err := b.Halt(); err != nil {
		f.deps.Logger.Warn("halting released board", "address", address, "error", err)
	}
}
