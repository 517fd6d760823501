package output

import (
	"context"
	"fmt"
)

// Command is one transmission to the device behind an output.
type Command struct {
	// State is the active state being applied.
	State State

	// Fraction is the duty cycle (0-1) after inversion.
	Fraction float64

	// Force transmits even when the value has not changed.
	Force bool

	// Tick marks scheduler-driven executions as opposed to state changes.
	Tick bool
}

// Driver transmits commands to hardware. Implementations bound blocking
// work by ctx.
type Driver interface {
	Transmit(ctx context.Context, cmd Command) error
}

// DriverFunc adapts a function to Driver.
type DriverFunc func(ctx context.Context, cmd Command) error

// Transmit calls f.
func (f DriverFunc) Transmit(ctx context.Context, cmd Command) error {
	return f(ctx, cmd)
}

// Fraction converts a 0-100 value into a duty cycle, inverting first when
// inverted is set.
func Fraction(value int, inverted bool) float64 {
	if inverted {
		value = 100 - value
	}
	return float64(value) / 100
}

// ValidateValue checks value against the output's PWM capability.
func ValidateValue(value int, isPwm bool) error {
	if value < 0 || value > 100 {
		return fmt.Errorf("%w: %d is outside 0-100", ErrInvalidValue, value)
	}
	if !isPwm && value != 0 && value != 100 {
		return fmt.Errorf("%w: non-PWM output accepts only 0 or 100, got %d", ErrInvalidValue, value)
	}
	return nil
}
