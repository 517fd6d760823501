package pca9685

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Register map.
const (
	regMode1    = 0x00
	regMode2    = 0x01
	regLED0OnL  = 0x06
	regAllOnL   = 0xFA
	regPrescale = 0xFE

	mode1Restart = 0x80
	mode1AI      = 0x20
	mode1Sleep   = 0x10
	mode2OutDrv  = 0x04

	// fullBit in LEDn_ON_H / LEDn_OFF_H forces a channel fully on / off.
	fullBit = 0x10
)

const (
	// Channels is the number of PWM outputs.
	Channels = 16

	// DefaultAddress is the factory I2C address.
	DefaultAddress = 0x40

	oscillatorHz = 25_000_000
	steps        = 4096

	MinFrequency = 24
	MaxFrequency = 1526
)

var (
	// ErrInvalidChannel is returned for channels outside 0-15.
	ErrInvalidChannel = errors.New("pca9685: invalid channel")

	// ErrInvalidFrequency is returned for frequencies outside 24-1526 Hz.
	ErrInvalidFrequency = errors.New("pca9685: invalid frequency")

	// ErrInvalidAddress is returned for unparsable I2C addresses.
	ErrInvalidAddress = errors.New("pca9685: invalid address")
)

// Device is one PCA9685 board. Safe for concurrent use.
type Device struct {
	mu        sync.Mutex
	c         conn.Conn
	frequency int
}

// OpenBus initialises the host drivers and opens an I2C bus by name.
// An empty name opens the first available bus.
func OpenBus(name string) (i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initialising host drivers: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening i2c bus %q: %w", name, err)
	}
	return bus, nil
}

// ParseAddress parses an I2C address such as "0x40" or "64".
func ParseAddress(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 7)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return uint16(v), nil
}

// NewI2C opens the board at addr on bus and configures it for frequency Hz.
func NewI2C(bus i2c.Bus, addr uint16, frequency int) (*Device, error) {
	return New(&i2c.Dev{Bus: bus, Addr: addr}, frequency)
}

// New configures the board behind c: totem-pole outputs, register
// auto-increment, all channels off and the PWM frequency applied.
func New(c conn.Conn, frequency int) (*Device, error) {
	d := &Device{c: c}
	if err := d.writeReg(regMode2, mode2OutDrv); err != nil {
		return nil, fmt.Errorf("configuring mode2: %w", err)
	}
	if err := d.writeReg(regMode1, mode1AI); err != nil {
		return nil, fmt.Errorf("configuring mode1: %w", err)
	}
	if err := d.allOff(); err != nil {
		return nil, err
	}
	if err := d.SetFrequency(frequency); err != nil {
		return nil, err
	}
	return d, nil
}

// Prescale returns the PRE_SCALE value for frequency Hz.
func Prescale(frequency int) byte {
	return byte(math.Round(float64(oscillatorHz)/(steps*float64(frequency))) - 1)
}

// SetFrequency changes the PWM frequency. The oscillator must sleep while
// the prescaler is written.
func (d *Device) SetFrequency(frequency int) error {
	if frequency < MinFrequency || frequency > MaxFrequency {
		return fmt.Errorf("%w: %d Hz", ErrInvalidFrequency, frequency)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	steps := [][2]byte{
		{regMode1, mode1AI | mode1Sleep},
		{regPrescale, Prescale(frequency)},
		{regMode1, mode1AI},
		{regMode1, mode1AI | mode1Restart},
	}
	for _, s := range steps {
		if err := d.c.Tx([]byte{s[0], s[1]}, nil); err != nil {
			return fmt.Errorf("setting frequency: %w", err)
		}
	}
	d.frequency = frequency
	return nil
}

// Frequency returns the configured PWM frequency.
func (d *Device) Frequency() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frequency
}

// SetDuty sets channel ch to fraction (0-1) of the period. 0 and 1 use the
// full-off and full-on bits so the output carries no residual pulse.
func (d *Device) SetDuty(ch int, fraction float64) error {
	if ch < 0 || ch >= Channels {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	fraction = math.Max(0, math.Min(1, fraction))

	var on, off uint16
	switch {
	case fraction == 0:
		off = fullBit << 8
	case fraction == 1:
		on = fullBit << 8
	default:
		off = uint16(math.Round(fraction * (steps - 1)))
	}

	reg := byte(regLED0OnL + 4*ch) //nolint:gosec // ch validated 0-15
	buf := []byte{reg, byte(on), byte(on >> 8), byte(off), byte(off >> 8)}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.c.Tx(buf, nil); err != nil {
		return fmt.Errorf("writing channel %d: %w", ch, err)
	}
	return nil
}

// Halt switches every channel fully off.
func (d *Device) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allOff()
}

func (d *Device) allOff() error {
	if err := d.c.Tx([]byte{regAllOnL, 0, 0, 0, fullBit}, nil); err != nil {
		return fmt.Errorf("switching all channels off: %w", err)
	}
	return nil
}

func (d *Device) writeReg(reg, value byte) error {
	return d.c.Tx([]byte{reg, value}, nil)
}
