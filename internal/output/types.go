package output

import (
	"fmt"
	"time"
)

// Model identifies the device family of an output.
type Model string

const (
	ModelPCA9685       Model = "pca9685"
	ModelSmartPlug     Model = "tplink-smart-plug"
	ModelSubcontroller Model = "esp32-pca9685"
	ModelGroup         Model = "output-group"
)

// ControlMode selects which sub-state of an output is active.
type ControlMode string

const (
	ControlModeManual    ControlMode = "manual"
	ControlModeAutomatic ControlMode = "automatic"
)

// Valid reports whether m is a known control mode.
func (m ControlMode) Valid() bool {
	return m == ControlModeManual || m == ControlModeAutomatic
}

// ParseControlMode parses a control mode name.
func ParseControlMode(s string) (ControlMode, error) {
	m := ControlMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidControlMode, s)
	}
	return m, nil
}

// Config is the stored configuration of an output.
type Config struct {
	ID      int64  `json:"id"`
	Model   Model  `json:"model"`
	Address string `json:"address"`
	Pin     string `json:"pin"`
	Name    string `json:"name"`
	Color   string `json:"color"`

	IsPwm         bool `json:"isPwm"`
	IsInvertedPwm bool `json:"isInvertedPwm"`

	// AutomationTimeout is the minimum time (seconds) between automation
	// evaluations of this output.
	AutomationTimeout int `json:"automationTimeout"`

	ParentGroupID   *int64 `json:"parentOutputId,omitempty"`
	SubcontrollerID *int64 `json:"subcontrollerId,omitempty"`
}

// Normalize forces IsInvertedPwm off for non-PWM outputs.
func (c Config) Normalize() Config {
	if !c.IsPwm {
		c.IsInvertedPwm = false
	}
	return c
}

// Timeout returns AutomationTimeout as a duration.
func (c Config) Timeout() time.Duration {
	if c.AutomationTimeout <= 0 {
		return 0
	}
	return time.Duration(c.AutomationTimeout) * time.Second
}

// Subcontroller is a remote PWM controller reached over the network.
type Subcontroller struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	HostName string `json:"hostName"`
}

// State is one output state. Value is 0-100.
type State struct {
	Value       int         `json:"value"`
	ControlMode ControlMode `json:"controlMode"`
	LogTime     time.Time   `json:"logTime"`
}

// Resource is a pin or device an output can be bound to.
type Resource struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Settings sizes the per-output history cache and chart.
type Settings struct {
	MaxCacheSize  int
	CacheLookback time.Duration
	ChartLimit    int
	ChartInterval time.Duration
}

// DefaultSettings matches the default controller configuration.
func DefaultSettings() Settings {
	return Settings{
		MaxCacheSize:  1440,
		CacheLookback: 24 * time.Hour,
		ChartLimit:    288,
		ChartInterval: 5 * time.Minute,
	}
}

// Info is a read-only view of an output for consumers.
type Info struct {
	Config
	Value       int         `json:"value"`
	ControlMode ControlMode `json:"controlMode"`
	Manual      State       `json:"manualState"`
	Automatic   State       `json:"automaticState"`
	Members     []int64     `json:"members,omitempty"`
}

func clampValue(v int) int {
	return max(0, min(100, v))
}
