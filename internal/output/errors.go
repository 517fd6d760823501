package output

import "errors"

// Domain errors for the output package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, output.ErrPinInUse) {
//	    // pick another pin
//	}
var (
	// ErrOutputNotFound is returned when an output ID is not registered.
	ErrOutputNotFound = errors.New("output: not found")

	// ErrPinInUse is returned when a pin is already claimed by another output.
	ErrPinInUse = errors.New("output: pin already in use")

	// ErrDeviceUnresolved is returned when a network device is not online
	// or a subcontroller cannot be resolved.
	ErrDeviceUnresolved = errors.New("output: device unresolved")

	// ErrInvalidValue is returned for values outside 0-100, or other than
	// 0 and 100 on non-PWM outputs.
	ErrInvalidValue = errors.New("output: invalid value")

	// ErrInvalidControlMode is returned for unknown control modes.
	ErrInvalidControlMode = errors.New("output: invalid control mode")

	// ErrTransmitFailed is returned when hardware transmission fails.
	ErrTransmitFailed = errors.New("output: transmit failed")

	// ErrUnsupportedModel is returned when no family handles a model.
	ErrUnsupportedModel = errors.New("output: unsupported model")

	// ErrSnapshotNotFound is returned when no last-state snapshot exists.
	ErrSnapshotNotFound = errors.New("output: snapshot not found")
)
