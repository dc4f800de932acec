package usbpower

import (
	"errors"
	"fmt"
)

var (
	// ErrPowerControl is wrapped by every failure to switch port power.
	ErrPowerControl = errors.New("usbpower: power control failed")
	// ErrToolNotAvailable is returned when the helper binary is not in PATH.
	ErrToolNotAvailable = errors.New("usbpower: tool not available")
	// ErrUSBInfoNotAvailable is returned when bus/device numbers cannot be
	// resolved for a port.
	ErrUSBInfoNotAvailable = errors.New("usbpower: USB bus/device info not available")
)

// PowerControlError describes one failed helper invocation.
type PowerControlError struct {
	Action   string
	ExitCode int // -1 if the process did not exit normally
	Output   string
	Err      error
}

func (e *PowerControlError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s: exit %d: %v (output: %s)", e.Action, e.ExitCode, e.Err, e.Output)
	}
	return fmt.Sprintf("%s: exit %d: %v", e.Action, e.ExitCode, e.Err)
}

// Unwrap exposes both ErrPowerControl and the underlying cause.
func (e *PowerControlError) Unwrap() []error {
	return []error{ErrPowerControl, e.Err}
}
