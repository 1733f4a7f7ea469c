// Package hal defines the hardware interfaces the motion pipeline drives and
// an in-memory simulator used by tests and the CLI.
package hal

import (
	"printmotion/pkg/axis"
)

// StepperDriver emits step edges and direction changes to the motor drivers.
// Implementations must be safe to call from the step interrupt context, so
// they may not block or allocate.
type StepperDriver interface {
	// Step emits one step pulse on the given motor.
	Step(motor int)
	// SetDirection latches the travel direction for the given motor.
	SetDirection(motor int, positive bool)
	// Enable energizes the motors in the mask.
	Enable(motors axis.Mask)
	// Disable de-energizes the motors in the mask.
	Disable(motors axis.Mask)
}

// EndstopReader polls the raw switch state. The interrupt wiring that calls
// back into the motion system is configured by the embedder; this interface
// covers explicit polling only.
type EndstopReader interface {
	// ReadEndstop reports whether the switch on the given axis side is
	// closed. positiveSide selects the max-position switch.
	ReadEndstop(ax int, positiveSide bool) bool
}

// ToolOutput drives the secondary tool output (laser PWM, spindle speed,
// fan) with the intensity computed per micro-slice.
type ToolOutput interface {
	// SetIntensity applies the tool output value.
	SetIntensity(value uint16)
}
