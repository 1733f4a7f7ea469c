// Package moterr provides the unified error types for the motion pipeline.
package moterr

import (
	"fmt"
)

// Code is the category of a motion error.
type Code string

const (
	// Queueing errors
	CodeQueueFull       Code = "QUEUE_FULL"
	CodeZeroMove        Code = "ZERO_MOVE"
	CodeFeedrateClamped Code = "FEEDRATE_CLAMPED"

	// Motion errors surfaced to the command loop
	CodeEndstopHit     Code = "ENDSTOP_HIT"
	CodeOutOfBounds    Code = "MOVE_OUT_OF_BOUNDS"
	CodeProbeNoTrigger Code = "PROBE_NO_TRIGGER"
	CodeReversal       Code = "PROFILE_REVERSAL"

	// Setup errors
	CodeKinematics Code = "KINEMATICS"
	CodeConfig     Code = "CONFIG"
)

// Error is the unified error type for the motion system.
type Error struct {
	Code    Code
	Message string
	Axis    int // -1 when not axis-specific
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Axis >= 0 {
		return fmt.Sprintf("[%s] axis %d: %s", e.Code, e.Axis, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error without axis context.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Axis: -1}
}

// NewAxis creates a new Error tied to an axis.
func NewAxis(code Code, ax int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Axis: ax}
}

// Wrap wraps err with a code and message.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Axis: -1, Err: err}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	if e, ok := err.(*Error); ok {
		return e.Code == code
	}
	return false
}

// QueueFull creates the error returned when a bounded queue has no slot.
func QueueFull(queue string) *Error {
	return New(CodeQueueFull, "%s queue full", queue)
}

// OutOfBounds creates the error for a destination outside the axis limits.
func OutOfBounds(ax int, target, min, max float64) *Error {
	return NewAxis(CodeOutOfBounds, ax, "target %.3f outside [%.3f, %.3f]", target, min, max)
}

// ProbeNoTrigger creates the error for a probing move that completed without
// an endstop hit.
func ProbeNoTrigger() *Error {
	return New(CodeProbeNoTrigger, "probe move finished without trigger")
}
