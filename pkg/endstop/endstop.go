// Package endstop handles limit-switch and probe triggers during motion:
// filtering stale signals, snapshotting remaining steps, and aborting the
// current move through the pulser.
package endstop

import (
	"sync"

	"go.uber.org/zap"

	"printmotion/pkg/axis"
	"printmotion/pkg/moterr"
	"printmotion/pkg/pulser"
	"printmotion/pkg/segment"
)

// Mode selects how triggers are interpreted.
type Mode uint8

const (
	// ModeNone is the mode outside homing and probing: a trigger on an
	// endstop-checked move aborts that move and surfaces ENDSTOP_HIT on the
	// caller-visible status.
	ModeNone Mode = iota
	// ModeStopAtAnyHit aborts the move on the first trigger (homing).
	ModeStopAtAnyHit
	// ModeStopPerAxis records each axis and aborts once every axis in the
	// stop mask has triggered (multi-axis homing).
	ModeStopPerAxis
	// ModeProbing behaves like ModeStopAtAnyHit and additionally latches
	// the motor position at the trigger tick.
	ModeProbing
)

func (m Mode) String() string {
	switch m {
	case ModeStopAtAnyHit:
		return "stop_at_any_hit"
	case ModeStopPerAxis:
		return "stop_per_axis"
	case ModeProbing:
		return "probing"
	default:
		return "none"
	}
}

// MotorView is what the controller needs from the segment stage: buffer
// lookup and the published motor position.
type MotorView interface {
	SegmentByID(id uint8) *segment.Segment
	MotorPos() axis.Steps
}

// Controller owns the endstop state shared between the step interrupt and
// the command loop. Trigger runs in interrupt context; the remaining methods
// belong to the command loop.
type Controller struct {
	mu  sync.Mutex
	log *zap.Logger

	pulse  *pulser.Pulser
	motors MotorView

	mode     Mode
	stopMask axis.Mask

	axesTriggered    axis.Mask
	axesDirTriggered axis.Mask

	// Per-motor trigger records for geometries where carriages home
	// individually (delta towers).
	motorTriggered    axis.Mask
	motorDirTriggered axis.Mask

	stepsAtHit   axis.Steps
	hit          bool
	probePos     axis.Steps
	probeLatched bool

	// status surfaces unexpected hits to the command loop.
	status error

	// onUnhome clears the homed flag for an axis.
	onUnhome func(ax int)
}

// New creates a controller bound to the pulser and the segment stage.
func New(pulse *pulser.Pulser, motors MotorView, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		log:    logger,
		pulse:  pulse,
		motors: motors,
	}
}

// SetUnhomeFunc registers the callback clearing an axis homed flag.
func (c *Controller) SetUnhomeFunc(fn func(ax int)) {
	c.onUnhome = fn
}

// SetMode arms the controller for homing or probing. The stop mask is only
// consulted in ModeStopPerAxis.
func (c *Controller) SetMode(mode Mode, stopMask axis.Mask) {
	c.mu.Lock()
	c.mode = mode
	c.stopMask = stopMask
	c.axesTriggered = 0
	c.axesDirTriggered = 0
	c.motorTriggered = 0
	c.hit = false
	c.probeLatched = false
	c.stepsAtHit = axis.Steps{}
	c.mu.Unlock()
}

// Mode returns the active mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Trigger processes an endstop interrupt for the given axis and side.
// positive reports the max-position switch. Signals arriving while no
// endstop-sensitive slice executes, for axes the move does not use, or from
// the side the move travels away from are discarded.
func (c *Controller) Trigger(ax int, positive bool) {
	act := c.pulse.Current()
	if act == nil || !act.CheckEndstops {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	bit := axis.Bits[ax]
	c.axesTriggered |= bit
	if positive {
		c.axesDirTriggered |= bit
	} else {
		c.axesDirTriggered &^= bit
	}

	seg := c.motors.SegmentByID(act.ParentID)
	if seg == nil {
		return
	}
	m1 := &seg.Move
	if m1.AxisUsed&bit == 0 {
		return // axis not part of this motion
	}
	if m1.AxisDir&bit != c.axesDirTriggered&bit {
		return // moving away: stale signal from the other side
	}

	if c.onUnhome != nil {
		c.onUnhome(ax)
	}

	switch c.mode {
	case ModeStopAtAnyHit, ModeProbing:
		c.stepsAtHit = seg.StepsRemaining
		c.hit = true
		c.pulse.SkipParent(act.ParentID)
		if c.mode == ModeProbing {
			c.probePos = c.motors.MotorPos()
			c.probeLatched = true
		}
	case ModeStopPerAxis:
		c.stepsAtHit[ax] = seg.StepsRemaining[ax]
		c.hit = true
		if c.stopMask&c.axesTriggered == c.stopMask {
			c.pulse.SkipParent(act.ParentID)
		}
	default:
		// An endstop fired on an endstop-sensitive move outside any
		// homing or probing mode: abort and surface to the caller.
		c.stepsAtHit = seg.StepsRemaining
		c.hit = true
		c.pulse.SkipParent(act.ParentID)
		c.status = moterr.NewAxis(moterr.CodeEndstopHit, ax, "endstop hit outside homing")
		c.log.Warn("unexpected endstop hit",
			zap.Int("axis", ax),
			zap.Bool("positive", positive))
	}
}

// MotorTrigger records a per-motor trigger (delta carriage switches).
func (c *Controller) MotorTrigger(motor int, positive bool) {
	c.mu.Lock()
	c.motorTriggered |= axis.Bits[motor]
	if positive {
		c.motorDirTriggered |= axis.Bits[motor]
	} else {
		c.motorDirTriggered &^= axis.Bits[motor]
	}
	c.mu.Unlock()
}

// MotorsTriggered returns the per-motor trigger mask.
func (c *Controller) MotorsTriggered() axis.Mask {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.motorTriggered
}

// Hit reports whether a valid trigger occurred since SetMode.
func (c *Controller) Hit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hit
}

// StepsAtHit returns the remaining-step snapshot captured at the trigger.
func (c *Controller) StepsAtHit() axis.Steps {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stepsAtHit
}

// ProbePosition returns the motor position latched by a probing trigger.
func (c *Controller) ProbePosition() (axis.Steps, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.probePos, c.probeLatched
}

// TriggeredAxes returns the axes that have triggered since SetMode.
func (c *Controller) TriggeredAxes() axis.Mask {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.axesTriggered
}

// ConsumeStatus returns and clears the caller-visible error, if any. The
// command loop reads this once per iteration.
func (c *Controller) ConsumeStatus() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.status
	c.status = nil
	return err
}
