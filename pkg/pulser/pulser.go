// Package pulser implements the final pipeline stage: the step interrupt
// that turns micro-slices into step edges using multi-axis Bresenham.
package pulser

import (
	"sync/atomic"

	"printmotion/pkg/axis"
	"printmotion/pkg/hal"
	"printmotion/pkg/ring"
)

// Slice is one constant-speed micro-segment, the unit of work consumed by
// the step interrupt.
type Slice struct {
	// ParentID identifies the segment buffer this slice belongs to.
	ParentID uint8
	// Last marks the final slice of its parent.
	Last bool

	// UsedAxes holds the axes stepping during this slice; Directions the
	// sign bits (set = positive).
	UsedAxes   axis.Mask
	Directions axis.Mask

	// Delta[i] is 2x the steps to emit on axis i. Error[i] starts at
	// -StepsRemaining and ErrorUpdate is 2x StepsRemaining; an axis steps
	// whenever its error accumulator becomes non-negative.
	Delta       [axis.Count]int32
	Error       [axis.Count]int32
	ErrorUpdate int32

	// StepsRemaining is the tick count of the slice (driver steps of the
	// dominant axis).
	StepsRemaining uint32

	// StepsPerTimerCall emits multiple Bresenham rounds per interrupt when
	// the slice frequency exceeds the step timer ceiling (1, 2, or 4).
	StepsPerTimerCall uint8

	CheckEndstops bool
	SecondSpeed   uint16

	// Remaining, when non-nil, points at the parent segment's per-axis
	// remaining-step counters. Every emitted step decrements its axis so
	// an endstop trigger can snapshot the exact remainder.
	Remaining *axis.Steps
}

// noSkip is the SkipParentID value when no abort is pending.
const noSkip = -1

// Pulser consumes the step queue. Tick is the interrupt body: the embedder
// calls it from the highest-priority timer; the simulator calls it in a
// loop.
type Pulser struct {
	queue  *ring.Ring[Slice]
	driver hal.StepperDriver
	tool   hal.ToolOutput

	// skipParentID aborts all remaining slices of a parent segment. It is
	// written from the endstop interrupt and read here, hence atomic.
	skipParentID atomic.Int32

	// current is the slice being pulsed, nil between slices.
	current *Slice

	// dirKnown caches the last direction latched per axis so the driver
	// only sees changes.
	dirKnown [axis.Count]bool
	dirSet   [axis.Count]bool

	// onSliceDone is called after a slice retires; last reports the end of
	// its parent. Wired by the motion system to release segment buffers.
	onSliceDone func(parentID uint8, last bool)

	idle bool
}

// New creates a pulser over the step queue.
func New(queue *ring.Ring[Slice], driver hal.StepperDriver, tool hal.ToolOutput) *Pulser {
	p := &Pulser{
		queue:  queue,
		driver: driver,
		tool:   tool,
	}
	p.skipParentID.Store(noSkip)
	return p
}

// SetSliceDoneFunc registers the retirement callback.
func (p *Pulser) SetSliceDoneFunc(fn func(parentID uint8, last bool)) {
	p.onSliceDone = fn
}

// SkipParent requests that every remaining slice of the given parent be
// discarded. Safe to call from the endstop interrupt.
func (p *Pulser) SkipParent(parentID uint8) {
	p.skipParentID.Store(int32(parentID))
}

// Skipping reports whether an abort is in flight.
func (p *Pulser) Skipping() bool {
	return p.skipParentID.Load() != noSkip
}

// SkippingParent reports whether an abort is pending for the given parent.
func (p *Pulser) SkippingParent(id uint8) bool {
	skip := p.skipParentID.Load()
	return skip != noSkip && uint8(skip) == id
}

// Current returns the slice being pulsed, or nil when idle. Read by the
// endstop interrupt, which runs at the same priority and never concurrently
// with Tick.
func (p *Pulser) Current() *Slice {
	return p.current
}

// Idle reports whether the pulser had no work on its last tick.
func (p *Pulser) Idle() bool {
	return p.idle
}

// Tick executes one step interrupt.
func (p *Pulser) Tick() {
	if p.current == nil {
		p.current = p.queue.Head()
		if p.current == nil {
			p.idle = true
			return
		}
		p.idle = false
		p.latchDirections(p.current)
	}
	s := p.current

	if skip := p.skipParentID.Load(); skip != noSkip && uint8(skip) == s.ParentID {
		// Abort: drop the rest of this slice and everything up to the
		// parent's last slice.
		s.StepsRemaining = 0
		if s.Last {
			p.skipParentID.Store(noSkip)
		}
		p.retire(s)
		return
	}

	rounds := int(s.StepsPerTimerCall)
	if rounds < 1 {
		rounds = 1
	}
	for r := 0; r < rounds && s.StepsRemaining > 0; r++ {
		for i := 0; i < axis.Count; i++ {
			if !s.UsedAxes.Has(i) {
				continue
			}
			s.Error[i] += s.Delta[i]
			if s.Error[i] >= 0 {
				s.Error[i] -= s.ErrorUpdate
				if s.CheckEndstops && s.Remaining != nil && s.Remaining[i] > 0 {
					s.Remaining[i]--
				}
				p.driver.Step(i)
			}
		}
		s.StepsRemaining--
	}

	if s.StepsRemaining == 0 {
		p.retire(s)
	}
}

// retire applies the slice's tool intensity, releases the queue slot, and
// notifies the segment stage.
func (p *Pulser) retire(s *Slice) {
	if p.tool != nil {
		p.tool.SetIntensity(s.SecondSpeed)
	}
	parent, last := s.ParentID, s.Last
	p.current = nil
	p.queue.Advance()
	if p.onSliceDone != nil {
		p.onSliceDone(parent, last)
	}
}

// latchDirections pushes direction changes to the driver before stepping.
func (p *Pulser) latchDirections(s *Slice) {
	for i := 0; i < axis.Count; i++ {
		if !s.UsedAxes.Has(i) {
			continue
		}
		positive := s.Directions.Has(i)
		if !p.dirKnown[i] || p.dirSet[i] != positive {
			p.driver.SetDirection(i, positive)
			p.dirKnown[i] = true
			p.dirSet[i] = positive
		}
	}
}

// Reset drops the current slice and clears any pending skip (kill path).
func (p *Pulser) Reset() {
	p.current = nil
	p.skipParentID.Store(noSkip)
	p.queue.Reset()
}
