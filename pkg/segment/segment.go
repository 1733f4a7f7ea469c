// Package segment implements the middle pipeline stage: the generator that
// slices planned moves into constant-speed micro-segments, applies the
// kinematic transform, and pre-loads the Bresenham state for the pulser.
package segment

import (
	"math"
	"sync/atomic"

	"go.uber.org/zap"

	"printmotion/pkg/axis"
	"printmotion/pkg/config"
	"printmotion/pkg/hal"
	"printmotion/pkg/kinematics"
	"printmotion/pkg/planner"
	"printmotion/pkg/pulser"
	"printmotion/pkg/ring"
	"printmotion/pkg/velocity"
)

// State tracks a segment buffer through the phases of its move's trapezoid.
type State uint8

const (
	StateNotInitialized State = iota
	StateAccelerateInit
	StateAccelerating
	StatePlateauInit
	StatePlateau
	StateDecelerateInit
	StateDecelerating
	StateFinished
)

// Segment is one working buffer of the middle stage. It owns the adopted
// move copy and the per-axis remaining-step counters used for endstop
// accounting.
type Segment struct {
	// ID identifies this buffer to the pulser and the endstop handler.
	ID uint8

	Move  planner.Move
	State State

	// SOff is the distance offset of the deceleration phase.
	SOff float64

	// StepsRemaining counts the unsigned motor steps still to emit per
	// axis. Decremented by the pulser while the move checks endstops.
	StepsRemaining axis.Steps
}

// nextState advances past phases with zero duration.
func (s *Segment) nextState() {
	m := &s.Move
	switch s.State {
	case StateNotInitialized:
		if m.T1 > 0 {
			s.State = StateAccelerateInit
			return
		}
		if m.T2 > 0 {
			s.State = StatePlateauInit
			return
		}
		if m.T3 > 0 {
			s.State = StateDecelerateInit
			return
		}
	case StateAccelerating:
		if m.T2 > 0 {
			s.State = StatePlateauInit
			return
		}
		if m.T3 > 0 {
			s.State = StateDecelerateInit
			return
		}
	case StatePlateau:
		if m.T3 > 0 {
			s.State = StateDecelerateInit
			return
		}
	}
	s.State = StateFinished
}

// Tool computes the secondary output (laser PWM, spindle) for a slice from
// the instantaneous feedrate.
type Tool interface {
	Intensity(feedrate float64, active bool, base uint16, perMMPS float64) uint16
}

// dwellSliceMax caps the tick count of a single dwell slice.
const dwellSliceMax = 32000

// Generator produces at most one micro-slice per prep tick. It pulls
// committed moves from the planner, walks their velocity profile, and
// publishes slices into the step queue.
type Generator struct {
	log *zap.Logger
	cfg *config.Config
	kin kinematics.Kinematics

	plan   *planner.Planner
	segs   *ring.Ring[Segment]
	steps  *ring.Ring[pulser.Slice]
	pulse  *pulser.Pulser
	driver hal.StepperDriver
	tool   Tool

	profile *velocity.Profile
	dt      float64

	act    *Segment
	nextID uint8

	// Motor position is double-buffered so a concurrent reader always
	// sees a consistent snapshot; the selector index is atomic.
	lastMotorPos [2]axis.Steps
	lastMotorIdx atomic.Int32

	// advanceSteps is the pressure advance already folded into E deltas.
	advanceSteps int32

	// lastL detects arc-length regression inside a move.
	lastL float64
}

// New creates a generator wiring the planner to the step queue.
func New(cfg *config.Config, kin kinematics.Kinematics, plan *planner.Planner,
	segs *ring.Ring[Segment], steps *ring.Ring[pulser.Slice], pulse *pulser.Pulser,
	driver hal.StepperDriver, tool Tool, logger *zap.Logger) *Generator {

	if logger == nil {
		logger = zap.NewNop()
	}
	dt := 1 / cfg.PrepareFrequency
	return &Generator{
		log:     logger,
		cfg:     cfg,
		kin:     kin,
		plan:    plan,
		segs:    segs,
		steps:   steps,
		pulse:   pulse,
		driver:  driver,
		tool:    tool,
		profile: velocity.New(dt, 1),
		dt:      dt,
	}
}

// MotorPos returns the published motor position snapshot.
func (g *Generator) MotorPos() axis.Steps {
	return g.lastMotorPos[g.lastMotorIdx.Load()]
}

// SetMotorPos overwrites both motor position buffers. Only valid while the
// pipeline is drained (setPosition, homing result).
func (g *Generator) SetMotorPos(pos axis.Steps) {
	g.lastMotorPos[0] = pos
	g.lastMotorPos[1] = pos
}

// SetMotorPosFromCartesian transforms a cartesian position and publishes it
// as the motor position. Only valid while the pipeline is drained.
func (g *Generator) SetMotorPosFromCartesian(cart axis.Vector) {
	var motor axis.Steps
	g.kin.Transform(cart, &motor)
	g.SetMotorPos(motor)
}

// SegmentByID finds the live segment buffer with the given id.
func (g *Generator) SegmentByID(id uint8) *Segment {
	for i := 0; ; i++ {
		s := g.segs.At(i)
		if s == nil {
			return nil
		}
		if s.ID == id {
			return s
		}
	}
}

// ReleaseOldest retires the oldest segment buffer. Wired to the pulser's
// parent-done notification.
func (g *Generator) ReleaseOldest() {
	g.segs.Advance()
}

// Active reports whether a segment is mid-generation.
func (g *Generator) Active() bool {
	return g.act != nil
}

// Reset drops the working segment and all queued segment buffers (kill
// path).
func (g *Generator) Reset() {
	g.act = nil
	g.advanceSteps = 0
	g.segs.Reset()
}

// Tick runs one prep-timer invocation: it produces at most one slice.
func (g *Generator) Tick() {
	m3 := g.steps.TryReserve()
	if m3 == nil {
		return // step queue full, back-pressure
	}

	if g.act == nil && !g.adopt() {
		g.steps.Abort()
		return
	}
	act := g.act
	mv := &act.Move

	switch mv.Action {
	case planner.ActionMove, planner.ActionMoveSteps:
		g.sliceMove(m3, act)
	case planner.ActionWait, planner.ActionWarmup:
		g.sliceDwell(m3, act)
	default:
		g.act = nil
		g.steps.Abort()
	}
}

// adopt pulls the next committed move into a fresh segment buffer.
func (g *Generator) adopt() bool {
	slot := g.segs.TryReserve()
	if slot == nil {
		return false
	}
	var mv planner.Move
	if !g.plan.Forward(&mv) {
		g.segs.Abort()
		return false
	}

	*slot = Segment{
		ID:    g.nextID,
		Move:  mv,
		State: StateNotInitialized,
	}
	g.nextID++

	if (mv.Action == planner.ActionMove || mv.Action == planner.ActionMoveSteps) && mv.CheckEndstops {
		// Total motor steps of the move, for endstop remainder
		// accounting.
		var end axis.Vector
		for i := 0; i < axis.Count; i++ {
			end[i] = mv.Start[i] + mv.UnitDir[i]*mv.Length
		}
		var target axis.Steps
		if mv.Action == planner.ActionMove {
			g.kin.Transform(end, &target)
		} else {
			for i := 0; i < axis.Count; i++ {
				target[i] = roundf(end[i])
			}
		}
		lp := g.lastMotorPos[g.lastMotorIdx.Load()]
		for i := 0; i < axis.Count; i++ {
			d := target[i] - lp[i]
			if d < 0 {
				d = -d
			}
			slot.StepsRemaining[i] = d
		}
	}

	g.lastL = 0
	g.segs.Commit()
	g.act = slot
	return true
}

// sliceMove advances the velocity profile one segment and emits the
// resulting micro-slice.
func (g *Generator) sliceMove(m3 *pulser.Slice, act *Segment) {
	mv := &act.Move

	if act.State == StateNotInitialized {
		act.nextState()
		if mv.Action == planner.ActionMove {
			// Re-anchor the E motor position so accumulated advance
			// does not skew the first delta.
			idx := g.lastMotorIdx.Load()
			g.lastMotorPos[idx][axis.E] = roundf(mv.Start[axis.E] * g.stepsPerMM(axis.E, mv))
		}
	}

	sFactor := mv.Length
	switch act.State {
	case StateAccelerateInit:
		act.State = StateAccelerating
		if g.profile.Start(g.toProfileSpeed(mv, mv.StartSpeed), g.toProfileSpeed(mv, mv.Feedrate), mv.T1) {
			act.nextState()
		}
		sFactor = g.fromProfileDist(mv, g.profile.S)
	case StateAccelerating:
		if g.profile.Next() {
			act.nextState()
		}
		sFactor = g.fromProfileDist(mv, g.profile.S)
	case StatePlateauInit:
		act.State = StatePlateau
		if g.profile.Start(g.toProfileSpeed(mv, mv.Feedrate), g.toProfileSpeed(mv, mv.Feedrate), mv.T2) {
			act.nextState()
		}
		sFactor = g.fromProfileDist(mv, g.profile.S) + mv.S1
	case StatePlateau:
		if g.profile.Next() {
			act.nextState()
		}
		sFactor = g.fromProfileDist(mv, g.profile.S) + mv.S1
	case StateDecelerateInit:
		act.State = StateDecelerating
		act.SOff = mv.S1 + mv.S2
		if g.profile.Start(g.toProfileSpeed(mv, mv.Feedrate), g.toProfileSpeed(mv, mv.EndSpeed), mv.T3) {
			act.nextState()
		}
		sFactor = g.fromProfileDist(mv, g.profile.S) + act.SOff
	case StateDecelerating:
		if g.profile.Next() {
			act.nextState()
		}
		sFactor = g.fromProfileDist(mv, g.profile.S) + act.SOff
	case StateFinished:
		g.emitSentinel(m3, act)
		return
	}

	last := g.pulse.SkippingParent(act.ID)
	if act.State == StateFinished {
		// Prevent rounding error from cutting the final position short.
		sFactor = mv.Length
		last = true
	} else if sFactor > mv.Length {
		sFactor = mv.Length
		last = true
	}

	if sFactor < g.lastL {
		g.log.Warn("reversal", zap.Float64("regression", sFactor-g.lastL))
	}
	g.lastL = sFactor

	// Convert the float arc position into integer motor positions. This
	// step catches all nonlinear behaviour from the acceleration profile
	// and the printer geometry.
	var pos axis.Vector
	lastIdx := g.lastMotorIdx.Load()
	nextIdx := 1 - lastIdx
	lp := &g.lastMotorPos[lastIdx]
	np := &g.lastMotorPos[nextIdx]
	if mv.Action == planner.ActionMove {
		for i := 0; i < axis.Count; i++ {
			if mv.AxisUsed.Has(i) {
				pos[i] = mv.Start[i] + sFactor*mv.UnitDir[i]
			} else {
				pos[i] = mv.Start[i]
			}
		}
		g.kin.Transform(pos, np)
	} else {
		for i := 0; i < axis.Count; i++ {
			np[i] = roundf(mv.Start[i] + sFactor*mv.UnitDir[i])
		}
	}

	// Per-axis deltas, with pressure advance folded into E. The advance
	// bookkeeping commits only once the slice is actually emitted.
	feed := g.fromProfileSpeed(mv, g.profile.F)
	advDiff := int32(0)
	if mv.Action == planner.ActionMove && (g.advanceSteps != 0 || mv.EAdv != 0) {
		advTarget := int32(math.Round(feed * mv.EAdv))
		advDiff = advTarget - g.advanceSteps
	}
	var deltas [axis.Count]int32
	maxAbs := int32(0)
	for i := 0; i < axis.Count; i++ {
		d := np[i] - lp[i]
		if i == axis.E {
			d += advDiff
		}
		deltas[i] = d
		if d < 0 {
			d = -d
		}
		if d > maxAbs {
			maxAbs = d
		}
	}

	// Position rounding can push an axis one step past the tick count;
	// widen the slice so no axis ever needs more than one step per tick.
	stepsRemaining := g.profile.StepsPerSegment
	if maxAbs > int32(stepsRemaining) {
		stepsRemaining = uint32(maxAbs)
	}
	if stepsRemaining == 0 {
		if last {
			g.emitSentinel(m3, act)
			return
		}
		g.steps.Abort() // no empty slices; the delta carries into the next
		return
	}
	g.advanceSteps += advDiff

	m3.ParentID = act.ID
	m3.Last = last
	m3.UsedAxes = 0
	m3.Directions = 0
	m3.StepsRemaining = stepsRemaining
	m3.ErrorUpdate = int32(stepsRemaining) << 1
	m3.CheckEndstops = mv.CheckEndstops
	if mv.CheckEndstops {
		m3.Remaining = &act.StepsRemaining
	} else {
		m3.Remaining = nil
	}

	for i := 0; i < axis.Count; i++ {
		d := deltas[i]
		if d < 0 {
			m3.Delta[i] = (-d) << 1
			m3.UsedAxes = m3.UsedAxes.Set(i)
		} else if d > 0 {
			m3.Delta[i] = d << 1
			m3.UsedAxes = m3.UsedAxes.Set(i)
			m3.Directions = m3.Directions.Set(i)
		} else {
			m3.Delta[i] = 0
		}
		m3.Error[i] = -int32(stepsRemaining)
	}
	g.lastMotorIdx.Store(nextIdx)

	m3.StepsPerTimerCall = g.stepsPerTimerCall(stepsRemaining)

	if g.tool != nil {
		m3.SecondSpeed = g.tool.Intensity(feed, mv.ActiveSecondary, mv.SecondSpeed, mv.SecondSpeedPerMMPS)
	} else {
		m3.SecondSpeed = 0
	}

	if g.driver != nil && m3.UsedAxes != 0 {
		g.driver.Enable(m3.UsedAxes)
	}

	g.steps.Commit()
	if last {
		g.act = nil // select the next move on the next tick
	}
}

// emitSentinel publishes an empty one-tick slice so the pulser observes a
// clean end of move. It carries the move's tool intensity, which the pulser
// applies when the slice retires.
func (g *Generator) emitSentinel(m3 *pulser.Slice, act *Segment) {
	mv := &act.Move
	var second uint16
	if g.tool != nil {
		second = g.tool.Intensity(g.fromProfileSpeed(mv, g.profile.F), mv.ActiveSecondary, mv.SecondSpeed, mv.SecondSpeedPerMMPS)
	}
	*m3 = pulser.Slice{
		ParentID:          act.ID,
		Last:              true,
		StepsRemaining:    1,
		StepsPerTimerCall: 1,
		SecondSpeed:       second,
	}
	g.steps.Commit()
	g.act = nil
}

// sliceDwell emits wait/warmup slices, capped so tick counters stay small.
func (g *Generator) sliceDwell(m3 *pulser.Slice, act *Segment) {
	mv := &act.Move
	*m3 = pulser.Slice{
		ParentID:          act.ID,
		SecondSpeed:       mv.SecondSpeed,
		StepsPerTimerCall: 1,
	}
	if mv.DwellTicks > dwellSliceMax {
		m3.StepsRemaining = dwellSliceMax
		mv.DwellTicks -= dwellSliceMax
	} else {
		m3.StepsRemaining = mv.DwellTicks
		if m3.StepsRemaining == 0 {
			m3.StepsRemaining = 1
		}
		m3.Last = true
		g.act = nil
	}
	g.steps.Commit()
}

// toProfileSpeed converts a move-space speed into profile units: steps/s on
// the representative axis for cartesian moves, raw steps/s for step moves.
func (g *Generator) toProfileSpeed(mv *planner.Move, v float64) float64 {
	if mv.Action == planner.ActionMoveSteps {
		return v // already steps/s
	}
	return v * g.representativeStepsPerMM(mv)
}

func (g *Generator) fromProfileSpeed(mv *planner.Move, v float64) float64 {
	if mv.Action == planner.ActionMoveSteps {
		return v
	}
	return v / g.representativeStepsPerMM(mv)
}

func (g *Generator) fromProfileDist(mv *planner.Move, s float64) float64 {
	if mv.Action == planner.ActionMoveSteps {
		return s
	}
	return s / g.representativeStepsPerMM(mv)
}

// representativeStepsPerMM picks the finest resolution among the axes the
// move uses, so the slice tick count can step the dominant axis every tick.
func (g *Generator) representativeStepsPerMM(mv *planner.Move) float64 {
	best := 0.0
	for i := 0; i < axis.Count; i++ {
		if mv.AxisUsed.Has(i) {
			if spm := g.cfg.Axes[i].StepsPerMM; spm > best {
				best = spm
			}
		}
	}
	if best == 0 {
		best = g.cfg.Axes[axis.X].StepsPerMM
	}
	return best
}

func (g *Generator) stepsPerMM(i int, mv *planner.Move) float64 {
	return g.cfg.Axes[i].StepsPerMM
}

// stepsPerTimerCall doubles the per-interrupt Bresenham rounds when the
// slice's step rate exceeds the step timer ceiling.
func (g *Generator) stepsPerTimerCall(stepsPerSegment uint32) uint8 {
	rate := float64(stepsPerSegment) / g.dt
	switch {
	case rate > 2*g.cfg.StepFrequencyMax:
		return 4
	case rate > g.cfg.StepFrequencyMax:
		return 2
	default:
		return 1
	}
}

func roundf(v float64) int32 {
	return int32(math.Round(v))
}
