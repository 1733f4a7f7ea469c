// Package planner implements the first pipeline stage: the bounded move
// queue with look-ahead junction optimization and trapezoid profiling.
package planner

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"printmotion/pkg/axis"
	"printmotion/pkg/config"
	"printmotion/pkg/moterr"
	"printmotion/pkg/ring"
)

const (
	// lengthEpsilon separates a real move from position noise.
	lengthEpsilon = 1e-6
	// minFeedrate is the floor a requested feedrate is clamped up to.
	minFeedrate = 0.1
)

// Planner owns the L1 move queue. The command loop is the producer; the
// segment generator pulls committed moves with Forward. All queue access is
// serialized by an internal lock, standing in for the short interrupt-masked
// sections of the firmware.
type Planner struct {
	mu  sync.Mutex
	log *zap.Logger
	cfg *config.Config

	queue *ring.Ring[Move]

	// position is the logical current position, advanced at queue time.
	position axis.Vector
	// origin shifts incoming targets into the machine frame.
	origin axis.Vector
	// backlashComp is the accumulated backlash shift applied in front of
	// the kinematic transform.
	backlashComp axis.Vector
	lastDir      axis.Mask

	feedrateMultiply float64 // percent
	flowMultiply     float64 // percent
	defaultFeedrate  float64 // used when a move passes no feedrate

	secondSpeed        uint16
	secondSpeedPerMMPS float64
	activeSecondary    bool

	boundsOverride bool

	maxYank axis.Vector

	// motorPos supplies the current motor position for anchoring
	// motor-space moves. Only consulted while the pipeline is drained.
	motorPos func() axis.Steps
}

// New creates a planner over the given config.
func New(cfg *config.Config, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Planner{
		log:              logger,
		cfg:              cfg,
		queue:            ring.New[Move](cfg.MoveQueueDepth),
		feedrateMultiply: 100,
		flowMultiply:     100,
		defaultFeedrate:  50,
	}
	for i := 0; i < axis.Count; i++ {
		p.maxYank[i] = cfg.Axes[i].MaxYank
	}
	return p
}

// CurrentPosition returns the logical position, which reflects queued moves
// rather than stepper progress.
func (p *Planner) CurrentPosition() axis.Vector {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// SetPosition overwrites the logical position without motion.
func (p *Planner) SetPosition(pos axis.Vector) {
	p.mu.Lock()
	p.position = pos
	p.mu.Unlock()
}

// SetOrigin sets the offset added to every queued target.
func (p *Planner) SetOrigin(origin axis.Vector) {
	p.mu.Lock()
	p.origin = origin
	p.mu.Unlock()
}

// SetFeedrateMultiply scales all queued feedrates by the given percentage.
func (p *Planner) SetFeedrateMultiply(percent float64) {
	p.mu.Lock()
	if percent > 0 {
		p.feedrateMultiply = percent
	}
	p.mu.Unlock()
}

// SetFlowMultiply scales the extruder component of queued moves.
func (p *Planner) SetFlowMultiply(percent float64) {
	p.mu.Lock()
	if percent > 0 {
		p.flowMultiply = percent
	}
	p.mu.Unlock()
}

// SetFeedrate sets the feedrate used by moves queued without one.
func (p *Planner) SetFeedrate(f float64) {
	p.mu.Lock()
	if f > 0 {
		p.defaultFeedrate = f
	}
	p.mu.Unlock()
}

// SetSecondarySpeed configures the tool intensity recorded on new moves.
func (p *Planner) SetSecondarySpeed(base uint16, perMMPS float64, active bool) {
	p.mu.Lock()
	p.secondSpeed = base
	p.secondSpeedPerMMPS = perMMPS
	p.activeSecondary = active
	p.mu.Unlock()
}

// SetMotorPosFunc registers the motor-position source used to anchor
// motor-space moves.
func (p *Planner) SetMotorPosFunc(fn func() axis.Steps) {
	p.mu.Lock()
	p.motorPos = fn
	p.mu.Unlock()
}

// SetBoundsOverride disables the destination bounds check (used while the
// machine is not homed).
func (p *Planner) SetBoundsOverride(on bool) {
	p.mu.Lock()
	p.boundsOverride = on
	p.mu.Unlock()
}

// Len returns the number of queued entries.
func (p *Planner) Len() int {
	return p.queue.Len()
}

// IsFull reports whether the queue has no free slot.
func (p *Planner) IsFull() bool {
	return p.queue.Len() == p.queue.Cap()
}

// QueueMove appends a cartesian move toward target at the given feedrate.
// Zero-length requests are absorbed (the position is still updated) and
// reported with CodeZeroMove; a full queue reports CodeQueueFull and leaves
// the position untouched.
func (p *Planner) QueueMove(target axis.Vector, feedrate float64, pathOptimize bool) error {
	return p.QueueMoveChecked(target, feedrate, pathOptimize, false)
}

// QueueMoveChecked is QueueMove with endstop polling enabled for the move,
// used by probing.
func (p *Planner) QueueMoveChecked(target axis.Vector, feedrate float64, pathOptimize, checkEndstops bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	target = target.Add(p.origin)
	if !p.boundsOverride {
		for i := 0; i < 3; i++ {
			a := p.cfg.Axes[i]
			if target[i] < a.MinPos-lengthEpsilon || target[i] > a.MaxPos+lengthEpsilon {
				return moterr.OutOfBounds(i, target[i], a.MinPos, a.MaxPos)
			}
		}
	}

	if feedrate <= 0 {
		feedrate = p.defaultFeedrate
	}
	feedrate *= p.feedrateMultiply / 100

	delta := target.Sub(p.position)
	if p.flowMultiply != 100 {
		delta[axis.E] *= p.flowMultiply / 100
	}

	length := delta.CartesianNorm()
	if length < lengthEpsilon {
		length = delta.Norm()
	}
	if length < lengthEpsilon {
		p.position = target
		return moterr.New(moterr.CodeZeroMove, "move length below epsilon")
	}

	slot := p.queue.TryReserve()
	if slot == nil {
		return moterr.QueueFull("move")
	}

	m := Move{
		Action:             ActionMove,
		Length:             length,
		SecondSpeed:        p.secondSpeed,
		SecondSpeedPerMMPS: p.secondSpeedPerMMPS,
		ActiveSecondary:    p.activeSecondary,
		CheckEndstops:      checkEndstops,
	}
	inv := 1 / length
	for i := 0; i < axis.Count; i++ {
		m.UnitDir[i] = delta[i] * inv
		if math.Abs(delta[i]) > lengthEpsilon {
			m.AxisUsed = m.AxisUsed.Set(i)
			if delta[i] > 0 {
				m.AxisDir = m.AxisDir.Set(i)
			}
		}
	}

	// Backlash compensation shifts the transform-side start whenever an
	// axis reverses travel direction.
	for i := 0; i < axis.Count; i++ {
		b := p.cfg.Axes[i].Backlash
		if b == 0 || !m.AxisUsed.Has(i) {
			continue
		}
		if m.AxisDir.Has(i) != p.lastDir.Has(i) {
			if m.AxisDir.Has(i) {
				p.backlashComp[i] += b
			} else {
				p.backlashComp[i] -= b
			}
		}
		if m.AxisDir.Has(i) {
			p.lastDir = p.lastDir.Set(i)
		} else {
			p.lastDir = p.lastDir.Clear(i)
		}
	}
	m.Start = p.position.Add(p.backlashComp)

	m.Feedrate = p.clampFeedrate(feedrate, &m)
	m.Acceleration = p.moveAcceleration(&m)
	if m.Extruding() {
		m.EAdv = p.cfg.PressureAdvance
	}

	prev := p.queue.Tail()
	if prev != nil {
		m.MaxJunction = junctionSpeed(prev, &m, &p.maxYank)
	}

	if !pathOptimize {
		// No look-ahead requested: the move starts at rest and no
		// successor may carry speed across its exit.
		m.MaxJunction = 0
		m.NoJunction = true
		m.StartFixed = true
	}

	*slot = m
	p.queue.Commit()
	p.replan()

	p.position = target
	return nil
}

// QueueSteps appends a motor-space move by the given step deltas. Feedrate
// is in mm/s and is converted through the dominant axis resolution; the
// kinematic transform does not apply. Used by homing.
func (p *Planner) QueueSteps(deltaSteps axis.Steps, feedrate float64, checkEndstops bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := Move{
		Action:        ActionMoveSteps,
		CheckEndstops: checkEndstops,
	}
	if p.motorPos != nil {
		mp := p.motorPos()
		for i := 0; i < axis.Count; i++ {
			m.Start[i] = float64(mp[i])
		}
	}

	var delta axis.Vector
	dominant := -1
	maxSteps := int32(0)
	for i := 0; i < axis.Count; i++ {
		delta[i] = float64(deltaSteps[i])
		if deltaSteps[i] == 0 {
			continue
		}
		m.AxisUsed = m.AxisUsed.Set(i)
		abs := deltaSteps[i]
		if deltaSteps[i] > 0 {
			m.AxisDir = m.AxisDir.Set(i)
		} else {
			abs = -abs
		}
		if abs > maxSteps {
			maxSteps = abs
			dominant = i
		}
	}
	if dominant < 0 {
		return moterr.New(moterr.CodeZeroMove, "step move with no delta")
	}

	length := delta.Norm()
	m.Length = length
	inv := 1 / length
	for i := 0; i < axis.Count; i++ {
		m.UnitDir[i] = delta[i] * inv
	}

	spm := p.cfg.Axes[dominant].StepsPerMM
	m.Feedrate = math.Max(feedrate, minFeedrate) * spm
	m.Acceleration = p.cfg.Axes[dominant].MaxAcceleration * spm
	// Homing moves start and stop at rest.
	m.MaxJunction = 0

	slot := p.queue.TryReserve()
	if slot == nil {
		return moterr.QueueFull("move")
	}
	*slot = m
	p.queue.Commit()
	p.replan()
	return nil
}

// QueueWait appends a dwell of the given duration. The duration is stored as
// ticks at the StepFrequencyMax rate.
func (p *Planner) QueueWait(milliseconds uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ticksPerMS := p.cfg.StepFrequencyMax / 1000
	slot := p.queue.TryReserve()
	if slot == nil {
		return moterr.QueueFull("move")
	}
	*slot = Move{
		Action:     ActionWait,
		DwellTicks: uint32(float64(milliseconds) * ticksPerMS),
	}
	p.queue.Commit()
	p.replan()
	return nil
}

// QueueWarmup appends a one-tick barrier entry carrying the tool index and
// target temperature. The pipeline does not wait for the tool to heat up.
func (p *Planner) QueueWarmup(tool int, targetC float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot := p.queue.TryReserve()
	if slot == nil {
		return moterr.QueueFull("move")
	}
	*slot = Move{
		Action:     ActionWarmup,
		WarmupTool: tool,
		WarmupTemp: targetC,
		DwellTicks: 1,
	}
	p.queue.Commit()
	p.replan()
	return nil
}

// Forward hands the oldest committed move to the segment generator. The
// entry's speeds become final, its trapezoid is computed, and the successor's
// entry speed is frozen. Returns false when the queue is empty.
func (p *Planner) Forward(out *Move) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	head := p.queue.Head()
	if head == nil {
		return false
	}
	head.Plan()
	*out = *head
	p.queue.Advance()

	if next := p.queue.Head(); next != nil {
		next.StartSpeed = head.EndSpeed
		next.StartFixed = true
	}
	return true
}

// Clear drops every queued entry (kill path).
func (p *Planner) Clear() {
	p.mu.Lock()
	p.queue.Reset()
	p.mu.Unlock()
}

// clampFeedrate limits f to the per-axis projected maxima and the floor.
func (p *Planner) clampFeedrate(f float64, m *Move) float64 {
	if f < minFeedrate {
		f = minFeedrate
	}
	requested := f
	for i := 0; i < axis.Count; i++ {
		d := math.Abs(m.UnitDir[i])
		if d > directionEpsilon {
			if lim := p.cfg.Axes[i].MaxFeedrate / d; lim < f {
				f = lim
			}
		}
	}
	if f < requested {
		p.log.Debug("feedrate clamped",
			zap.Float64("requested", requested),
			zap.Float64("clamped", f))
	}
	return f
}

// moveAcceleration returns the peak acceleration projected onto the move
// direction, using travel limits for non-extruding moves.
func (p *Planner) moveAcceleration(m *Move) float64 {
	a := math.Inf(1)
	extruding := m.Extruding()
	for i := 0; i < axis.Count; i++ {
		d := math.Abs(m.UnitDir[i])
		if d > directionEpsilon {
			if lim := p.cfg.TravelAccel(i, extruding) / d; lim < a {
				a = lim
			}
		}
	}
	if math.IsInf(a, 1) {
		a = p.cfg.Axes[axis.X].MaxAcceleration
	}
	return a
}

// replan runs the backward and forward look-ahead passes over every queued
// entry whose junction is still mutable.
func (p *Planner) replan() {
	n := p.queue.Len()
	if n == 0 {
		return
	}

	// Backward pass: assume a full stop after the newest entry and pull
	// the highest feasible entry speeds back through the queue.
	nextStart := 0.0
	for i := n - 1; i >= 0; i-- {
		m := p.queue.At(i)
		if m.Action == ActionWait || m.Action == ActionWarmup {
			m.StartSpeed, m.EndSpeed = 0, 0
			nextStart = 0
			continue
		}
		m.EndSpeed = math.Min(m.Feedrate, nextStart)
		reachable := math.Sqrt(m.EndSpeed*m.EndSpeed + 2*m.Acceleration*m.Length)
		start := math.Min(math.Min(m.MaxJunction, m.Feedrate), reachable)
		if m.StartFixed {
			start = m.StartSpeed
		} else {
			m.StartSpeed = start
		}
		nextStart = start
	}

	// Forward pass: cap every exit speed at what the entry speed can
	// reach, and carry it into the successor for exact continuity.
	prevEnd := -1.0
	for i := 0; i < n; i++ {
		m := p.queue.At(i)
		if m.Action == ActionWait || m.Action == ActionWarmup {
			prevEnd = 0
			continue
		}
		if prevEnd >= 0 && !m.StartFixed {
			m.StartSpeed = math.Min(m.StartSpeed, prevEnd)
		}
		reachable := math.Sqrt(m.StartSpeed*m.StartSpeed + 2*m.Acceleration*m.Length)
		if m.EndSpeed > reachable {
			m.EndSpeed = reachable
		}
		prevEnd = m.EndSpeed
	}
}

// PendingAt exposes the i-th queued entry for inspection. The pointer stays
// owned by the planner; callers must not retain it.
func (p *Planner) PendingAt(i int) *Move {
	return p.queue.At(i)
}
