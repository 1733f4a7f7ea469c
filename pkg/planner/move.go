// Move records and trapezoid profiling for the motion planner.
package planner

import (
	"math"

	"printmotion/pkg/axis"
)

// Action selects what a queued entry does.
type Action uint8

const (
	// ActionMove is a linear move in cartesian space.
	ActionMove Action = iota
	// ActionMoveSteps is a linear move in motor space, used for homing.
	ActionMoveSteps
	// ActionWait is a dwell.
	ActionWait
	// ActionWarmup is a one-tick barrier carrying a tool index and target
	// temperature; it does not wait for the tool to reach that temperature.
	ActionWarmup
)

func (a Action) String() string {
	switch a {
	case ActionMove:
		return "move"
	case ActionMoveSteps:
		return "move_steps"
	case ActionWait:
		return "wait"
	case ActionWarmup:
		return "warmup"
	default:
		return "unknown"
	}
}

// Move is one entry of the move queue. For ActionMove fields are in
// millimeters; for ActionMoveSteps in motor steps. Speeds follow the same
// unit per second.
type Move struct {
	Action Action

	Start    axis.Vector // position at move start
	UnitDir  axis.Vector // unit direction, |UnitDir| == 1 over the norm axes
	Length   float64     // Euclidean length of the move
	AxisUsed axis.Mask   // axes with nonzero delta
	AxisDir  axis.Mask   // bit set = positive travel

	Feedrate     float64 // cruise speed
	StartSpeed   float64 // entry speed after look-ahead
	EndSpeed     float64 // exit speed after look-ahead
	MaxJunction  float64 // junction cap with the preceding entry
	Acceleration float64 // peak acceleration for this move

	EAdv float64 // pressure advance coefficient, steps per mm/s

	SecondSpeed        uint16  // tool intensity base value
	SecondSpeedPerMMPS float64 // intensity scaling per mm/s of feedrate
	ActiveSecondary    bool

	CheckEndstops bool

	// StartFixed marks the entry speed as final: the predecessor has been
	// handed to the segment generator and the junction may not change.
	StartFixed bool
	// NoJunction forces successors to start from rest (path optimization
	// disabled for this entry).
	NoJunction bool

	// Dwell payload for ActionWait / ActionWarmup.
	DwellTicks uint32
	WarmupTool int
	WarmupTemp float64

	// Trapezoid profile, filled by Plan.
	T1, T2, T3 float64 // accel / cruise / decel durations, seconds
	S1, S2     float64 // accel / cruise distances
}

// Extruding reports whether the move drives the extruder alongside motion.
func (m *Move) Extruding() bool {
	return m.AxisUsed.Has(axis.E) && m.AxisUsed&axis.XYZ != 0
}

// Plan computes the trapezoid (T1,T2,T3,S1,S2) from the settled entry and
// exit speeds. When the accel and decel ramps do not fit into the length,
// the cruise feedrate is reduced to the peak the length allows.
func (m *Move) Plan() {
	if m.Action == ActionWait || m.Action == ActionWarmup {
		m.T1, m.T2, m.T3, m.S1, m.S2 = 0, 0, 0, 0, 0
		return
	}
	a := m.Acceleration
	f := m.Feedrate
	v0, v1 := m.StartSpeed, m.EndSpeed

	s1 := (f*f - v0*v0) / (2 * a)
	s3 := (f*f - v1*v1) / (2 * a)
	if s1+s3 > m.Length {
		peak := math.Sqrt(a*m.Length + 0.5*(v0*v0+v1*v1))
		if peak < v0 {
			peak = v0
		}
		if peak < v1 {
			peak = v1
		}
		f = peak
		m.Feedrate = f
		s1 = (f*f - v0*v0) / (2 * a)
		s3 = (f*f - v1*v1) / (2 * a)
		if s1 < 0 {
			s1 = 0
		}
		if s3 < 0 {
			s3 = 0
		}
	}

	m.T1 = (f - v0) / a
	m.T3 = (f - v1) / a
	m.S1 = s1
	s2 := m.Length - s1 - s3
	if s2 < 0 {
		s2 = 0
	}
	m.S2 = s2
	if f > 0 {
		m.T2 = s2 / f
	} else {
		m.T2 = 0
	}
}

const (
	// directionEpsilon is the smallest unit-direction difference that
	// counts as a direction change for junction jerk limiting.
	directionEpsilon = 1e-6
	// reversalEpsilon decides when two moves point in opposite directions.
	reversalEpsilon = 1e-5
)

// junctionSpeed returns the highest speed at which the corner between prev
// and next can be traversed. A full reversal stops; otherwise every axis
// whose direction component changes across the junction caps the speed at
// its yank allowance scaled by the larger direction component.
func junctionSpeed(prev, next *Move, maxYank *axis.Vector) float64 {
	if prev.Action != ActionMove || next.Action != ActionMove || prev.NoJunction {
		return 0
	}
	cos := prev.UnitDir.Dot(next.UnitDir)
	if cos <= -1+reversalEpsilon {
		return 0
	}
	v := math.Min(prev.Feedrate, next.Feedrate)
	for i := 0; i < axis.Count; i++ {
		change := math.Abs(next.UnitDir[i] - prev.UnitDir[i])
		if change <= directionEpsilon {
			continue
		}
		comp := math.Max(math.Abs(prev.UnitDir[i]), math.Abs(next.UnitDir[i]))
		if comp <= directionEpsilon {
			continue
		}
		if lim := maxYank[i] / comp; lim < v {
			v = lim
		}
	}
	return v
}
