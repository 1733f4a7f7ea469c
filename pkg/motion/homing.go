// Homing and probing sequences built on the endstop modes.
package motion

import (
	"go.uber.org/zap"

	"printmotion/pkg/axis"
	"printmotion/pkg/endstop"
	"printmotion/pkg/moterr"
)

const (
	// homingRetract is the back-off distance between the fast and slow
	// homing passes, in mm.
	homingRetract = 3.0
	// slowHomingDivisor reduces the feedrate for the second pass.
	slowHomingDivisor = 4.0
	// homingTickBudget bounds the simulated pipeline work per pass.
	homingTickBudget = 10_000_000
)

// HomeAxes homes every axis in the mask, one at a time in X, Y, Z order.
// Each axis runs a fast approach into its endstop, retracts, and re-probes
// slowly; the axis position is then declared at its configured end.
func (s *System) HomeAxes(mask axis.Mask) error {
	for ax := 0; ax < 3; ax++ {
		if !mask.Has(ax) {
			continue
		}
		if err := s.homeAxis(ax); err != nil {
			return err
		}
	}
	return nil
}

func (s *System) homeAxis(ax int) error {
	a := s.cfg.Axes[ax]
	spm := a.StepsPerMM
	span := a.MaxPos - a.MinPos

	fastTravel := int32((span*1.5 + 2*homingRetract) * spm)
	if a.HomeDir < 0 {
		fastTravel = -fastTravel
	}

	// Fast pass into the switch.
	s.Endstops.SetMode(endstop.ModeStopAtAnyHit, axis.Bits[ax])
	var delta axis.Steps
	delta[ax] = fastTravel
	if err := s.Planner.QueueSteps(delta, a.HomingFeedrate, true); err != nil {
		return err
	}
	if err := s.RunUntilIdle(homingTickBudget); err != nil {
		return err
	}
	if !s.Endstops.Hit() {
		s.Endstops.SetMode(endstop.ModeNone, 0)
		return moterr.NewAxis(moterr.CodeProbeNoTrigger, ax, "homing move finished without endstop hit")
	}

	// Retract off the switch without endstop checks.
	s.Endstops.SetMode(endstop.ModeNone, 0)
	retract := int32(homingRetract * spm)
	if a.HomeDir > 0 {
		retract = -retract
	}
	delta = axis.Steps{}
	delta[ax] = retract
	if err := s.Planner.QueueSteps(delta, a.HomingFeedrate, false); err != nil {
		return err
	}
	if err := s.RunUntilIdle(homingTickBudget); err != nil {
		return err
	}

	// Slow pass for a repeatable trigger position.
	s.Endstops.SetMode(endstop.ModeStopAtAnyHit, axis.Bits[ax])
	delta = axis.Steps{}
	delta[ax] = -2 * retract
	if err := s.Planner.QueueSteps(delta, a.HomingFeedrate/slowHomingDivisor, true); err != nil {
		return err
	}
	if err := s.RunUntilIdle(homingTickBudget); err != nil {
		return err
	}
	hit := s.Endstops.Hit()
	s.Endstops.SetMode(endstop.ModeNone, 0)
	if !hit {
		return moterr.NewAxis(moterr.CodeProbeNoTrigger, ax, "slow homing pass finished without endstop hit")
	}

	// The carriage now rests at the switch; declare the configured end
	// position.
	pos := s.Planner.CurrentPosition()
	if a.HomeDir < 0 {
		pos[ax] = a.MinPos
	} else {
		pos[ax] = a.MaxPos
	}
	s.SetPosition(pos)
	s.setHomed(ax, true)
	s.log.Info("axis homed",
		zap.Int("axis", ax),
		zap.Float64("position", pos[ax]))
	return nil
}

// Probe lowers Z by at most maxDrop at the given feedrate until the probe
// triggers, and returns the cartesian Z at the trigger. The logical position
// is re-synchronized to the latched motor position. Without a trigger the
// homed flags stay untouched and CodeProbeNoTrigger is returned.
func (s *System) Probe(maxDrop, feedrate float64) (float64, error) {
	s.Endstops.SetMode(endstop.ModeProbing, axis.Bits[axis.Z])
	defer s.Endstops.SetMode(endstop.ModeNone, 0)

	target := s.Planner.CurrentPosition()
	target[axis.Z] -= maxDrop

	s.Planner.SetBoundsOverride(true)
	err := s.Planner.QueueMoveChecked(target, feedrate, false, true)
	s.Planner.SetBoundsOverride(false)
	if err != nil {
		return 0, err
	}
	if err := s.RunUntilIdle(homingTickBudget); err != nil {
		return 0, err
	}

	probePos, ok := s.Endstops.ProbePosition()
	if !ok {
		return 0, moterr.ProbeNoTrigger()
	}

	// Re-anchor the logical position at the trigger point.
	cart := s.kin.CartesianFrom(probePos)
	s.SetPosition(cart)
	return cart[axis.Z], nil
}
