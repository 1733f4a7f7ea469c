package motion

import (
	"math"
	"testing"

	"printmotion/pkg/axis"
	"printmotion/pkg/config"
	"printmotion/pkg/endstop"
	"printmotion/pkg/hal"
	"printmotion/pkg/moterr"
)

const tickBudget = 10_000_000

func newSystem(t *testing.T, mutate func(*config.Config)) (*System, *hal.Simulator) {
	t.Helper()
	cfg := config.Default()
	for i := range cfg.Axes {
		cfg.Axes[i].MaxYank = 20
		cfg.Axes[i].MaxAcceleration = 1000
		cfg.Axes[i].MaxTravelAccel = 1000
	}
	if mutate != nil {
		mutate(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	sim := hal.NewSimulator()
	s, err := New(&cfg, sim, sim, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sim.OnEndstop = s.EndstopTriggered
	return s, sim
}

func drain(t *testing.T, s *System) {
	t.Helper()
	if err := s.RunUntilIdle(tickBudget); err != nil {
		t.Fatalf("RunUntilIdle: %v", err)
	}
}

// runUntilSliceActive pumps prepare and step ticks until the pulser holds a
// partially executed slice, so an endstop signal meets a running move.
func runUntilSliceActive(t *testing.T, s *System) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		s.PrepTick()
		s.StepTick()
		if s.pulse.Current() != nil {
			return
		}
	}
	t.Fatal("no slice became active")
}

// Step conservation: a 10 mm X move at 80 steps/mm lands exactly 800 steps.
func TestStraightMoveStepConservation(t *testing.T) {
	s, sim := newSystem(t, nil)

	if err := s.QueueMove(axis.Vector{10, 0, 0, 0, 0}, 60); err != nil {
		t.Fatalf("QueueMove: %v", err)
	}
	drain(t, s)

	if got := sim.Position(axis.X); got != 800 {
		t.Errorf("X motor = %d, want 800", got)
	}
	for _, ax := range []int{axis.Y, axis.Z, axis.E} {
		if got := sim.Position(ax); got != 0 {
			t.Errorf("axis %d motor = %d, want 0", ax, got)
		}
	}
}

func TestDiagonalMoveStepConservation(t *testing.T) {
	s, sim := newSystem(t, nil)

	if err := s.QueueMove(axis.Vector{10, 5, 2, 1, 0}, 60); err != nil {
		t.Fatalf("QueueMove: %v", err)
	}
	drain(t, s)

	want := map[int]int32{axis.X: 800, axis.Y: 400, axis.Z: 160, axis.E: 80}
	for ax, w := range want {
		if got := sim.Position(ax); got != w {
			t.Errorf("axis %d motor = %d, want %d", ax, got, w)
		}
	}
}

// A move chain with a reversal must not lose steps.
func TestReversalStepConservation(t *testing.T) {
	s, sim := newSystem(t, nil)

	if err := s.QueueMove(axis.Vector{10, 0, 0, 0, 0}, 60); err != nil {
		t.Fatalf("QueueMove out: %v", err)
	}
	if err := s.QueueMove(axis.Vector{0, 0, 0, 0, 0}, 60); err != nil {
		t.Fatalf("QueueMove back: %v", err)
	}
	drain(t, s)

	if got := sim.Position(axis.X); got != 0 {
		t.Errorf("X motor = %d, want 0", got)
	}
	if got := sim.StepCount(axis.X); got != 1600 {
		t.Errorf("X pulses = %d, want 1600", got)
	}
}

// Round-trip: per-axis unit moves land exactly on the transformed targets.
func TestRoundTripPerAxis(t *testing.T) {
	s, sim := newSystem(t, nil)

	start := axis.Vector{50, 50, 10, 0, 0}
	s.SetPosition(start)
	base := sim.Positions()

	pos := start
	for _, ax := range []int{axis.X, axis.Y, axis.Z, axis.E} {
		pos[ax] += 2.5
		if err := s.QueueMove(pos, 40); err != nil {
			t.Fatalf("QueueMove axis %d: %v", ax, err)
		}
		drain(t, s)
	}

	var wantMotor axis.Steps
	s.Kinematics().Transform(pos, &wantMotor)
	var startMotor axis.Steps
	s.Kinematics().Transform(start, &startMotor)

	for ax := 0; ax < axis.Count; ax++ {
		gotDelta := sim.Position(ax) - base[ax]
		wantDelta := wantMotor[ax] - startMotor[ax]
		if gotDelta != wantDelta {
			t.Errorf("axis %d: motor delta = %d, want %d", ax, gotDelta, wantDelta)
		}
	}

	if got := s.MotorPosition(); got != wantMotor {
		t.Errorf("published motor position = %v, want %v", got, wantMotor)
	}
}

// S6: a delta machine moving +1 mm in Z steps all towers equally, anywhere
// on the bed.
func TestDeltaPureZEqualSteps(t *testing.T) {
	for _, xy := range [][2]float64{{0, 0}, {30, -20}} {
		s, sim := newSystem(t, func(c *config.Config) {
			c.Kinematics = "delta"
			for i := range c.Axes {
				c.Axes[i].MinPos = -100
				c.Axes[i].MaxPos = 300
			}
		})

		start := axis.Vector{xy[0], xy[1], 20, 0, 0}
		s.SetPosition(start)
		before := sim.Positions()

		target := start
		target[axis.Z] += 1
		if err := s.QueueMove(target, 30); err != nil {
			t.Fatalf("QueueMove: %v", err)
		}
		drain(t, s)

		for k := 0; k < 3; k++ {
			delta := sim.Position(k) - before[k]
			if delta != 80 {
				t.Errorf("xy=%v tower %d: delta = %d, want 80", xy, k, delta)
			}
		}
	}
}

func TestCoreXYPipelineSteps(t *testing.T) {
	s, sim := newSystem(t, func(c *config.Config) {
		c.Kinematics = "corexy"
	})

	if err := s.QueueMove(axis.Vector{5, 3, 0, 0, 0}, 50); err != nil {
		t.Fatalf("QueueMove: %v", err)
	}
	drain(t, s)

	// A = x + y = 8 mm, B = x - y = 2 mm at 80 steps/mm.
	if got := sim.Position(axis.X); got != 640 {
		t.Errorf("motor A = %d, want 640", got)
	}
	if got := sim.Position(axis.Y); got != 160 {
		t.Errorf("motor B = %d, want 160", got)
	}
}

// S5: an endstop trigger during a homing step-move aborts within a slice,
// snapshots the remaining steps, and unhomes the axis.
func TestEndstopDuringHomingMove(t *testing.T) {
	s, sim := newSystem(t, nil)

	// Switch 500 steps into the -X travel; the move wants 1600.
	sim.PlaceEndstop(axis.X, -500, false)
	s.Endstops.SetMode(endstop.ModeStopAtAnyHit, axis.Bits[axis.X])

	if err := s.Planner.QueueSteps(axis.Steps{-1600, 0, 0, 0, 0}, 20, true); err != nil {
		t.Fatalf("QueueSteps: %v", err)
	}
	drain(t, s)

	if !s.Endstops.Hit() {
		t.Fatal("endstop hit not recorded")
	}
	// The move stopped at the switch rather than completing.
	got := sim.Position(axis.X)
	if got > -500+2 || got < -510 {
		t.Errorf("X motor = %d, want ~-500 (abort within a slice)", got)
	}
	remaining := s.Endstops.StepsAtHit()
	if remaining[axis.X] == 0 {
		t.Error("remaining steps snapshot should be nonzero")
	}
	// Snapshot + emitted = total commanded steps.
	emitted := -got
	if total := remaining[axis.X] + emitted; total != 1600 {
		t.Errorf("remaining %d + emitted %d = %d, want 1600", remaining[axis.X], emitted, total)
	}
	if s.Homed(axis.X) {
		t.Error("axis should be unhomed by the trigger")
	}
}

func TestStaleEndstopSignalIgnored(t *testing.T) {
	s, sim := newSystem(t, nil)

	s.Endstops.SetMode(endstop.ModeStopAtAnyHit, axis.Bits[axis.X])
	if err := s.Planner.QueueSteps(axis.Steps{800, 0, 0, 0, 0}, 20, true); err != nil {
		t.Fatalf("QueueSteps: %v", err)
	}
	// Fire the min-side switch while moving toward max: stale.
	runUntilSliceActive(t, s)
	s.EndstopTriggered(axis.X, false)
	drain(t, s)

	if got := sim.Position(axis.X); got != 800 {
		t.Errorf("X motor = %d, want 800 (stale signal must not abort)", got)
	}
}

func TestEndstopIgnoredWithoutCheckFlag(t *testing.T) {
	s, sim := newSystem(t, nil)

	if err := s.QueueMove(axis.Vector{10, 0, 0, 0, 0}, 60); err != nil {
		t.Fatalf("QueueMove: %v", err)
	}
	runUntilSliceActive(t, s)
	s.EndstopTriggered(axis.X, true)
	drain(t, s)

	if got := sim.Position(axis.X); got != 800 {
		t.Errorf("X motor = %d, want 800", got)
	}
	if err := s.Status(); err != nil {
		t.Errorf("Status = %v, want nil", err)
	}
}

func TestUnexpectedEndstopSurfacesStatus(t *testing.T) {
	s, _ := newSystem(t, nil)

	// An endstop-checked move outside any homing mode.
	if err := s.Planner.QueueMoveChecked(axis.Vector{10, 0, 0, 0, 0}, 60, true, true); err != nil {
		t.Fatalf("QueueMoveChecked: %v", err)
	}
	runUntilSliceActive(t, s)
	s.EndstopTriggered(axis.X, true)
	drain(t, s)

	err := s.Status()
	if !moterr.Is(err, moterr.CodeEndstopHit) {
		t.Errorf("Status = %v, want ENDSTOP_HIT", err)
	}
	if err := s.Status(); err != nil {
		t.Error("Status should clear after one read")
	}
}

func TestHomeAxis(t *testing.T) {
	s, sim := newSystem(t, nil)

	// The X switch sits 400 steps below the start position.
	sim.PlaceEndstop(axis.X, -400, false)

	if err := s.HomeAxes(axis.Bits[axis.X]); err != nil {
		t.Fatalf("HomeAxes: %v", err)
	}

	if !s.Homed(axis.X) {
		t.Error("X should be homed")
	}
	if got := s.CurrentPosition()[axis.X]; got != s.cfg.Axes[axis.X].MinPos {
		t.Errorf("position = %g, want %g", got, s.cfg.Axes[axis.X].MinPos)
	}
	if !s.Drained() {
		t.Error("pipeline should drain after homing")
	}
}

func TestHomingWithoutSwitchFails(t *testing.T) {
	s, _ := newSystem(t, nil)

	err := s.HomeAxes(axis.Bits[axis.Y])
	if !moterr.Is(err, moterr.CodeProbeNoTrigger) {
		t.Errorf("HomeAxes = %v, want PROBE_NO_TRIGGER", err)
	}
	if s.Homed(axis.Y) {
		t.Error("Y must not be homed after a failed pass")
	}
}

func TestProbeLatchesTriggerHeight(t *testing.T) {
	s, sim := newSystem(t, nil)

	s.SetPosition(axis.Vector{50, 50, 10, 0, 0})
	// The probe closes 400 steps (5 mm) below the current Z.
	sim.SetPosition(axis.Z, 800)
	sim.PlaceEndstop(axis.Z, 400, false)

	z, err := s.Probe(9, 5)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if math.Abs(z-5.0) > 0.2 {
		t.Errorf("probe z = %g, want ~5.0", z)
	}
	// Logical position re-anchored to the trigger point.
	if got := s.CurrentPosition()[axis.Z]; math.Abs(got-z) > 1e-9 {
		t.Errorf("position z = %g, want %g", got, z)
	}
}

func TestProbeWithoutTrigger(t *testing.T) {
	s, _ := newSystem(t, nil)

	s.SetPosition(axis.Vector{50, 50, 10, 0, 0})
	_, err := s.Probe(5, 5)
	if !moterr.Is(err, moterr.CodeProbeNoTrigger) {
		t.Errorf("Probe = %v, want PROBE_NO_TRIGGER", err)
	}
}

func TestWaitEntryPassesThrough(t *testing.T) {
	s, sim := newSystem(t, nil)

	if err := s.QueueMove(axis.Vector{1, 0, 0, 0, 0}, 60); err != nil {
		t.Fatalf("QueueMove: %v", err)
	}
	if err := s.QueueWait(5); err != nil {
		t.Fatalf("QueueWait: %v", err)
	}
	if err := s.QueueMove(axis.Vector{2, 0, 0, 0, 0}, 60); err != nil {
		t.Fatalf("QueueMove: %v", err)
	}
	drain(t, s)

	if got := sim.Position(axis.X); got != 160 {
		t.Errorf("X motor = %d, want 160", got)
	}
}

func TestKillDrainsAndDisables(t *testing.T) {
	s, sim := newSystem(t, nil)

	for i := 1; i <= 4; i++ {
		if err := s.QueueMove(axis.Vector{float64(i * 10), 0, 0, 0, 0}, 60); err != nil {
			t.Fatalf("QueueMove: %v", err)
		}
	}
	s.PrepTick()
	s.StepTick()
	s.Kill()

	if !s.Drained() {
		t.Error("pipeline should be empty after Kill")
	}
	if got := sim.Enabled(); got != 0 {
		t.Errorf("enabled motors = %b, want 0", got)
	}
	if s.Homed(axis.X) {
		t.Error("homed flags should clear on Kill")
	}
}

func TestMoveBlockingEventuallyQueues(t *testing.T) {
	s, _ := newSystem(t, func(c *config.Config) {
		c.MoveQueueDepth = 4
	})

	for i := 1; i <= 10; i++ {
		if err := s.MoveBlocking(axis.Vector{float64(i), 0, 0, 0, 0}, 60, nil); err != nil {
			t.Fatalf("MoveBlocking(%d): %v", i, err)
		}
	}
	s.WaitUntilDrained()

	if got := s.CurrentPosition()[axis.X]; got != 10 {
		t.Errorf("position = %g, want 10", got)
	}
}

func TestSecondarySpeedReachesTool(t *testing.T) {
	s, sim := newSystem(t, nil)

	s.Planner.SetSecondarySpeed(300, 0, false)
	if err := s.QueueMove(axis.Vector{5, 0, 0, 0, 0}, 60); err != nil {
		t.Fatalf("QueueMove: %v", err)
	}
	drain(t, s)

	if got := sim.Intensity(); got != 300 {
		t.Errorf("tool intensity = %d, want 300", got)
	}
}

func TestSetOriginShiftsTargets(t *testing.T) {
	s, sim := newSystem(t, nil)

	s.SetOrigin(axis.Vector{10, 0, 0, 0, 0})
	if err := s.QueueMove(axis.Vector{0, 0, 0, 0, 0}, 60); err != nil {
		t.Fatalf("QueueMove: %v", err)
	}
	drain(t, s)

	if got := sim.Position(axis.X); got != 800 {
		t.Errorf("X motor = %d, want 800", got)
	}
}

// Pressure advance adds extra E steps while accelerating and removes them
// while decelerating; the net E steps still match the commanded travel.
func TestPressureAdvanceNetNeutral(t *testing.T) {
	s, sim := newSystem(t, func(c *config.Config) {
		c.PressureAdvance = 2.0
	})

	if err := s.QueueMove(axis.Vector{20, 0, 0, 2, 0}, 60); err != nil {
		t.Fatalf("QueueMove: %v", err)
	}
	drain(t, s)

	// 2 mm of filament at 80 steps/mm.
	if got := sim.Position(axis.E); got != 160 {
		t.Errorf("E motor = %d, want 160", got)
	}
	// With advance active, more pulses than net steps were emitted.
	if got := sim.StepCount(axis.E); got <= 160 {
		t.Errorf("E pulses = %d, want > 160 (advance adds and removes steps)", got)
	}
}
