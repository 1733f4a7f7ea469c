package velocity

import (
	"math"
	"testing"
)

const dt = 0.001 // 1 kHz prepare frequency

func runPhase(p *Profile, v0, v1, t float64) (dist float64, segments int) {
	done := p.Start(v0, v1, t)
	segments = 1
	for !done {
		done = p.Next()
		segments++
	}
	return p.S, segments
}

func TestEmptyPhase(t *testing.T) {
	p := New(dt, 80)
	if !p.Start(10, 10, 0) {
		t.Fatal("zero-duration phase should complete immediately")
	}
	if p.S != 0 {
		t.Errorf("S = %g, want 0", p.S)
	}
}

func TestConstantSpeedPhaseDistance(t *testing.T) {
	p := New(dt, 80)
	// 60 mm/s for 0.5 s covers 30 mm.
	dist, segments := runPhase(p, 60, 60, 0.5)
	if math.Abs(dist-30.0) > 0.01 {
		t.Errorf("distance = %g, want 30", dist)
	}
	if segments != 500 {
		t.Errorf("segments = %d, want 500", segments)
	}
}

func TestAccelerationPhaseDistance(t *testing.T) {
	p := New(dt, 80)
	// 0 to 60 mm/s over 0.06 s: distance = (v0+v1)/2 * t = 1.8 mm.
	dist, _ := runPhase(p, 0, 60, 0.06)
	if math.Abs(dist-1.8) > 0.01 {
		t.Errorf("distance = %g, want 1.8", dist)
	}
	if math.Abs(p.F-60.0) > 1.1 {
		t.Errorf("final feedrate = %g, want ~60", p.F)
	}
}

func TestDecelerationPhase(t *testing.T) {
	p := New(dt, 80)
	dist, _ := runPhase(p, 60, 0, 0.06)
	if math.Abs(dist-1.8) > 0.01 {
		t.Errorf("distance = %g, want 1.8", dist)
	}
}

func TestArcMonotonicity(t *testing.T) {
	p := New(dt, 80)
	done := p.Start(0, 120, 0.12)
	last := p.S
	for !done {
		done = p.Next()
		if p.S < last {
			t.Fatalf("S regressed from %g to %g", last, p.S)
		}
		last = p.S
	}
}

func TestStepsPerSegmentMatchesFeedrate(t *testing.T) {
	p := New(dt, 100)
	p.Start(50, 50, 0.5)
	// 50 mm/s * 0.001 s * 100 steps/mm = 5 steps per segment.
	if p.StepsPerSegment != 5 {
		t.Errorf("StepsPerSegment = %d, want 5", p.StepsPerSegment)
	}
}

func TestPartialFinalSegment(t *testing.T) {
	p := New(dt, 80)
	// 2.5 segments worth of time rounds up to 3 segments.
	_, segments := runPhase(p, 40, 40, 0.0025)
	if segments != 3 {
		t.Errorf("segments = %d, want 3", segments)
	}
}
