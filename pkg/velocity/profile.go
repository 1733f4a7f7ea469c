// Package velocity provides the profile primitive that slices each phase of
// a trapezoid into uniform time segments for the segment generator.
package velocity

import "math"

// Profile walks one phase of a velocity trapezoid in fixed steps of
// dt = 1/prepareFrequency. Start begins a phase and computes the first
// segment; Next advances one segment. Both report true when the phase is
// exhausted.
//
// After each call, S is the arc length covered since the phase began, F the
// instantaneous feedrate, and StepsPerSegment the number of step-ISR ticks
// the segment represents on the representative axis.
type Profile struct {
	// S is the distance covered from the start of the phase (mm).
	S float64
	// F is the current feedrate (mm/s).
	F float64
	// StepsPerSegment is the ISR tick count for the current segment.
	StepsPerSegment uint32

	dt         float64
	stepsPerMM float64

	segments int
	accel    float64
}

// New creates a profile with the given segment duration and the steps-per-mm
// of the representative axis used to convert feedrate into ISR ticks.
func New(dt, stepsPerMM float64) *Profile {
	return &Profile{dt: dt, stepsPerMM: stepsPerMM}
}

// Dt returns the segment duration.
func (p *Profile) Dt() float64 {
	return p.dt
}

// SegmentsLeft returns the number of segments still to emit in this phase.
func (p *Profile) SegmentsLeft() int {
	return p.segments
}

// Start begins a phase running from speed v0 to v1 over duration t and
// computes the first segment. It returns true when the phase is already
// complete (empty phase or single segment).
func (p *Profile) Start(v0, v1, t float64) bool {
	if t <= 0 {
		p.segments = 0
		p.S = 0
		p.F = v1
		p.StepsPerSegment = 0
		return true
	}
	// The epsilon keeps an exact multiple of dt from picking up a stray
	// empty segment through float division.
	p.segments = int(math.Ceil(t/p.dt - 1e-9))
	p.accel = (v1 - v0) / t
	p.F = v0
	p.S = 0
	if p.segments == 0 {
		p.StepsPerSegment = 0
		return true
	}
	return p.Next()
}

// Next advances the phase by one segment. It returns true when this was the
// final segment of the phase.
func (p *Profile) Next() bool {
	fPrev := p.F
	p.F += p.accel * p.dt
	p.S += fPrev*p.dt + 0.5*p.accel*p.dt*p.dt
	p.StepsPerSegment = uint32(math.Round(p.F * p.dt * p.stepsPerMM))
	p.segments--
	return p.segments <= 0
}
