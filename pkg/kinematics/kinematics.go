// Package kinematics provides the transforms between cartesian positions and
// motor-space step positions for the supported printer geometries.
package kinematics

import (
	"printmotion/pkg/axis"
)

// Kinematics is the capability set the segment generator needs from a
// printer geometry: the forward transform into motor steps, the inverse for
// endstop-hit reporting, and the mapping from cartesian axes to the motors
// they drive.
type Kinematics interface {
	// Name returns the geometry name (e.g. "cartesian", "corexy", "delta").
	Name() string

	// Transform converts a cartesian position (mm) into motor positions
	// (steps), writing all axes of motor.
	Transform(cart axis.Vector, motor *axis.Steps)

	// CartesianFrom converts motor positions back into cartesian
	// millimeters. Only used when reporting positions after an endstop
	// hit, so it may be slower than Transform.
	CartesianFrom(motor axis.Steps) axis.Vector

	// InvolvedMotors expands a mask of moving cartesian axes into the mask
	// of motors that must be energized to execute the move.
	InvolvedMotors(used axis.Mask) axis.Mask
}

// StepsPerMM is the per-axis resolution shared by all geometries.
type StepsPerMM [axis.Count]float64

// roundSteps converts a millimeter position to the nearest step.
func roundSteps(mm, stepsPerMM float64) int32 {
	if mm >= 0 {
		return int32(mm*stepsPerMM + 0.5)
	}
	return int32(mm*stepsPerMM - 0.5)
}
