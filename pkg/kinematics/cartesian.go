// Cartesian kinematics: every motor follows its own cartesian axis.
package kinematics

import (
	"printmotion/pkg/axis"
)

// Cartesian maps each cartesian axis directly to one motor. Gantry variants
// with mirrored steppers behave identically at this level.
type Cartesian struct {
	resolution StepsPerMM
}

// NewCartesian creates a cartesian kinematics instance.
func NewCartesian(resolution StepsPerMM) *Cartesian {
	return &Cartesian{resolution: resolution}
}

// Name returns the geometry name.
func (c *Cartesian) Name() string {
	return "cartesian"
}

// Transform converts cartesian millimeters to motor steps axis by axis.
func (c *Cartesian) Transform(cart axis.Vector, motor *axis.Steps) {
	for i := 0; i < axis.Count; i++ {
		motor[i] = roundSteps(cart[i], c.resolution[i])
	}
}

// CartesianFrom converts motor steps back to millimeters.
func (c *Cartesian) CartesianFrom(motor axis.Steps) axis.Vector {
	var v axis.Vector
	for i := 0; i < axis.Count; i++ {
		v[i] = float64(motor[i]) / c.resolution[i]
	}
	return v
}

// InvolvedMotors is the identity for cartesian machines.
func (c *Cartesian) InvolvedMotors(used axis.Mask) axis.Mask {
	return used
}
