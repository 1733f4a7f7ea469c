// CoreXY family kinematics: two motors drive linear combinations of two
// cartesian axes.
package kinematics

import (
	"printmotion/pkg/axis"
)

// CoreVariant selects which pair of cartesian axes the A/B belts couple.
type CoreVariant int

const (
	// CoreXY: motor A = x + y, motor B = x - y.
	CoreXY CoreVariant = iota
	// CoreYX: motor A = y + x, motor B = y - x.
	CoreYX
	// CoreXZ: motor A = x + z, motor B = x - z.
	CoreXZ
)

// Core implements the CoreXY/YX/XZ belt couplings. The two coupled motors
// live on the axis slots of the cartesian axes they replace; all other axes
// map directly.
type Core struct {
	variant    CoreVariant
	resolution StepsPerMM
	first      int // cartesian axis feeding the + combination
	second     int // cartesian axis feeding the - combination
}

// NewCore creates a core kinematics instance for the given variant.
func NewCore(variant CoreVariant, resolution StepsPerMM) *Core {
	c := &Core{variant: variant, resolution: resolution}
	switch variant {
	case CoreYX:
		c.first, c.second = axis.Y, axis.X
	case CoreXZ:
		c.first, c.second = axis.X, axis.Z
	default:
		c.first, c.second = axis.X, axis.Y
	}
	return c
}

// Name returns the geometry name.
func (c *Core) Name() string {
	switch c.variant {
	case CoreYX:
		return "coreyx"
	case CoreXZ:
		return "corexz"
	}
	return "corexy"
}

// Transform converts cartesian millimeters into belt motor steps.
func (c *Core) Transform(cart axis.Vector, motor *axis.Steps) {
	for i := 0; i < axis.Count; i++ {
		switch i {
		case c.first:
			motor[i] = roundSteps(cart[c.first]+cart[c.second], c.resolution[i])
		case c.second:
			motor[i] = roundSteps(cart[c.first]-cart[c.second], c.resolution[i])
		default:
			motor[i] = roundSteps(cart[i], c.resolution[i])
		}
	}
}

// CartesianFrom inverts the belt coupling: first = (A+B)/2, second = (A-B)/2.
func (c *Core) CartesianFrom(motor axis.Steps) axis.Vector {
	var v axis.Vector
	for i := 0; i < axis.Count; i++ {
		v[i] = float64(motor[i]) / c.resolution[i]
	}
	a, b := v[c.first], v[c.second]
	v[c.first] = 0.5 * (a + b)
	v[c.second] = 0.5 * (a - b)
	return v
}

// InvolvedMotors couples the two belt motors: moving either coupled axis
// spins both.
func (c *Core) InvolvedMotors(used axis.Mask) axis.Mask {
	pair := axis.Bits[c.first] | axis.Bits[c.second]
	if used&pair != 0 {
		used |= pair
	}
	return used
}
