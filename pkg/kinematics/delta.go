// Linear delta kinematics: three vertical carriages drive the effector
// through fixed-length diagonal rods.
package kinematics

import (
	"math"

	"printmotion/pkg/axis"
	"printmotion/pkg/moterr"
)

// DeltaTower describes one tower of a delta machine.
type DeltaTower struct {
	// AngleDeg is the tower angle on the build plane, in degrees.
	AngleDeg float64
	// RadiusOffset corrects this tower's distance from center, in mm.
	RadiusOffset float64
	// DiagonalDelta corrects this tower's rod length, in mm.
	DiagonalDelta float64
}

// DeltaGeometry describes the full delta machine geometry.
type DeltaGeometry struct {
	// Radius is the horizontal distance from center to each tower, in mm.
	Radius float64
	// Diagonal is the rod length, in mm.
	Diagonal float64
	// Towers carries the per-tower corrections for towers A, B, C.
	Towers [3]DeltaTower
	// LargeMachine is accepted for configuration compatibility. The Go
	// implementation always computes in float64, so it has no effect.
	LargeMachine bool
}

// Delta implements linear delta kinematics. The three carriage motors occupy
// the X, Y, and Z axis slots; the extruder and any further axes map directly.
type Delta struct {
	resolution StepsPerMM

	towerX [3]float64 // tower column positions on the build plane
	towerY [3]float64
	diag2  [3]float64 // squared rod length per tower
}

// NewDelta creates a delta kinematics instance from the geometry.
func NewDelta(geo DeltaGeometry, resolution StepsPerMM) (*Delta, error) {
	if geo.Radius <= 0 {
		return nil, moterr.New(moterr.CodeKinematics, "delta radius must be positive, got %g", geo.Radius)
	}
	d := &Delta{resolution: resolution}
	for k := 0; k < 3; k++ {
		t := geo.Towers[k]
		r := geo.Radius + t.RadiusOffset
		rad := t.AngleDeg * math.Pi / 180.0
		d.towerX[k] = math.Cos(rad) * r
		d.towerY[k] = math.Sin(rad) * r
		diag := geo.Diagonal + t.DiagonalDelta
		if diag <= r {
			return nil, moterr.New(moterr.CodeKinematics, "tower %d diagonal %g must exceed radius %g", k, diag, r)
		}
		d.diag2[k] = diag * diag
	}
	return d, nil
}

// Name returns the geometry name.
func (d *Delta) Name() string {
	return "delta"
}

// Transform converts cartesian millimeters into carriage steps. Carriage
// height for tower k is z + sqrt(L_k^2 - (x-xT_k)^2 - (y-yT_k)^2), scaled by
// the Z-axis resolution.
func (d *Delta) Transform(cart axis.Vector, motor *axis.Steps) {
	x, y, z := cart[axis.X], cart[axis.Y], cart[axis.Z]
	for k := 0; k < 3; k++ {
		dx := x - d.towerX[k]
		dy := y - d.towerY[k]
		opp := d.diag2[k] - dx*dx - dy*dy
		if opp < 0 {
			opp = 0 // effector outside reachable area, clamp to rod horizontal
		}
		carriage := z + math.Sqrt(opp)
		motor[k] = roundSteps(carriage, d.resolution[axis.Z])
	}
	for i := 3; i < axis.Count; i++ {
		motor[i] = roundSteps(cart[i], d.resolution[i])
	}
}

// CartesianFrom recovers the effector position from the carriage heights by
// intersecting the three rod spheres.
func (d *Delta) CartesianFrom(motor axis.Steps) axis.Vector {
	var carriage [3]float64
	for k := 0; k < 3; k++ {
		carriage[k] = float64(motor[k]) / d.resolution[axis.Z]
	}

	// Sphere centers are the carriage positions; radius is the rod length.
	s1 := [3]float64{d.towerX[0], d.towerY[0], carriage[0]}
	s2 := [3]float64{d.towerX[1], d.towerY[1], carriage[1]}
	s3 := [3]float64{d.towerX[2], d.towerY[2], carriage[2]}

	s21 := [3]float64{s2[0] - s1[0], s2[1] - s1[1], s2[2] - s1[2]}
	s31 := [3]float64{s3[0] - s1[0], s3[1] - s1[1], s3[2] - s1[2]}

	dist := math.Sqrt(s21[0]*s21[0] + s21[1]*s21[1] + s21[2]*s21[2])
	ex := [3]float64{s21[0] / dist, s21[1] / dist, s21[2] / dist}

	i := ex[0]*s31[0] + ex[1]*s31[1] + ex[2]*s31[2]
	vey := [3]float64{s31[0] - ex[0]*i, s31[1] - ex[1]*i, s31[2] - ex[2]*i}
	eyMag := math.Sqrt(vey[0]*vey[0] + vey[1]*vey[1] + vey[2]*vey[2])
	ey := [3]float64{vey[0] / eyMag, vey[1] / eyMag, vey[2] / eyMag}

	ez := [3]float64{
		ex[1]*ey[2] - ex[2]*ey[1],
		ex[2]*ey[0] - ex[0]*ey[2],
		ex[0]*ey[1] - ex[1]*ey[0],
	}

	j := ey[0]*s31[0] + ey[1]*s31[1] + ey[2]*s31[2]

	px := (d.diag2[0] - d.diag2[1] + dist*dist) / (2.0 * dist)
	py := (d.diag2[0] - d.diag2[2] - px*px + (px-i)*(px-i) + j*j) / (2.0 * j)
	pz := -math.Sqrt(math.Max(d.diag2[0]-px*px-py*py, 0))

	var v axis.Vector
	v[axis.X] = s1[0] + ex[0]*px + ey[0]*py + ez[0]*pz
	v[axis.Y] = s1[1] + ex[1]*px + ey[1]*py + ez[1]*pz
	v[axis.Z] = s1[2] + ex[2]*px + ey[2]*py + ez[2]*pz
	for i := 3; i < axis.Count; i++ {
		v[i] = float64(motor[i]) / d.resolution[i]
	}
	return v
}

// InvolvedMotors couples all three towers whenever any cartesian axis moves.
func (d *Delta) InvolvedMotors(used axis.Mask) axis.Mask {
	if used&axis.XYZ != 0 {
		used |= axis.XYZ
	}
	return used
}
