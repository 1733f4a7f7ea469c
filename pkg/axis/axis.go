// Package axis defines the axis indexing, bitmask, and vector types shared
// by all stages of the motion pipeline.
package axis

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Count is the number of logical axes in this build. The first three are
// cartesian X/Y/Z, index E is the extruder, the remainder are secondary axes
// (delta towers or additional extruders).
const Count = 5

// Well-known axis indices.
const (
	X = 0
	Y = 1
	Z = 2
	E = 3
	A = 4
)

// Names maps axis indices to their single-letter names.
var Names = [Count]byte{'X', 'Y', 'Z', 'E', 'A'}

// Mask selects a set of axes. Bit i corresponds to axis i.
type Mask uint8

// Bits[i] is the mask with only axis i set.
var Bits [Count]Mask

func init() {
	for i := 0; i < Count; i++ {
		Bits[i] = 1 << uint(i)
	}
}

// Has reports whether axis i is in the mask.
func (m Mask) Has(i int) bool {
	return m&Bits[i] != 0
}

// Set returns the mask with axis i added.
func (m Mask) Set(i int) Mask {
	return m | Bits[i]
}

// Clear returns the mask with axis i removed.
func (m Mask) Clear(i int) Mask {
	return m &^ Bits[i]
}

// XYZ is the mask of the three cartesian axes.
const XYZ = Mask(1<<X | 1<<Y | 1<<Z)

// Vector is a per-axis tuple of float values (positions in mm, speeds in
// mm/s, or motor-space steps depending on context).
type Vector [Count]float64

// Steps is a per-axis tuple of integer motor positions or step counts.
type Steps [Count]int32

// Sub returns v - o.
func (v Vector) Sub(o Vector) Vector {
	var r Vector
	for i := range v {
		r[i] = v[i] - o[i]
	}
	return r
}

// Add returns v + o.
func (v Vector) Add(o Vector) Vector {
	var r Vector
	for i := range v {
		r[i] = v[i] + o[i]
	}
	return r
}

// Scale returns v scaled by f.
func (v Vector) Scale(f float64) Vector {
	var r Vector
	floats.ScaleTo(r[:], f, v[:])
	return r
}

// Dot returns the inner product of v and o over all axes.
func (v Vector) Dot(o Vector) float64 {
	return floats.Dot(v[:], o[:])
}

// Norm returns the Euclidean length of v over all axes.
func (v Vector) Norm() float64 {
	return floats.Norm(v[:], 2)
}

// CartesianNorm returns the Euclidean length over X/Y/Z only. Extruder-only
// moves have zero cartesian length but a nonzero E distance.
func (v Vector) CartesianNorm() float64 {
	return math.Sqrt(v[X]*v[X] + v[Y]*v[Y] + v[Z]*v[Z])
}

// MaxAbs returns the largest absolute component.
func (v Vector) MaxAbs() float64 {
	m := 0.0
	for i := range v {
		if a := math.Abs(v[i]); a > m {
			m = a
		}
	}
	return m
}
