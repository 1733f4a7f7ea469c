// Default tool intensity model.
package motion

import "math"

// ScaledTool computes the secondary output the way a speed-coupled laser
// does: while the secondary function is active the intensity follows the
// instantaneous feedrate, otherwise the programmed base value applies.
type ScaledTool struct{}

// Intensity implements segment.Tool.
func (ScaledTool) Intensity(feedrate float64, active bool, base uint16, perMMPS float64) uint16 {
	if !active || perMMPS <= 0 {
		return base
	}
	v := math.Round(feedrate * perMMPS)
	if v < 0 {
		return 0
	}
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}
