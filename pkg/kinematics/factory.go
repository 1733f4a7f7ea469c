// Factory for creating kinematics instances from the machine config.
package kinematics

import (
	"printmotion/pkg/axis"
	"printmotion/pkg/config"
	"printmotion/pkg/moterr"
)

// NewFromConfig creates the kinematics instance selected by the config.
func NewFromConfig(cfg *config.Config) (Kinematics, error) {
	var resolution StepsPerMM
	for i := 0; i < axis.Count; i++ {
		resolution[i] = cfg.Axes[i].StepsPerMM
	}

	switch cfg.Kinematics {
	case "cartesian":
		return NewCartesian(resolution), nil
	case "corexy":
		return NewCore(CoreXY, resolution), nil
	case "coreyx":
		return NewCore(CoreYX, resolution), nil
	case "corexz":
		return NewCore(CoreXZ, resolution), nil
	case "delta":
		geo := DeltaGeometry{
			Radius:       cfg.Delta.Radius,
			Diagonal:     cfg.Delta.Diagonal,
			LargeMachine: cfg.Delta.LargeMachine,
		}
		for k := 0; k < 3; k++ {
			geo.Towers[k] = DeltaTower{
				AngleDeg:      cfg.Delta.Towers[k].AngleDeg,
				RadiusOffset:  cfg.Delta.Towers[k].RadiusOffset,
				DiagonalDelta: cfg.Delta.Towers[k].DiagonalDelta,
			}
		}
		return NewDelta(geo, resolution)
	default:
		return nil, moterr.New(moterr.CodeKinematics, "unsupported kinematics type %q", cfg.Kinematics)
	}
}

// SupportedTypes returns the geometry names NewFromConfig accepts.
func SupportedTypes() []string {
	return []string{"cartesian", "corexy", "coreyx", "corexz", "delta"}
}
