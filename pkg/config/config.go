// Package config loads and validates the machine description consumed by the
// motion pipeline. The file format is YAML; values are read once at startup
// and may be swapped atomically between moves.
package config

import (
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"printmotion/pkg/axis"
	"printmotion/pkg/moterr"
)

// AxisConfig holds the per-axis motion limits and geometry.
type AxisConfig struct {
	StepsPerMM      float64 `yaml:"steps_per_mm"`
	MaxFeedrate     float64 `yaml:"max_feedrate"`     // mm/s
	MaxAcceleration float64 `yaml:"max_acceleration"` // mm/s^2, printing moves
	MaxTravelAccel  float64 `yaml:"max_travel_accel"` // mm/s^2, non-extruding moves
	HomingFeedrate  float64 `yaml:"homing_feedrate"`  // mm/s
	MaxYank         float64 `yaml:"max_yank"`         // mm/s junction jerk allowance
	MinPos          float64 `yaml:"min_pos"`
	MaxPos          float64 `yaml:"max_pos"`
	HomeDir         int     `yaml:"home_dir"` // -1 toward min, +1 toward max
	Backlash        float64 `yaml:"backlash"` // mm
}

// TowerConfig holds the per-tower corrections of a delta machine.
type TowerConfig struct {
	AngleDeg      float64 `yaml:"angle"`
	RadiusOffset  float64 `yaml:"radius_offset"`
	DiagonalDelta float64 `yaml:"diagonal_delta"`
}

// DeltaConfig holds the delta geometry.
type DeltaConfig struct {
	Radius       float64        `yaml:"radius"`
	Diagonal     float64        `yaml:"diagonal"`
	Towers       [3]TowerConfig `yaml:"towers"`
	LargeMachine bool           `yaml:"large_machine"`
}

// Config is the complete machine description.
type Config struct {
	Kinematics string `yaml:"kinematics"` // cartesian, corexy, coreyx, corexz, delta

	Axes [axis.Count]AxisConfig `yaml:"axes"`

	PrepareFrequency float64 `yaml:"prepare_frequency"`  // Hz, segment generator tick
	StepFrequencyMax float64 `yaml:"step_frequency_max"` // Hz, upper step rate before doubling

	Delta DeltaConfig `yaml:"delta"`

	PressureAdvance float64 `yaml:"pressure_advance"` // extruder steps per mm/s
	ExtruderCount   int     `yaml:"extruder_count"`

	MoveQueueDepth    int `yaml:"move_queue_depth"`
	SegmentQueueDepth int `yaml:"segment_queue_depth"`
	StepQueueDepth    int `yaml:"step_queue_depth"`
}

// Default returns a config with the values used when a field is absent.
func Default() Config {
	c := Config{
		Kinematics:        "cartesian",
		PrepareFrequency:  1000,
		StepFrequencyMax:  160000,
		ExtruderCount:     1,
		MoveQueueDepth:    16,
		SegmentQueueDepth: 16,
		StepQueueDepth:    32,
	}
	for i := range c.Axes {
		c.Axes[i] = AxisConfig{
			StepsPerMM:      80,
			MaxFeedrate:     200,
			MaxAcceleration: 1000,
			MaxTravelAccel:  2000,
			HomingFeedrate:  20,
			MaxYank:         10,
			MinPos:          0,
			MaxPos:          200,
			HomeDir:         -1,
		}
	}
	// The extruder has no positional bounds.
	c.Axes[axis.E].MinPos = -1e9
	c.Axes[axis.E].MaxPos = 1e9
	c.Delta = DeltaConfig{
		Radius:   100,
		Diagonal: 250,
		Towers: [3]TowerConfig{
			{AngleDeg: 210},
			{AngleDeg: 330},
			{AngleDeg: 90},
		},
	}
	return c
}

// Load decodes a config from r on top of the defaults and validates it.
func Load(r io.Reader) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&c); err != nil && err != io.EOF {
		return c, moterr.Wrap(err, moterr.CodeConfig, "decode machine config")
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// LoadFile loads a config from the file at path.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Default(), moterr.Wrap(err, moterr.CodeConfig, "open machine config")
	}
	defer f.Close()
	return Load(f)
}

// Validate checks the config for values the pipeline cannot operate with.
func (c *Config) Validate() error {
	switch c.Kinematics {
	case "cartesian", "corexy", "coreyx", "corexz", "delta":
	default:
		return moterr.New(moterr.CodeConfig, "unknown kinematics %q", c.Kinematics)
	}
	for i, a := range c.Axes {
		if a.StepsPerMM <= 0 {
			return moterr.NewAxis(moterr.CodeConfig, i, "steps_per_mm must be positive, got %g", a.StepsPerMM)
		}
		if a.MaxFeedrate <= 0 {
			return moterr.NewAxis(moterr.CodeConfig, i, "max_feedrate must be positive, got %g", a.MaxFeedrate)
		}
		if a.MaxAcceleration <= 0 {
			return moterr.NewAxis(moterr.CodeConfig, i, "max_acceleration must be positive, got %g", a.MaxAcceleration)
		}
		if a.MaxPos < a.MinPos {
			return moterr.NewAxis(moterr.CodeConfig, i, "max_pos %g below min_pos %g", a.MaxPos, a.MinPos)
		}
		if a.HomeDir != -1 && a.HomeDir != 1 {
			return moterr.NewAxis(moterr.CodeConfig, i, "home_dir must be -1 or 1, got %d", a.HomeDir)
		}
	}
	if c.PrepareFrequency <= 0 {
		return moterr.New(moterr.CodeConfig, "prepare_frequency must be positive, got %g", c.PrepareFrequency)
	}
	if c.StepFrequencyMax <= 0 {
		return moterr.New(moterr.CodeConfig, "step_frequency_max must be positive, got %g", c.StepFrequencyMax)
	}
	if c.Kinematics == "delta" {
		if c.Delta.Radius <= 0 {
			return moterr.New(moterr.CodeConfig, "delta radius must be positive, got %g", c.Delta.Radius)
		}
		if c.Delta.Diagonal <= c.Delta.Radius {
			return moterr.New(moterr.CodeConfig, "delta diagonal %g must exceed radius %g", c.Delta.Diagonal, c.Delta.Radius)
		}
	}
	for _, depth := range []int{c.MoveQueueDepth, c.SegmentQueueDepth, c.StepQueueDepth} {
		if depth <= 0 || depth&(depth-1) != 0 {
			return moterr.New(moterr.CodeConfig, "queue depths must be powers of two, got %d", depth)
		}
	}
	return nil
}

// TravelAccel returns the acceleration limit for axis i depending on whether
// the move extrudes.
func (c *Config) TravelAccel(i int, extruding bool) float64 {
	a := c.Axes[i]
	if extruding || a.MaxTravelAccel <= 0 {
		return a.MaxAcceleration
	}
	return a.MaxTravelAccel
}
