package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"printmotion/pkg/axis"
	"printmotion/pkg/config"
	"printmotion/pkg/hal"
	"printmotion/pkg/motion"
)

var flagScript string

// runCmd executes a move script through the full pipeline.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "execute a move script on the simulated machine",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer logger.Sync()

		cfg := config.Default()
		if path := configPath(); path != "" {
			cfg, err = config.LoadFile(path)
			if err != nil {
				return err
			}
			logger.Info("machine config loaded",
				zap.String("path", path),
				zap.String("kinematics", cfg.Kinematics))
		}

		sim := hal.NewSimulator()
		sys, err := motion.New(&cfg, sim, sim, motion.Options{Logger: logger})
		if err != nil {
			return err
		}
		sim.OnEndstop = sys.EndstopTriggered

		var in *os.File
		if flagScript == "" || flagScript == "-" {
			in = os.Stdin
		} else {
			in, err = os.Open(flagScript)
			if err != nil {
				return err
			}
			defer in.Close()
		}

		if err := execScript(sys, in, logger); err != nil {
			return err
		}
		sys.WaitUntilDrained()

		pos := sys.CurrentPosition()
		motor := sys.MotorPosition()
		fmt.Printf("final position: X=%.3f Y=%.3f Z=%.3f E=%.3f\n",
			pos[axis.X], pos[axis.Y], pos[axis.Z], pos[axis.E])
		for i := 0; i < axis.Count; i++ {
			fmt.Printf("motor %c: pos=%d pulses=%d\n",
				axis.Names[i], motor[i], sim.StepCount(i))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&flagScript, "script", "s", "", "move script file (default stdin)")
	rootCmd.AddCommand(runCmd)
}

// execScript interprets the line-based move script:
//
//	move <x> <y> <z> <e> <feedrate>
//	feedrate <percent>
//	flow <percent>
//	wait <milliseconds>
//	setpos <x> <y> <z> <e>
//	# comment
func execScript(sys *motion.System, f *os.File, logger *zap.Logger) error {
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		switch fields[0] {
		case "move":
			vals, err := parseFloats(fields[1:], 5)
			if err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			target := axis.Vector{vals[0], vals[1], vals[2], vals[3]}
			if err := sys.MoveBlocking(target, vals[4], nil); err != nil {
				logger.Warn("move rejected", zap.Int("line", line), zap.Error(err))
			}
		case "wait":
			vals, err := parseFloats(fields[1:], 1)
			if err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			if err := sys.QueueWait(uint32(vals[0])); err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
		case "feedrate":
			vals, err := parseFloats(fields[1:], 1)
			if err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			sys.SetFeedrateMultiply(vals[0])
		case "flow":
			vals, err := parseFloats(fields[1:], 1)
			if err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			sys.SetFlowMultiply(vals[0])
		case "setpos":
			vals, err := parseFloats(fields[1:], 4)
			if err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			sys.WaitUntilDrained()
			sys.SetPosition(axis.Vector{vals[0], vals[1], vals[2], vals[3]})
		default:
			return fmt.Errorf("line %d: unknown command %q", line, fields[0])
		}
		if err := sys.Status(); err != nil {
			return fmt.Errorf("line %d: motion error: %w", line, err)
		}
	}
	return sc.Err()
}

func parseFloats(fields []string, n int) ([]float64, error) {
	if len(fields) != n {
		return nil, fmt.Errorf("want %d values, got %d", n, len(fields))
	}
	out := make([]float64, n)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", f)
		}
		out[i] = v
	}
	return out, nil
}
