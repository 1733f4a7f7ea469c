package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"printmotion/pkg/planner"
)

var (
	flagLength   float64
	flagFeedrate float64
	flagAccel    float64
	flagStartV   float64
	flagEndV     float64
)

// profileCmd prints the trapezoid a single move would execute.
var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "print the velocity trapezoid for one move",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagLength <= 0 || flagFeedrate <= 0 || flagAccel <= 0 {
			return fmt.Errorf("length, feedrate, and accel must be positive")
		}
		m := planner.Move{
			Action:       planner.ActionMove,
			Length:       flagLength,
			Feedrate:     flagFeedrate,
			StartSpeed:   flagStartV,
			EndSpeed:     flagEndV,
			Acceleration: flagAccel,
		}
		m.Plan()

		fmt.Printf("cruise feedrate: %.3f mm/s\n", m.Feedrate)
		fmt.Printf("accel:  t1=%.4fs s1=%.4fmm\n", m.T1, m.S1)
		fmt.Printf("cruise: t2=%.4fs s2=%.4fmm\n", m.T2, m.S2)
		fmt.Printf("decel:  t3=%.4fs s3=%.4fmm\n", m.T3, m.Length-m.S1-m.S2)
		fmt.Printf("total:  %.4fs over %.4fmm\n", m.T1+m.T2+m.T3, m.Length)
		return nil
	},
}

func init() {
	profileCmd.Flags().Float64Var(&flagLength, "length", 10, "move length (mm)")
	profileCmd.Flags().Float64Var(&flagFeedrate, "feedrate", 60, "cruise feedrate (mm/s)")
	profileCmd.Flags().Float64Var(&flagAccel, "accel", 1000, "acceleration (mm/s^2)")
	profileCmd.Flags().Float64Var(&flagStartV, "start-v", 0, "entry speed (mm/s)")
	profileCmd.Flags().Float64Var(&flagEndV, "end-v", 0, "exit speed (mm/s)")
	rootCmd.AddCommand(profileCmd)
}
