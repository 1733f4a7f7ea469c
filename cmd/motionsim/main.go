// motionsim drives the motion pipeline against the in-memory hardware
// simulator: it loads a machine description, executes a move script at
// logical time, and reports the resulting step counts.
//
// Usage:
//
//	motionsim run --config machine.yaml --script moves.txt
//	motionsim profile --length 10 --feedrate 60 --accel 1000
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
