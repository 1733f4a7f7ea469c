package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	flagConfig  string
	flagVerbose bool
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:          "motionsim",
	Short:        "motionsim exercises the motion pipeline on simulated hardware",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "machine config file (YAML); defaults to $MOTION_CONFIG")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

// newLogger builds the CLI logger, honoring --verbose and MOTION_LOG_LEVEL.
func newLogger() (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if flagVerbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else if lvl := os.Getenv("MOTION_LOG_LEVEL"); lvl != "" {
		var l zapcore.Level
		if err := l.Set(lvl); err == nil {
			zc.Level = zap.NewAtomicLevelAt(l)
		}
	}
	return zc.Build()
}

// configPath resolves the machine config location from the flag, the
// environment, or a .env file.
func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	_ = godotenv.Load()
	return os.Getenv("MOTION_CONFIG")
}
