// Command eigenoc trains and inspects eigen-option-critic agents.
//
// Usage:
//
//	eigenoc validate --config agent.yaml --actions 4 --states 100
//	eigenoc decompose --matrix sf.npy --option 0 --flip
//	eigenoc tabular --rows 10 --cols 10 --discount 0.9 --out results
//	eigenoc train --config run.yaml --out results
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	debug  bool
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "eigenoc",
	Short:         "Eigen-option-critic agents",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if debug {
			config = zap.NewDevelopmentConfig()
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"Enable development logging at debug level")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(decomposeCmd)
	rootCmd.AddCommand(tabularCmd)
	rootCmd.AddCommand(trainCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
