package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samuelfneumann/eigenoc/agent/eigenoc"
	"github.com/samuelfneumann/eigenoc/eigenpurpose"
	"github.com/samuelfneumann/eigenoc/experiment"
	"github.com/samuelfneumann/eigenoc/experiment/tracker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// runConfig is the configuration of a training run
type runConfig struct {
	Agent      eigenoc.Config    `yaml:"agent"`
	Experiment experiment.Config `yaml:"experiment"`

	// Grid is an ASCII layout; an open Rows x Cols grid is used if empty
	Grid string `yaml:"grid"`
	Rows int    `yaml:"rows"`
	Cols int    `yaml:"cols"`
}

var trainFlags struct {
	config string
	out    string
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train asynchronous workers online in a gridworld",
	Long: `Trains the workers of an eigen-option-critic agent in a gridworld
with one-hot observations. Episode returns and lengths are saved to the
output directory as .npy files.`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func init() {
	f := trainCmd.Flags()
	f.StringVar(&trainFlags.config, "config", "", "Run config (.yaml)")
	f.StringVar(&trainFlags.out, "out", ".", "Output directory")
	_ = trainCmd.MarkFlagRequired("config")
}

func loadRunConfig(filename string) (runConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return runConfig{}, fmt.Errorf("loadRunConfig: %w", err)
	}
	c := runConfig{Agent: eigenoc.DefaultConfig()}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return runConfig{}, fmt.Errorf("loadRunConfig: %v: %w", filename, err)
	}
	return c, nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	c, err := loadRunConfig(trainFlags.config)
	if err != nil {
		return err
	}

	var grid *eigenpurpose.Grid
	if c.Grid != "" {
		grid, err = eigenpurpose.ParseGrid(c.Grid)
	} else {
		grid, err = eigenpurpose.NewGrid(c.Rows, c.Cols)
	}
	if err != nil {
		return err
	}
	if len(c.Agent.ObservationShape) == 0 {
		c.Agent.ObservationShape = []int{grid.NumStates()}
	}

	g, err := eigenoc.NewGlobal(c.Agent, grid.NumActions(), grid.NumStates(),
		eigenoc.WithLogger(logger))
	if err != nil {
		return err
	}

	returns := tracker.NewReturn(filepath.Join(trainFlags.out, "returns.npy"))
	lengths := tracker.NewEpisodeLength(
		filepath.Join(trainFlags.out, "episode_lengths.npy"))
	o, err := experiment.NewOnline(g, grid, c.Experiment, logger, returns,
		lengths)
	if err != nil {
		return err
	}

	runErr := o.Run(cmd.Context())
	if err := o.Save(); err != nil {
		return err
	}
	if err := g.Close(); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}

	logger.Info("training finished",
		zap.Uint64("steps", o.Steps()),
		zap.Int("episodes", len(returns.Returns())),
	)
	return nil
}
