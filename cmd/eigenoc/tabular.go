package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samuelfneumann/eigenoc/eigenpurpose"
	"github.com/samuelfneumann/eigenoc/utils/progressbar"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var tabularFlags struct {
	rows, cols int
	layout     string
	discount   float64
	theta      float64
	maxSweeps  int
	options    int
	flip       bool
	out        string
}

var tabularCmd = &cobra.Command{
	Use:   "tabular",
	Short: "Compute tabular successor features and their eigenpurposes",
	Long: `Computes the successor representation of the uniform random
policy in a gridworld, saves it as sf_matrix.npy and renders a heat map of
the eigenpurpose of each option as eigenpurpose_<i>.png.`,
	Args: cobra.NoArgs,
	RunE: runTabular,
}

func init() {
	f := tabularCmd.Flags()
	f.IntVar(&tabularFlags.rows, "rows", 10, "Rows of an open grid")
	f.IntVar(&tabularFlags.cols, "cols", 10, "Columns of an open grid")
	f.StringVar(&tabularFlags.layout, "layout", "", "ASCII grid layout file, '#' for walls")
	f.Float64Var(&tabularFlags.discount, "discount", 0.9, "Successor feature discount")
	f.Float64Var(&tabularFlags.theta, "theta", 1e-5, "Convergence threshold")
	f.IntVar(&tabularFlags.maxSweeps, "max-sweeps", 1000, "Maximum number of sweeps")
	f.IntVar(&tabularFlags.options, "options", 4, "Number of eigenpurposes rendered")
	f.BoolVar(&tabularFlags.flip, "flip", false, "Negate the eigenpurposes")
	f.StringVar(&tabularFlags.out, "out", ".", "Output directory")
}

func loadGrid(layout string, rows, cols int) (*eigenpurpose.Grid, error) {
	if layout == "" {
		return eigenpurpose.NewGrid(rows, cols)
	}
	data, err := os.ReadFile(layout)
	if err != nil {
		return nil, err
	}
	return eigenpurpose.ParseGrid(string(data))
}

func runTabular(cmd *cobra.Command, args []string) error {
	grid, err := loadGrid(tabularFlags.layout, tabularFlags.rows,
		tabularFlags.cols)
	if err != nil {
		return err
	}

	bar := progressbar.NewManualProgressBar(cmd.ErrOrStderr(), "sweeps", 40,
		tabularFlags.maxSweeps)
	sf, sweeps, err := eigenpurpose.TabularSF(grid, tabularFlags.discount,
		tabularFlags.theta, tabularFlags.maxSweeps, func() {
			bar.Increment()
			bar.Display()
		})
	if err != nil {
		return err
	}
	bar.Finish()
	logger.Info("computed successor features",
		zap.Int("states", grid.NumStates()),
		zap.Int("sweeps", sweeps),
	)

	matrixPath := filepath.Join(tabularFlags.out, "sf_matrix.npy")
	if err := eigenpurpose.WriteMatrix(matrixPath, sf); err != nil {
		return err
	}

	d, err := eigenpurpose.Decompose(sf)
	if err != nil {
		return err
	}
	dirs, err := d.Directions(tabularFlags.options, tabularFlags.flip)
	if err != nil {
		return err
	}
	for i, dir := range dirs {
		path := filepath.Join(tabularFlags.out,
			fmt.Sprintf("eigenpurpose_%d.png", i))
		if err := eigenpurpose.RenderHeatmap(grid, dir, 0, path); err != nil {
			return err
		}
		logger.Info("rendered eigenpurpose",
			zap.Int("option", i),
			zap.Float64("singular_value", d.Values[i]),
			zap.String("path", path),
		)
	}
	return nil
}
