package main

import (
	"fmt"

	"github.com/samuelfneumann/eigenoc/eigenpurpose"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var decomposeFlags struct {
	matrix string
	option int
	flip   bool
}

var decomposeCmd = &cobra.Command{
	Use:   "decompose",
	Short: "Print the eigenpurpose of an option from a saved SF matrix",
	Args:  cobra.NoArgs,
	RunE:  runDecompose,
}

func init() {
	f := decomposeCmd.Flags()
	f.StringVar(&decomposeFlags.matrix, "matrix", "", "Successor feature matrix (.npy)")
	f.IntVar(&decomposeFlags.option, "option", 0, "Option whose direction is printed")
	f.BoolVar(&decomposeFlags.flip, "flip", false, "Negate the direction")
	_ = decomposeCmd.MarkFlagRequired("matrix")
}

func runDecompose(cmd *cobra.Command, args []string) error {
	m, err := eigenpurpose.ReadMatrix(decomposeFlags.matrix)
	if err != nil {
		return err
	}
	d, err := eigenpurpose.Decompose(m)
	if err != nil {
		return err
	}
	dir, err := d.DirectionForOption(decomposeFlags.option,
		decomposeFlags.flip)
	if err != nil {
		return err
	}

	logger.Debug("decomposed matrix",
		zap.String("path", decomposeFlags.matrix),
		zap.Int("rows", d.Rows),
	)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "singular values: %v\n", d.Values)
	fmt.Fprintf(out, "direction %d: %v\n", decomposeFlags.option, dir)
	return nil
}
