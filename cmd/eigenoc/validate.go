package main

import (
	"fmt"

	"github.com/samuelfneumann/eigenoc/agent/eigenoc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var validateFlags struct {
	config  string
	actions int
	states  int
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Build the global and one worker network from a config",
	Long: `Loads an agent configuration, builds the global network and a
single worker from it and logs the parameter shapes of every head.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	f := validateCmd.Flags()
	f.StringVar(&validateFlags.config, "config", "", "Agent config (.yaml or .json)")
	f.IntVar(&validateFlags.actions, "actions", 4, "Number of environment actions")
	f.IntVar(&validateFlags.states, "states", 0, "Number of environment states")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	c, err := eigenoc.LoadConfig(validateFlags.config)
	if err != nil {
		return err
	}

	g, err := eigenoc.NewGlobal(c, validateFlags.actions,
		validateFlags.states, eigenoc.WithLogger(logger))
	if err != nil {
		return err
	}
	n, err := g.NewWorker("worker_0")
	if err != nil {
		return err
	}
	defer n.Close()

	for _, head := range n.Heads() {
		for _, p := range n.Replica().Head(head) {
			logger.Info("parameter",
				zap.String("head", string(head)),
				zap.String("name", p.Name()),
				zap.Ints("shape", p.Shape()),
			)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok: %d options, %d heads, %d weights\n",
		n.NumOptions(), len(n.Heads()), n.Replica().NumParameters())
	return nil
}
