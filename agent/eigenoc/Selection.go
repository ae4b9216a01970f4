package eigenoc

import (
	"github.com/samuelfneumann/eigenoc/utils/floatutils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// SelectOption selects an option ε-greedily with respect to the option
// values q: with probability 1 - ε the first maximising option, and
// otherwise an option drawn uniformly from all of them
func SelectOption(q []float64, epsilon float64, rng *rand.Rand) int {
	if rng.Float64() > epsilon {
		return floatutils.Argmax(q)
	}
	return rng.Intn(len(q))
}

// SelectOption selects an option ε-greedily with respect to q, using
// final_random_option_prob as ε
func (n *Network) SelectOption(q []float64) int {
	return SelectOption(q, n.cfg.FinalRandomOptionProb, n.rng)
}

// OptionValue returns the value of a state under the ε-greedy option
// selection: (1 - ε) max(q) + ε mean(q)
func (n *Network) OptionValue(q []float64) float64 {
	return floatutils.EpsilonGreedyValue(q, n.cfg.FinalRandomOptionProb)
}

// EigenOptionValue returns the ε-greedy value over the eigen-option
// values, preceded by the primitive option values of q when primitive
// options are enabled
func (n *Network) EigenOptionValue(q, eigen []float64) float64 {
	values := eigen
	if n.cfg.IncludePrimitiveOptions {
		values = append(append([]float64{}, q[n.cfg.NbOptions:]...),
			eigen...)
	}
	return floatutils.EpsilonGreedyValue(values, n.cfg.FinalRandomOptionProb)
}

// IsPrimitive returns whether option is a primitive action
func (n *Network) IsPrimitive(option int) bool {
	return option >= n.cfg.NbOptions
}

// PrimitiveAction returns the action taken by a primitive option
func (n *Network) PrimitiveAction(option int) int {
	return option - n.cfg.NbOptions
}

// ShouldTerminate decides whether option terminates given the
// termination probabilities of a state. Primitive options always
// terminate after one step.
func (n *Network) ShouldTerminate(probs []float64, option int) bool {
	if n.IsPrimitive(option) {
		return true
	}
	return probs[option] > n.rng.Float64()
}

// SampleAction draws an action from the policy of an option
func (n *Network) SampleAction(policy []float64) int {
	return int(distuv.NewCategorical(policy, n.rng).Rand())
}

// Act returns the action to take in row i of out while following
// option
func (n *Network) Act(out *Outputs, i, option int) int {
	if n.IsPrimitive(option) {
		return n.PrimitiveAction(option)
	}
	return n.SampleAction(out.Policies[option].RawRowView(i))
}
