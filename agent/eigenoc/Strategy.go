package eigenoc

import (
	"github.com/samuelfneumann/eigenoc/network"
	"github.com/samuelfneumann/eigenoc/utils/op"
	G "gorgonia.org/gorgonia"
)

// valueStrategy decides how the option losses use eigen-option values.
// It is chosen once at construction so that loss assembly never
// branches on the eigen flag.
type valueStrategy interface {
	// values adds the eigen-option values over the rectified latent
	// features to the graph of b, or returns nil
	values(b *network.Binding, latent *G.Node) (*G.Node, error)

	// criticLoss adds the eigen-critic loss of the eigen values of the
	// taken options, or returns nil
	criticLoss(eigen, optionMask, targets *G.Node) *G.Node

	// advantage returns the advantage weighting the policy gradient
	// given the ordinary and eigen TD errors
	advantage(td, eigenTD float64) float64

	enabled() bool
}

// plainStrategy trains options on the extrinsic critic only
type plainStrategy struct{}

func (plainStrategy) values(*network.Binding, *G.Node) (*G.Node, error) {
	return nil, nil
}

func (plainStrategy) criticLoss(_, _, _ *G.Node) *G.Node { return nil }

func (plainStrategy) advantage(td, _ float64) float64 { return td }

func (plainStrategy) enabled() bool { return false }

// eigenStrategy adds an eigen-option value head trained on intrinsic
// eigenpurpose returns, whose TD error drives the intra-option policies
type eigenStrategy struct {
	head *network.MLP
	coef float64
}

func newValueStrategy(r *network.Registry, c Config) (valueStrategy,
	error) {
	if !c.Eigen {
		return plainStrategy{}, nil
	}

	head, err := network.NewMLP(r, HeadEigenOption, "eigen_q",
		c.LatentDim(), []network.LayerSpec{{Units: c.NbOptions, Bias: true}},
		c.InitWFn)
	if err != nil {
		return nil, err
	}
	return &eigenStrategy{head: head, coef: c.EigenCriticCoef}, nil
}

func (e *eigenStrategy) values(b *network.Binding,
	latent *G.Node) (*G.Node, error) {
	return e.head.Fwd(b, latent)
}

func (e *eigenStrategy) criticLoss(eigen, optionMask,
	targets *G.Node) *G.Node {
	taken := op.Gather(eigen, optionMask)
	return squaredTD(targets, taken, e.coef)
}

func (e *eigenStrategy) advantage(_, eigenTD float64) float64 {
	return eigenTD
}

func (e *eigenStrategy) enabled() bool { return true }

// squaredTD returns mean(0.5 * coef * (targets - values)²)
func squaredTD(targets, values *G.Node, coef float64) *G.Node {
	td := G.Must(G.Sub(targets, values))
	scale := op.Scalar(td, 0.5*coef, "td_scale")
	loss := G.Must(G.HadamardProd(scale, G.Must(G.Square(td))))
	return G.Must(G.Mean(loss))
}
