// Package eigenoc implements an eigen-option-critic network: a latent
// feature encoder trained by next-observation reconstruction,
// successor features of the latent features, and a set of options
// whose values, terminations and intra-option policies are trained by
// option-critic losses. Options may pursue intrinsic rewards given by
// eigenpurposes of a matrix of successor features.
//
// Workers train local replicas of the parameters and apply clipped
// gradients to a single global replica.
package eigenoc

import (
	"fmt"
	"hash/fnv"

	"github.com/samuelfneumann/eigenoc/network"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Outputs are the outputs of every head for a batch of observations
type Outputs struct {
	Latent      *mat.Dense   // (batch, latent)
	SF          *mat.Dense   // (batch, successor features)
	Q           *mat.Dense   // (batch, options)
	Eigen       *mat.Dense   // (batch, nb_options), nil without eigen
	Termination *mat.Dense   // (batch, nb_options)
	Policies    []*mat.Dense // one (batch, actions) per option
	V           []float64
	EigenV      []float64 // nil without eigen
}

// LossBundle holds the loss scalars of one training step
type LossBundle struct {
	SF          float64
	Aux         float64
	Critic      float64
	Termination float64
	Entropy     float64
	Policy      float64
	EigenCritic float64
	Option      float64
}

// Network is a trainable worker network: a local replica of every
// parameter, with towers that compute outputs, losses and gradients
// over it. A Network is used by a single goroutine.
type Network struct {
	scope      string
	cfg        Config
	actionSize int
	numOptions int

	local    *network.ParameterReplica
	heads    *heads
	strategy valueStrategy
	towers   map[towerKey]*tower

	rng    *rand.Rand
	logger *zap.Logger
}

// NewNetwork returns a new trainable Network for scope over an
// environment with actionSize actions and stateDim states. Its
// parameters are freshly initialized; call Pull to synchronise them
// with a Global.
func NewNetwork(scope string, c Config, actionSize, stateDim int,
	opts ...Option) (*Network, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("newNetwork: %w", err)
	}
	c = c.withDefaults()
	if err := c.Validate(actionSize, stateDim); err != nil {
		return nil, fmt.Errorf("newNetwork: %w", err)
	}

	r := network.NewRegistry()
	h, err := newHeads(r, c, actionSize)
	if err != nil {
		return nil, fmt.Errorf("newNetwork: %w", err)
	}
	strategy, err := newValueStrategy(r, c)
	if err != nil {
		return nil, fmt.Errorf("newNetwork: %w", err)
	}

	seed := c.Seed ^ scopeHash(scope)
	if o.seed != nil {
		seed = *o.seed
	}

	logger := o.logger.With(zap.String("scope", scope))
	logger.Debug("built network",
		zap.Int("weights", r.NumParameters()),
		zap.Int("options", c.NumOptions(actionSize)),
		zap.Bool("eigen", strategy.enabled()),
	)

	return &Network{
		scope:      scope,
		cfg:        c,
		actionSize: actionSize,
		numOptions: c.NumOptions(actionSize),
		local:      network.NewParameterReplica(scope, r),
		heads:      h,
		strategy:   strategy,
		towers:     make(map[towerKey]*tower),
		rng:        rand.New(rand.NewSource(seed)),
		logger:     logger,
	}, nil
}

// Scope returns the scope of the Network
func (n *Network) Scope() string {
	return n.scope
}

// Heads returns the heads of the Network in registration order
func (n *Network) Heads() []network.HeadID {
	return n.local.Heads()
}

// Config returns the configuration of the Network, with defaults
// filled in
func (n *Network) Config() Config {
	return n.cfg
}

// ActionSize returns the number of primitive actions
func (n *Network) ActionSize() int {
	return n.actionSize
}

// NumOptions returns the number of selectable options
func (n *Network) NumOptions() int {
	return n.numOptions
}

// Replica returns the local parameters of the Network
func (n *Network) Replica() *network.ParameterReplica {
	return n.local
}

// Pull copies the global values of the given heads, or of every head
// if none are given, into the local replica
func (n *Network) Pull(g *Global, heads ...network.HeadID) error {
	return n.local.Pull(g.shared, heads...)
}

// PullNetwork copies the given heads of another Network, or all heads
// if none are given. It refreshes target networks.
func (n *Network) PullNetwork(src *Network, heads ...network.HeadID) error {
	return n.local.PullReplica(src.local, heads...)
}

// Encode returns the latent features of a batch of observations,
// given as batch row-major observations
func (n *Network) Encode(obs []float64, batch int) (*mat.Dense, error) {
	t, err := n.tower(encodeTower, batch)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if err := t.run(map[string][]float64{inObs: obs}); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return mat.NewDense(batch, n.cfg.LatentDim(), t.read(outLatent)), nil
}

// HeadOutputs returns the outputs of every head given detached latent
// features
func (n *Network) HeadOutputs(latent *mat.Dense) (*Outputs, error) {
	batch, dim := latent.Dims()
	if dim != n.cfg.LatentDim() {
		return nil, fmt.Errorf("headOutputs: expected %d latent features, "+
			"got %d", n.cfg.LatentDim(), dim)
	}

	t, err := n.tower(headsTower, batch)
	if err != nil {
		return nil, fmt.Errorf("headOutputs: %w", err)
	}
	data := mat.DenseCopyOf(latent).RawMatrix().Data
	if err := t.run(map[string][]float64{inLatent: data}); err != nil {
		return nil, fmt.Errorf("headOutputs: %w", err)
	}

	out := &Outputs{
		Latent:      mat.DenseCopyOf(latent),
		SF:          mat.NewDense(batch, n.cfg.SFDim(), t.read(outSF)),
		Q:           mat.NewDense(batch, n.numOptions, t.read(outQ)),
		Termination: mat.NewDense(batch, n.cfg.NbOptions, t.read(outTermination)),
		Policies:    make([]*mat.Dense, n.cfg.NbOptions),
		V:           make([]float64, batch),
	}
	for o := range out.Policies {
		out.Policies[o] = mat.NewDense(batch, n.actionSize,
			t.read(policyOutput(o)))
	}
	for i := range out.V {
		out.V[i] = n.OptionValue(out.Q.RawRowView(i))
	}

	if n.strategy.enabled() {
		out.Eigen = mat.NewDense(batch, n.cfg.NbOptions, t.read(outEigen))
		out.EigenV = make([]float64, batch)
		for i := range out.EigenV {
			out.EigenV[i] = n.EigenOptionValue(out.Q.RawRowView(i),
				out.Eigen.RawRowView(i))
		}
	}
	return out, nil
}

// Forward returns the outputs of every head for a batch of
// observations
func (n *Network) Forward(obs []float64, batch int) (*Outputs, error) {
	latent, err := n.Encode(obs, batch)
	if err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}
	return n.HeadOutputs(latent)
}

// PredictSF returns the successor features of detached latent features
func (n *Network) PredictSF(latent *mat.Dense) (*mat.Dense, error) {
	out, err := n.HeadOutputs(latent)
	if err != nil {
		return nil, fmt.Errorf("predictSF: %w", err)
	}
	return out.SF, nil
}

// OptionValues returns the option values of detached latent features
func (n *Network) OptionValues(latent *mat.Dense) (*mat.Dense, error) {
	out, err := n.HeadOutputs(latent)
	if err != nil {
		return nil, fmt.Errorf("optionValues: %w", err)
	}
	return out.Q, nil
}

// TerminationProbs returns the termination probability of every
// non-primitive option given detached latent features
func (n *Network) TerminationProbs(latent *mat.Dense) (*mat.Dense, error) {
	out, err := n.HeadOutputs(latent)
	if err != nil {
		return nil, fmt.Errorf("terminationProbs: %w", err)
	}
	return out.Termination, nil
}

// Reconstruct returns the predicted next observations, flattened to
// one row per observation, after taking actions in obs
func (n *Network) Reconstruct(obs []float64, actions []int) (*mat.Dense,
	error) {
	batch := len(actions)
	t, err := n.tower(auxTower, batch)
	if err != nil {
		return nil, fmt.Errorf("reconstruct: %w", err)
	}

	encoded, err := n.encodeActions(actions)
	if err != nil {
		return nil, fmt.Errorf("reconstruct: %w", err)
	}
	err = t.run(map[string][]float64{
		inObs:     obs,
		inActions: encoded,
		inNextObs: make([]float64, batch*n.cfg.ObservationSize()),
	})
	if err != nil {
		return nil, fmt.Errorf("reconstruct: %w", err)
	}
	return mat.NewDense(batch, n.cfg.ObservationSize(), t.read(outRecon)), nil
}

// encodeActions returns actions as the input of the action embedding:
// one scalar per action, or one-hot rows
func (n *Network) encodeActions(actions []int) ([]float64, error) {
	if !n.cfg.AuxActionOneHot {
		encoded := make([]float64, len(actions))
		for i, a := range actions {
			if a < 0 || a >= n.actionSize {
				return nil, fmt.Errorf("encodeActions: action %d out of "+
					"range [0, %d)", a, n.actionSize)
			}
			encoded[i] = float64(a)
		}
		return encoded, nil
	}
	return oneHot(actions, n.actionSize)
}

// Close releases the VMs of every tower
func (n *Network) Close() {
	for key, t := range n.towers {
		t.close()
		delete(n.towers, key)
	}
}

func oneHot(indices []int, width int) ([]float64, error) {
	out := make([]float64, len(indices)*width)
	for i, idx := range indices {
		if idx < 0 || idx >= width {
			return nil, fmt.Errorf("oneHot: index %d out of range [0, %d)",
				idx, width)
		}
		out[i*width+idx] = 1
	}
	return out, nil
}

func scopeHash(scope string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(scope))
	return h.Sum64()
}
