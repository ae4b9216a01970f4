package eigenoc

import (
	"fmt"

	"github.com/samuelfneumann/eigenoc/network"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// Batch is a batch of transitions with their bootstrapped targets.
// Observations and next observations are row-major, one observation
// per row; TargetSF has one row of successor features per transition.
type Batch struct {
	Observations     []float64
	Actions          []int
	Options          []int
	Returns          []float64
	EigenReturns     []float64 // required with eigen options only
	NextObservations []float64
	TargetSF         []float64
}

// Len returns the number of transitions in the batch
func (b *Batch) Len() int {
	return len(b.Actions)
}

func (b *Batch) validate(n *Network) error {
	size := b.Len()
	if size == 0 {
		return fmt.Errorf("validate: empty batch")
	}

	check := func(name string, got, want int) error {
		if got != want {
			return fmt.Errorf("validate: %v has %d values, expected %d",
				name, got, want)
		}
		return nil
	}
	obs := n.cfg.ObservationSize()
	if err := check("observations", len(b.Observations), size*obs); err != nil {
		return err
	}
	if err := check("next observations", len(b.NextObservations),
		size*obs); err != nil {
		return err
	}
	if err := check("options", len(b.Options), size); err != nil {
		return err
	}
	if err := check("returns", len(b.Returns), size); err != nil {
		return err
	}
	if err := check("target successor features", len(b.TargetSF),
		size*n.cfg.SFDim()); err != nil {
		return err
	}
	if n.strategy.enabled() {
		if err := check("eigen returns", len(b.EigenReturns),
			size); err != nil {
			return err
		}
	}

	for i, a := range b.Actions {
		if a < 0 || a >= n.actionSize {
			return fmt.Errorf("validate: action %d at %d out of range "+
				"[0, %d)", a, i, n.actionSize)
		}
	}
	for i, o := range b.Options {
		if o < 0 || o >= n.numOptions {
			return fmt.Errorf("validate: option %d at %d out of range "+
				"[0, %d)", o, i, n.numOptions)
		}
	}
	return nil
}

// Stream names one of the independently clipped gradient streams
type Stream int

const (
	// StreamSF trains the successor-feature head on the SF loss
	StreamSF Stream = iota

	// StreamAux trains the encoder, action embedding and decoder on
	// the auxiliary reconstruction loss
	StreamAux

	// StreamOption trains the option heads on the option loss
	StreamOption

	// StreamPrimitive trains the option values on the critic loss
	StreamPrimitive
)

// Streams lists every gradient stream in application order
var Streams = []Stream{StreamSF, StreamAux, StreamOption, StreamPrimitive}

func (s Stream) String() string {
	switch s {
	case StreamSF:
		return "sf"
	case StreamAux:
		return "aux"
	case StreamOption:
		return "option"
	case StreamPrimitive:
		return "primitive_option"
	}
	return fmt.Sprintf("Stream(%d)", int(s))
}

// Heads returns the heads a stream trains
func (s Stream) Heads() []network.HeadID {
	switch s {
	case StreamSF:
		return SFHeads
	case StreamAux:
		return AuxHeads
	case StreamOption:
		return OptionHeads
	case StreamPrimitive:
		return PrimitiveHeads
	}
	return nil
}

// Gradients maps each stream to its unclipped gradients, one slice per
// parameter of the stream's heads in registry order
type Gradients map[Stream][][]float64

// Only returns the named streams of g
func (g Gradients) Only(streams ...Stream) Gradients {
	out := make(Gradients, len(streams))
	for _, s := range streams {
		if grads, ok := g[s]; ok {
			out[s] = grads
		}
	}
	return out
}

// Gradients computes the losses of batch and the gradient of every
// stream with respect to the local parameters. Nothing is applied.
func (n *Network) Gradients(b *Batch) (Gradients, *LossBundle, error) {
	if err := b.validate(n); err != nil {
		return nil, nil, fmt.Errorf("gradients: %w", err)
	}
	size := b.Len()
	grads := make(Gradients, len(Streams))
	losses := &LossBundle{}

	// Auxiliary stream, which also yields the latent features
	aux, err := n.tower(auxTower, size)
	if err != nil {
		return nil, nil, fmt.Errorf("gradients: %w", err)
	}
	actions, err := n.encodeActions(b.Actions)
	if err != nil {
		return nil, nil, fmt.Errorf("gradients: %w", err)
	}
	err = aux.run(map[string][]float64{
		inObs:     b.Observations,
		inActions: actions,
		inNextObs: b.NextObservations,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("gradients: aux: %w", err)
	}
	if grads[StreamAux], err = aux.gradients(); err != nil {
		return nil, nil, fmt.Errorf("gradients: aux: %w", err)
	}
	losses.Aux = aux.scalar(outAuxLoss)
	latent := aux.read(outLatent)

	// Values of the taken options, used as stopped quantities
	out, err := n.HeadOutputs(mat.NewDense(size, n.cfg.LatentDim(), latent))
	if err != nil {
		return nil, nil, fmt.Errorf("gradients: %w", err)
	}
	stopped := n.stoppedInputs(b, out)

	// Successor-feature stream
	sf, err := n.tower(sfTower, size)
	if err != nil {
		return nil, nil, fmt.Errorf("gradients: %w", err)
	}
	err = sf.run(map[string][]float64{inLatent: latent, inTargetSF: b.TargetSF})
	if err != nil {
		return nil, nil, fmt.Errorf("gradients: sf: %w", err)
	}
	if grads[StreamSF], err = sf.gradients(); err != nil {
		return nil, nil, fmt.Errorf("gradients: sf: %w", err)
	}
	losses.SF = sf.scalar(outSFLoss)

	// Option stream
	option, err := n.tower(optionTower, size)
	if err != nil {
		return nil, nil, fmt.Errorf("gradients: %w", err)
	}
	stopped[inLatent] = latent
	if err := option.run(stopped); err != nil {
		return nil, nil, fmt.Errorf("gradients: option: %w", err)
	}
	if grads[StreamOption], err = option.gradients(); err != nil {
		return nil, nil, fmt.Errorf("gradients: option: %w", err)
	}
	losses.Critic = option.scalar(outCritic)
	losses.Termination = option.scalar(outTermLoss)
	losses.Entropy = option.scalar(outEntropy)
	losses.Policy = option.scalar(outPolicy)
	losses.Option = option.scalar(outOptionLoss)
	if n.strategy.enabled() {
		losses.EigenCritic = option.scalar(outEigenCritic)
	}

	// Primitive-option stream
	critic, err := n.tower(criticTower, size)
	if err != nil {
		return nil, nil, fmt.Errorf("gradients: %w", err)
	}
	err = critic.run(map[string][]float64{
		inLatent:  latent,
		inOptions: stopped[inOptions],
		inReturns: b.Returns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("gradients: primitive option: %w", err)
	}
	if grads[StreamPrimitive], err = critic.gradients(); err != nil {
		return nil, nil, fmt.Errorf("gradients: primitive option: %w", err)
	}

	n.logger.Debug("computed gradients",
		zap.Int("batch", size),
		zap.Float64("sf_loss", losses.SF),
		zap.Float64("aux_loss", losses.Aux),
		zap.Float64("option_loss", losses.Option),
	)
	return grads, losses, nil
}

// stoppedInputs returns the option tower inputs that are computed
// outside the graph from the forward values out, and so carry no
// gradient: TD advantages, termination advantages and one-hot masks
func (n *Network) stoppedInputs(b *Batch, out *Outputs) map[string][]float64 {
	size := b.Len()
	nbOptions := n.cfg.NbOptions

	inputs := map[string][]float64{
		inOptions:    make([]float64, size*n.numOptions),
		inOptionMask: make([]float64, size*nbOptions),
		inActionsOne: make([]float64, size*n.actionSize),
		inReturns:    b.Returns,
		inAdvantage:  make([]float64, size),
		inTermAdv:    make([]float64, size),
	}
	if n.strategy.enabled() {
		inputs[inEigenReturns] = b.EigenReturns
	}
	masks := make([][]float64, nbOptions)
	for o := range masks {
		masks[o] = make([]float64, size*n.actionSize)
		inputs[policyMask(o)] = masks[o]
	}

	for i, o := range b.Options {
		inputs[inOptions][i*n.numOptions+o] = 1
		inputs[inActionsOne][i*n.actionSize+b.Actions[i]] = 1

		q := out.Q.RawRowView(i)
		td := b.Returns[i] - q[o]
		inputs[inTermAdv][i] = q[o] - out.V[i] + n.cfg.TerminationMargin

		var eigenTD float64
		if n.strategy.enabled() {
			eigenTD = b.EigenReturns[i]
			if o < nbOptions {
				eigenTD -= out.Eigen.At(i, o)
			}
		}
		inputs[inAdvantage][i] = n.strategy.advantage(td, eigenTD)

		if o < nbOptions {
			inputs[inOptionMask][i*nbOptions+o] = 1
			row := masks[o][i*n.actionSize : (i+1)*n.actionSize]
			for a := range row {
				row[a] = 1
			}
		}
	}
	return inputs
}
