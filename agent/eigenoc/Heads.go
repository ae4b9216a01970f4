package eigenoc

import (
	"fmt"

	"github.com/samuelfneumann/eigenoc/network"
	"github.com/samuelfneumann/eigenoc/utils/op"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Heads of an eigen-option-critic network. Each head owns a disjoint
// group of parameters in the Registry.
const (
	HeadEncoder     network.HeadID = "encoder"
	HeadActionEmbed network.HeadID = "action_embed"
	HeadAux         network.HeadID = "aux"
	HeadSF          network.HeadID = "sf"
	HeadOption      network.HeadID = "option"
	HeadEigenOption network.HeadID = "eigen_option"
	HeadTermination network.HeadID = "termination"
	HeadPolicy      network.HeadID = "policy"
)

// Head groups used for selective target-replica refreshes
var (
	// SFHeads are the heads trained by the successor-feature stream
	SFHeads = []network.HeadID{HeadSF}

	// AuxHeads are the heads trained by the auxiliary stream
	AuxHeads = []network.HeadID{HeadEncoder, HeadActionEmbed, HeadAux}

	// OptionHeads are the heads trained by the option stream. The
	// eigen-option head is skipped when it is not registered.
	OptionHeads = []network.HeadID{HeadOption, HeadEigenOption,
		HeadTermination, HeadPolicy}

	// PrimitiveHeads are the heads trained by the primitive-option
	// stream
	PrimitiveHeads = []network.HeadID{HeadOption}
)

// heads holds the layers of every head. The layers do not hold graphs;
// they are bound into the graph of each tower.
type heads struct {
	conv        *network.ConvStack // nil without convolutions
	encoder     *network.MLP
	actionEmbed *network.MLP
	aux         *network.MLP
	sf          *network.MLP
	option      *network.MLP
	termination *network.MLP
	policies    []*network.MLP
}

// newHeads creates the parameters of every head described by c,
// registering them in r. The eigen-option head is created by the
// value strategy.
func newHeads(r *network.Registry, c Config, actionSize int) (*heads,
	error) {
	h := &heads{}
	init := c.InitWFn

	features := c.ObservationSize()
	if len(c.ConvLayers) > 0 {
		conv, err := network.NewConvStack(r, HeadEncoder,
			tensor.Shape(c.ObservationShape), c.ConvLayers, network.ReLU,
			init)
		if err != nil {
			return nil, err
		}
		h.conv = conv
		features = conv.Outputs()
	}

	var err error
	h.encoder, err = network.NewMLP(r, HeadEncoder, "fi", features,
		network.Stack(c.FCLayers, true, network.ReLU), init)
	if err != nil {
		return nil, err
	}

	latent := c.LatentDim()
	embedIn := 1
	if c.AuxActionOneHot {
		embedIn = actionSize
	}
	h.actionEmbed, err = network.NewMLP(r, HeadActionEmbed, "aux_action",
		embedIn, []network.LayerSpec{{Units: latent, Bias: true}}, init)
	if err != nil {
		return nil, err
	}

	auxLayers := append(append([]int{}, c.AuxFCLayers...),
		c.ObservationSize())
	h.aux, err = network.NewMLP(r, HeadAux, "aux_next", latent,
		network.Stack(auxLayers, true, network.ReLU), init)
	if err != nil {
		return nil, err
	}

	h.sf, err = network.NewMLP(r, HeadSF, "sf", latent,
		network.Stack(c.SFLayers, false, network.ReLU), init)
	if err != nil {
		return nil, err
	}

	h.option, err = network.NewMLP(r, HeadOption, "q", latent,
		[]network.LayerSpec{{Units: c.NumOptions(actionSize), Bias: true}},
		init)
	if err != nil {
		return nil, err
	}

	h.termination, err = network.NewMLP(r, HeadTermination, "term", latent,
		[]network.LayerSpec{{
			Units:      c.NbOptions,
			Bias:       true,
			Activation: network.Sigmoid(),
		}}, init)
	if err != nil {
		return nil, err
	}

	h.policies = make([]*network.MLP, c.NbOptions)
	for o := range h.policies {
		name := fmt.Sprintf("policy%d", o)
		h.policies[o], err = network.NewMLP(r, HeadPolicy, name, latent,
			[]network.LayerSpec{{Units: actionSize}}, init)
		if err != nil {
			return nil, err
		}
	}
	return h, nil
}

// encode adds the live latent features of obs to the graph of b. The
// observations are (batch, channels, height, width) with convolutions
// and (batch, features) without.
func (h *heads) encode(b *network.Binding, obs *G.Node) (*G.Node, error) {
	x := obs
	if h.conv != nil {
		var err error
		if x, err = h.conv.Fwd(b, x); err != nil {
			return nil, err
		}
	}
	return h.encoder.Fwd(b, x)
}

// reconstruct adds the predicted next observation, flattened to
// (batch, observation size), given the live latent features and the
// encoded actions
func (h *heads) reconstruct(b *network.Binding, fi,
	actions *G.Node) (*G.Node, error) {
	embedded, err := h.actionEmbed.Fwd(b, actions)
	if err != nil {
		return nil, err
	}
	return h.aux.Fwd(b, G.Must(G.Add(fi, embedded)))
}

// policy adds the softmax policy of option o over the rectified
// latent features
func (h *heads) policy(b *network.Binding, latent *G.Node, o int) (*G.Node,
	error) {
	logits, err := h.policies[o].Fwd(b, latent)
	if err != nil {
		return nil, err
	}
	return op.Softmax(logits), nil
}
