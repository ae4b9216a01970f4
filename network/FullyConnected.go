package network

import (
	"fmt"

	"github.com/samuelfneumann/eigenoc/initwfn"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// fcLayer implements a fully connected layer of a feed forward neural
// network
type fcLayer struct {
	weights *Parameter
	bias    *Parameter // nil if the layer has no bias
	act     *Activation
}

// fwd adds the forward pass of the fcLayer to the computational graph
func (f *fcLayer) fwd(b *Binding, x *G.Node) (*G.Node, error) {
	x, err := G.Mul(x, b.Node(f.weights))
	if err != nil {
		return nil, fmt.Errorf("fwd: %v: %w", f.weights.name, err)
	}
	if f.bias != nil {
		// Broadcast the bias weights to all samples along the batch
		// dimension
		x, err = G.BroadcastAdd(x, b.Node(f.bias), nil, []byte{0})
		if err != nil {
			return nil, fmt.Errorf("fwd: %v: %w", f.bias.name, err)
		}
	}
	return f.act.fwd(x)
}

func (f *fcLayer) parameters() []*Parameter {
	if f.bias == nil {
		return []*Parameter{f.weights}
	}
	return []*Parameter{f.weights, f.bias}
}

// newFCLayer returns a new fully connected layer mapping in features to
// out features. Biases are initialized to zero.
func newFCLayer(name string, in, out int, bias bool, act *Activation,
	init *initwfn.InitWFn) *fcLayer {
	layer := &fcLayer{
		weights: NewParameter(name+"_W", init.Tensor(in, out)),
		act:     act,
	}
	if bias {
		layer.bias = NewParameter(name+"_b",
			tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(out)))
	}
	return layer
}

// LayerSpec describes a single fully connected layer of an MLP
type LayerSpec struct {
	Units      int
	Bias       bool
	Activation *Activation
}

// MLP is a stack of fully connected layers whose parameters are owned
// by a Registry head. The MLP itself holds no graph; it is bound into
// any number of graphs through a Binding.
type MLP struct {
	head   HeadID
	in     int
	layers []*fcLayer
}

// NewMLP creates the parameters of an MLP with in input features and
// the given layers, and registers them under head in r. Parameter names
// are prefixed by name, which must be unique among the MLPs of r.
func NewMLP(r *Registry, head HeadID, name string, in int,
	specs []LayerSpec, init *initwfn.InitWFn) (*MLP, error) {
	if in <= 0 {
		return nil, fmt.Errorf("newMLP: %v: input size must be > 0", head)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("newMLP: %v: at least one layer is required",
			head)
	}

	mlp := &MLP{head: head, in: in}
	features := in
	for i, spec := range specs {
		if spec.Units <= 0 {
			return nil, fmt.Errorf("newMLP: %v: layer %d must have > 0 units",
				head, i)
		}
		act := spec.Activation
		if act == nil {
			act = Identity()
		}

		layerName := fmt.Sprintf("%v_fc%d", name, i)
		layer := newFCLayer(layerName, features, spec.Units, spec.Bias, act,
			init)
		mlp.layers = append(mlp.layers, layer)
		r.Add(head, layer.parameters()...)

		features = spec.Units
	}
	return mlp, nil
}

// Head returns the head owning the MLP's parameters
func (m *MLP) Head() HeadID {
	return m.head
}

// Features returns the number of input features
func (m *MLP) Features() int {
	return m.in
}

// Outputs returns the number of output features
func (m *MLP) Outputs() int {
	return m.layers[len(m.layers)-1].weights.Shape()[1]
}

// Fwd adds the forward pass of the MLP on x, a (batch, features)
// matrix, to the graph of b
func (m *MLP) Fwd(b *Binding, x *G.Node) (*G.Node, error) {
	var err error
	for _, layer := range m.layers {
		if x, err = layer.fwd(b, x); err != nil {
			return nil, err
		}
	}
	return x, nil
}

// Stack returns the layer specs of a stack of hidden layers of the
// given sizes with activation act between them and no activation on
// the final layer
func Stack(sizes []int, bias bool, act func() *Activation) []LayerSpec {
	specs := make([]LayerSpec, len(sizes))
	for i, size := range sizes {
		specs[i] = LayerSpec{Units: size, Bias: bias, Activation: act()}
	}
	if len(specs) > 0 {
		specs[len(specs)-1].Activation = Identity()
	}
	return specs
}
