package network

import (
	"fmt"

	"github.com/samuelfneumann/eigenoc/initwfn"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ConvSpec describes a single bias-free 2D convolution stage
type ConvSpec struct {
	Kernel  int `yaml:"kernel" json:"kernel"`
	Stride  int `yaml:"stride" json:"stride"`
	Filters int `yaml:"filters" json:"filters"`
	Pad     int `yaml:"pad" json:"pad"`
}

// convLayer is a convolution followed by an activation
type convLayer struct {
	filter *Parameter
	spec   ConvSpec
	act    *Activation
}

// ConvStack is a stack of convolution stages over (batch, channels,
// height, width) inputs, followed by a flatten. Its parameters are
// owned by a Registry head.
type ConvStack struct {
	head   HeadID
	in     tensor.Shape // (channels, height, width)
	out    tensor.Shape
	layers []*convLayer
}

// NewConvStack creates the filters of a convolution stack over inputs
// of shape (channels, height, width) and registers them under head
func NewConvStack(r *Registry, head HeadID, in tensor.Shape,
	specs []ConvSpec, act func() *Activation,
	init *initwfn.InitWFn) (*ConvStack, error) {
	if len(in) != 3 {
		return nil, fmt.Errorf("newConvStack: input shape must be "+
			"(channels, height, width), got %v", in)
	}

	stack := &ConvStack{head: head, in: in.Clone()}
	channels, height, width := in[0], in[1], in[2]
	for i, spec := range specs {
		if spec.Kernel <= 0 || spec.Filters <= 0 {
			return nil, fmt.Errorf("newConvStack: layer %d must have kernel "+
				"and filters > 0", i)
		}
		if spec.Stride <= 0 {
			spec.Stride = 1
		}
		height = (height+2*spec.Pad-spec.Kernel)/spec.Stride + 1
		width = (width+2*spec.Pad-spec.Kernel)/spec.Stride + 1
		if height <= 0 || width <= 0 {
			return nil, fmt.Errorf("newConvStack: layer %d reduces the "+
				"input %v to nothing", i, in)
		}

		name := fmt.Sprintf("%v_conv%d", head, i)
		filter := NewParameter(name,
			init.Tensor(spec.Filters, channels, spec.Kernel, spec.Kernel))
		r.Add(head, filter)

		stack.layers = append(stack.layers, &convLayer{
			filter: filter,
			spec:   spec,
			act:    act(),
		})
		channels = spec.Filters
	}
	stack.out = tensor.Shape{channels, height, width}

	return stack, nil
}

// Outputs returns the number of features after flattening
func (c *ConvStack) Outputs() int {
	return c.out.TotalSize()
}

// Fwd adds the convolutions on x to the graph of b. The input x must
// have shape (batch, channels, height, width); the output has shape
// (batch, Outputs()).
func (c *ConvStack) Fwd(b *Binding, x *G.Node) (*G.Node, error) {
	batch := x.Shape()[0]

	var err error
	for _, layer := range c.layers {
		s := layer.spec
		x, err = G.Conv2d(
			x,
			b.Node(layer.filter),
			tensor.Shape{s.Kernel, s.Kernel},
			[]int{s.Pad, s.Pad},
			[]int{s.Stride, s.Stride},
			[]int{1, 1},
		)
		if err != nil {
			return nil, fmt.Errorf("fwd: %v: %w", layer.filter.name, err)
		}
		if x, err = layer.act.fwd(x); err != nil {
			return nil, err
		}
	}
	return G.Reshape(x, tensor.Shape{batch, c.Outputs()})
}
