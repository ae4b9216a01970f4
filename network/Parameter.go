package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// HeadID identifies the group of parameters owned by one head of a
// network
type HeadID string

// Parameter is a single named weight tensor. Graph nodes created from
// a Parameter share its backing storage, so writing to the Parameter's
// data is visible to every graph it is bound into.
type Parameter struct {
	name  string
	value *tensor.Dense
}

// NewParameter returns a new Parameter holding value
func NewParameter(name string, value *tensor.Dense) *Parameter {
	return &Parameter{name: name, value: value}
}

// Name returns the name of the Parameter
func (p *Parameter) Name() string {
	return p.name
}

// Shape returns the shape of the Parameter
func (p *Parameter) Shape() tensor.Shape {
	return p.value.Shape()
}

// Data returns the backing data of the Parameter
func (p *Parameter) Data() []float64 {
	return p.value.Data().([]float64)
}

// Tensor returns the tensor holding the Parameter's value
func (p *Parameter) Tensor() *tensor.Dense {
	return p.value
}

// copyFrom copies the data of src into p
func (p *Parameter) copyFrom(src *Parameter) error {
	if !p.Shape().Eq(src.Shape()) {
		return fmt.Errorf("copyFrom: cannot copy %v with shape %v into %v "+
			"with shape %v", src.name, src.Shape(), p.name, p.Shape())
	}
	copy(p.Data(), src.Data())
	return nil
}

// clone returns a deep copy of p
func (p *Parameter) clone() *Parameter {
	return &Parameter{name: p.name, value: p.value.Clone().(*tensor.Dense)}
}

// Registry maps each head to the parameters it owns. Heads are kept in
// registration order, and so are the parameters of each head, so two
// registries built from the same configuration line up position by
// position.
type Registry struct {
	order []HeadID
	heads map[HeadID][]*Parameter
}

// NewRegistry returns an empty Registry
func NewRegistry() *Registry {
	return &Registry{heads: make(map[HeadID][]*Parameter)}
}

// Add registers params as belonging to head
func (r *Registry) Add(head HeadID, params ...*Parameter) {
	if _, ok := r.heads[head]; !ok {
		r.order = append(r.order, head)
	}
	r.heads[head] = append(r.heads[head], params...)
}

// Has returns whether head has been registered
func (r *Registry) Has(head HeadID) bool {
	_, ok := r.heads[head]
	return ok
}

// Head returns the parameters of head
func (r *Registry) Head(head HeadID) []*Parameter {
	return r.heads[head]
}

// Heads returns all registered heads in registration order
func (r *Registry) Heads() []HeadID {
	heads := make([]HeadID, len(r.order))
	copy(heads, r.order)
	return heads
}

// Parameters returns the parameters of the given heads, in the order
// the heads are given. If no heads are given, all parameters are
// returned in registration order. Heads that are not registered are
// skipped.
func (r *Registry) Parameters(heads ...HeadID) []*Parameter {
	if len(heads) == 0 {
		heads = r.order
	}

	var params []*Parameter
	for _, head := range heads {
		params = append(params, r.heads[head]...)
	}
	return params
}

// NumParameters returns the total number of scalar weights in the
// given heads, or in all heads if none are given
func (r *Registry) NumParameters(heads ...HeadID) int {
	n := 0
	for _, p := range r.Parameters(heads...) {
		n += p.Shape().TotalSize()
	}
	return n
}

// Clone returns a deep copy of the Registry
func (r *Registry) Clone() *Registry {
	clone := NewRegistry()
	for _, head := range r.order {
		params := r.heads[head]
		cloned := make([]*Parameter, len(params))
		for i, p := range params {
			cloned[i] = p.clone()
		}
		clone.Add(head, cloned...)
	}
	return clone
}

// copyHeads copies the values of the given heads of src into r. If no
// heads are given, every head is copied.
func (r *Registry) copyHeads(src *Registry, heads ...HeadID) error {
	if len(heads) == 0 {
		heads = r.order
	}

	for _, head := range heads {
		dst, from := r.heads[head], src.heads[head]
		if len(dst) != len(from) {
			return fmt.Errorf("copyHeads: head %v has %d parameters in "+
				"the destination but %d in the source", head, len(dst),
				len(from))
		}
		for i := range dst {
			if err := dst[i].copyFrom(from[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Binding binds Parameters into a single computational graph. Each
// Parameter is bound at most once per graph.
type Binding struct {
	g     *G.ExprGraph
	nodes map[*Parameter]*G.Node
}

// NewBinding returns a new Binding for graph g
func NewBinding(g *G.ExprGraph) *Binding {
	return &Binding{g: g, nodes: make(map[*Parameter]*G.Node)}
}

// Graph returns the graph parameters are bound into
func (b *Binding) Graph() *G.ExprGraph {
	return b.g
}

// Node returns the node bound to p, creating it if needed. The node
// holds p's tensor as its value.
func (b *Binding) Node(p *Parameter) *G.Node {
	if n, ok := b.nodes[p]; ok {
		return n
	}

	shape := p.Shape()
	n := G.NewTensor(
		b.g,
		tensor.Float64,
		shape.Dims(),
		G.WithShape(shape...),
		G.WithName(p.name),
		G.WithValue(p.value),
	)
	b.nodes[p] = n
	return n
}

// Nodes returns the bound nodes of params, binding them if needed
func (b *Binding) Nodes(params []*Parameter) G.Nodes {
	nodes := make(G.Nodes, len(params))
	for i, p := range params {
		nodes[i] = b.Node(p)
	}
	return nodes
}

// GradReader reads the gradient of a scalar loss with respect to a
// list of parameters after the graph has been run.
type GradReader struct {
	params []*Parameter
	values []G.Value
}

// Grad adds the symbolic gradient of loss with respect to params into
// the graph. It must be called before a VM is created for the graph.
func (b *Binding) Grad(loss *G.Node, params []*Parameter) (*GradReader,
	error) {
	grads, err := G.Grad(loss, b.Nodes(params)...)
	if err != nil {
		return nil, fmt.Errorf("grad: could not differentiate %v: %w",
			loss.Name(), err)
	}

	reader := &GradReader{
		params: params,
		values: make([]G.Value, len(params)),
	}
	for i := range grads {
		G.Read(grads[i], &reader.values[i])
	}
	return reader, nil
}

// Parameters returns the parameters the gradient is taken with
// respect to
func (r *GradReader) Parameters() []*Parameter {
	return r.params
}

// Gradients copies out the gradients computed by the last run of the
// graph, one slice per parameter
func (r *GradReader) Gradients() ([][]float64, error) {
	grads := make([][]float64, len(r.values))
	for i, v := range r.values {
		if v == nil {
			return nil, fmt.Errorf("gradients: no gradient computed for %v",
				r.params[i].name)
		}
		data := v.Data().([]float64)
		grads[i] = make([]float64, len(data))
		copy(grads[i], data)
	}
	return grads, nil
}
