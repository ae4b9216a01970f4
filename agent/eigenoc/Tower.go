package eigenoc

import (
	"fmt"

	"github.com/samuelfneumann/eigenoc/network"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// tower is one compiled computational graph over a fixed batch size.
// Inputs are nodes holding their own tensors, which are overwritten in
// place before every run; outputs are read after every run.
//
// Values cross between towers only as copies, so a tower's gradient
// never reaches parameters outside of it.
type tower struct {
	g       *G.ExprGraph
	binding *network.Binding
	vm      G.VM

	inputs  map[string]*tensor.Dense
	outputs map[string]*G.Value
	grads   *network.GradReader
}

func newTower() *tower {
	g := G.NewGraph()
	return &tower{
		g:       g,
		binding: network.NewBinding(g),
		inputs:  make(map[string]*tensor.Dense),
		outputs: make(map[string]*G.Value),
	}
}

// input adds an input node of the given shape
func (t *tower) input(name string, shape ...int) *G.Node {
	value := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(shape...))
	t.inputs[name] = value
	return G.NewTensor(
		t.g,
		tensor.Float64,
		len(shape),
		G.WithShape(shape...),
		G.WithName(name),
		G.WithValue(value),
	)
}

// output records n to be read after every run
func (t *tower) output(name string, n *G.Node) {
	v := new(G.Value)
	G.Read(n, v)
	t.outputs[name] = v
}

// differentiate adds the gradient of loss with respect to params
func (t *tower) differentiate(loss *G.Node, params []*network.Parameter) error {
	grads, err := t.binding.Grad(loss, params)
	if err != nil {
		return err
	}
	t.grads = grads
	return nil
}

// compile creates the VM of the tower. No nodes may be added after.
func (t *tower) compile() {
	t.vm = G.NewTapeMachine(t.g)
}

// run copies data into the inputs and runs the graph once
func (t *tower) run(data map[string][]float64) error {
	for name, values := range data {
		in, ok := t.inputs[name]
		if !ok {
			return fmt.Errorf("run: unknown input %v", name)
		}
		backing := in.Data().([]float64)
		if len(backing) != len(values) {
			return fmt.Errorf("run: input %v expects %d values, got %d",
				name, len(backing), len(values))
		}
		copy(backing, values)
	}

	defer t.vm.Reset()
	if err := t.vm.RunAll(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

// read returns a copy of output name from the last run
func (t *tower) read(name string) []float64 {
	v := *t.outputs[name]
	switch data := v.Data().(type) {
	case []float64:
		out := make([]float64, len(data))
		copy(out, data)
		return out
	case float64:
		return []float64{data}
	default:
		panic(fmt.Sprintf("read: unexpected output type %T", data))
	}
}

// scalar returns scalar output name from the last run
func (t *tower) scalar(name string) float64 {
	return t.read(name)[0]
}

// gradients returns copies of the gradients from the last run
func (t *tower) gradients() ([][]float64, error) {
	return t.grads.Gradients()
}

func (t *tower) close() {
	if t.vm != nil {
		t.vm.Close()
	}
}
