package op

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func matrix(g *G.ExprGraph, name string, rows, cols int,
	data []float64) *G.Node {
	t := tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data))
	return G.NewMatrix(g, tensor.Float64, G.WithShape(rows, cols),
		G.WithName(name), G.WithValue(t))
}

func run(t *testing.T, g *G.ExprGraph) {
	vm := G.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())
}

func TestSoftmax(t *testing.T) {
	g := G.NewGraph()
	logits := matrix(g, "logits", 2, 3, []float64{1, 2, 3, -50, 0, 50})
	probs := Softmax(logits)

	var out G.Value
	G.Read(probs, &out)
	run(t, g)

	data := out.Data().([]float64)
	for r := 0; r < 2; r++ {
		sum := data[r*3] + data[r*3+1] + data[r*3+2]
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
	z := math.Exp(1) + math.Exp(2) + math.Exp(3)
	assert.InDelta(t, math.Exp(3)/z, data[2], 1e-9)
}

func TestHuber(t *testing.T) {
	g := G.NewGraph()
	residual := matrix(g, "residual", 1, 4, []float64{0.5, -0.5, 3, -2})
	loss := Huber(residual, 1)

	var out G.Value
	G.Read(loss, &out)
	run(t, g)

	assert.InDeltaSlice(t, []float64{0.125, 0.125, 2.5, 1.5},
		out.Data().([]float64), 1e-12)
}

func TestGatherAndEntropy(t *testing.T) {
	g := G.NewGraph()
	x := matrix(g, "x", 2, 2, []float64{0.25, 0.75, 0.5, 0.5})
	mask := matrix(g, "mask", 2, 2, []float64{0, 1, 1, 0})

	gathered := Gather(x, mask)
	entropy := Entropy(x)

	var gv, ev G.Value
	G.Read(gathered, &gv)
	G.Read(entropy, &ev)
	run(t, g)

	assert.InDeltaSlice(t, []float64{0.75, 0.5}, gv.Data().([]float64), 1e-12)
	h0 := -(0.25*math.Log(0.25+LogEpsilon) + 0.75*math.Log(0.75+LogEpsilon))
	h1 := -math.Log(0.5 + LogEpsilon)
	assert.InDeltaSlice(t, []float64{h0, h1}, ev.Data().([]float64), 1e-9)
}
