package eigenoc

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/samuelfneumann/eigenoc/network"
	"github.com/samuelfneumann/eigenoc/solver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	testActions = 3
	testStates  = 10
)

func testConfig() Config {
	c := DefaultConfig()
	c.ObservationShape = []int{6}
	c.FCLayers = []int{8, 4}
	c.SFLayers = []int{6, 5}
	c.AuxFCLayers = []int{8}
	c.NbOptions = 2
	c.IncludePrimitiveOptions = true
	c.Eigen = true
	c.GradientClipNorm = 40
	c.Seed = 1
	return c
}

func testBatch(c Config, size int) *Batch {
	rng := rand.New(rand.NewSource(3))
	obs := c.ObservationSize()
	b := &Batch{
		Observations:     make([]float64, size*obs),
		NextObservations: make([]float64, size*obs),
		Actions:          make([]int, size),
		Options:          make([]int, size),
		Returns:          make([]float64, size),
		EigenReturns:     make([]float64, size),
		TargetSF:         make([]float64, size*c.SFDim()),
	}
	for i := range b.Observations {
		b.Observations[i] = rng.Float64()
		b.NextObservations[i] = rng.Float64()
	}
	for i := 0; i < size; i++ {
		b.Actions[i] = i % testActions
		b.Options[i] = i % c.NumOptions(testActions)
		b.Returns[i] = rng.NormFloat64()
		b.EigenReturns[i] = rng.NormFloat64()
	}
	for i := range b.TargetSF {
		b.TargetSF[i] = rng.Float64()
	}
	return b
}

func assertDims(t *testing.T, m mat.Matrix, rows, cols int) {
	t.Helper()
	r, c := m.Dims()
	assert.Equal(t, rows, r, "rows")
	assert.Equal(t, cols, c, "columns")
}

func newTestPair(t *testing.T, c Config) (*Global, *Network) {
	t.Helper()
	g, err := NewGlobal(c, testActions, testStates)
	require.NoError(t, err)
	n, err := g.NewWorker("worker_0")
	require.NoError(t, err)
	t.Cleanup(n.Close)
	return g, n
}

func TestConfigValidate(t *testing.T) {
	c := testConfig().withDefaults()
	require.NoError(t, c.Validate(testActions, testStates))

	missing := c
	missing.GradientClipNorm = 0
	err := missing.Validate(testActions, testStates)
	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "gradient_clip_norm", cerr.Field)
	assert.ErrorIs(t, err, ErrMissing)

	bad := c
	bad.Loss = "l1"
	assert.Error(t, bad.Validate(testActions, testStates))

	conv := c
	conv.ConvLayers = []network.ConvSpec{{Kernel: 2, Filters: 1}}
	assert.Error(t, conv.Validate(testActions, testStates))

	noStates := c
	assert.Error(t, noStates.Validate(testActions, 0))
	noStates.SFMatrixSize = 7
	assert.NoError(t, noStates.Validate(testActions, 0))

	tooMany := c
	tooMany.NbOptions = 6
	assert.Error(t, tooMany.Validate(testActions, testStates))
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
observation_shape: [2, 5, 5]
conv_layers:
  - {kernel: 3, stride: 2, filters: 4}
fc_layers: [16, 8]
sf_layers: [8]
nb_options: 3
eigen: true
gradient_clip_norm: 5
optimizer:
  type: RMSProp
  config:
    step_size: 0.0007
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5, 5}, c.ObservationShape)
	assert.Equal(t, 2, c.ConvLayers[0].Stride)
	assert.Equal(t, 3, c.NbOptions)
	assert.Equal(t, 5.0, c.GradientClipNorm)
	assert.Equal(t, solver.RMSProp, c.Solver.Type)
	assert.Equal(t, DefaultDiscount, c.Discount)
	assert.Equal(t, Huber, c.Loss)
	assert.NotNil(t, c.InitWFn)
	assert.NoError(t, c.Validate(testActions, testStates))

	_, err = LoadConfig(filepath.Join(t.TempDir(), "config.toml"))
	assert.Error(t, err)
}

func TestLoadConfigKeepsZeros(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
observation_shape: [6]
fc_layers: [4]
sf_layers: [4]
gradient_clip_norm: 40
final_random_option_prob: 0
final_random_action_prob: 0
termination_margin: 0
`), 0o644))
	jsonPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
	"observation_shape": [6], "fc_layers": [4], "sf_layers": [4],
	"gradient_clip_norm": 40, "final_random_option_prob": 0,
	"final_random_action_prob": 0, "termination_margin": 0
}`), 0o644))

	for _, path := range []string{yamlPath, jsonPath} {
		c, err := LoadConfig(path)
		require.NoError(t, err, path)
		assert.Zero(t, c.FinalRandomOptionProb, path)
		assert.Zero(t, c.FinalRandomActionProb, path)
		assert.Zero(t, c.TerminationMargin, path)

		// Missing fields keep their defaults
		assert.Equal(t, DefaultCriticCoef, c.CriticCoef, path)
		assert.Equal(t, DefaultDiscount, c.Discount, path)
		assert.Equal(t, DefaultNbOptions, c.NbOptions, path)
		require.NoError(t, c.Validate(testActions, testStates))

		// A greedy worker built from the config keeps its zero
		// exploration
		g, err := NewGlobal(c, testActions, testStates)
		require.NoError(t, err)
		assert.Zero(t, g.Config().FinalRandomOptionProb)
	}
}

func TestBuildMalformedConfig(t *testing.T) {
	c := testConfig()
	c.GradientClipNorm = 0

	h, err := Build(GlobalScope, c, testActions, testStates)
	assert.Nil(t, h)
	var cerr *ConfigError
	assert.True(t, errors.As(err, &cerr))

	h, err = Build("worker_0", c, testActions, testStates)
	assert.Nil(t, h)
	assert.Error(t, err)
}

func TestBuildScopes(t *testing.T) {
	c := testConfig()
	h, err := Build(GlobalScope, c, testActions, testStates)
	require.NoError(t, err)
	g, ok := h.(*Global)
	require.True(t, ok)
	assert.Equal(t, testStates, g.Matrix().Capacity())
	assert.Equal(t, 5, g.Matrix().Dim())

	h, err = Build("worker_1", c, testActions, testStates)
	require.NoError(t, err)
	n, ok := h.(*Network)
	require.True(t, ok)
	defer n.Close()
	assert.Equal(t, g.Heads(), n.Heads())
	assert.Contains(t, n.Heads(), HeadEigenOption)

	plain := testConfig()
	plain.Eigen = false
	h, err = Build(GlobalScope, plain, testActions, testStates)
	require.NoError(t, err)
	assert.NotContains(t, h.Heads(), HeadEigenOption)
}

func TestForwardShapes(t *testing.T) {
	c := testConfig()
	_, n := newTestPair(t, c)
	const batch = 3

	obs := testBatch(c, batch).Observations
	out, err := n.Forward(obs, batch)
	require.NoError(t, err)

	assertDims(t, out.Latent, batch, 4)
	assertDims(t, out.SF, batch, 5)
	assertDims(t, out.Q, batch, 2+testActions)
	assertDims(t, out.Eigen, batch, 2)
	assertDims(t, out.Termination, batch, 2)
	require.Len(t, out.Policies, 2)
	assert.Len(t, out.V, batch)
	assert.Len(t, out.EigenV, batch)

	for i := 0; i < batch; i++ {
		for _, p := range out.Termination.RawRowView(i) {
			assert.True(t, p > 0 && p < 1)
		}
		for o := range out.Policies {
			row := out.Policies[o].RawRowView(i)
			assert.InDelta(t, 1, floats.Sum(row), 1e-5)
		}
		assert.InDelta(t, n.OptionValue(out.Q.RawRowView(i)), out.V[i], 1e-12)
	}

	// Forward with the same latent features gives the same heads
	sf, err := n.PredictSF(out.Latent)
	require.NoError(t, err)
	assert.InDeltaSlice(t, out.SF.RawMatrix().Data, sf.RawMatrix().Data, 1e-12)

	recon, err := n.Reconstruct(obs, []int{0, 1, 2})
	require.NoError(t, err)
	assertDims(t, recon, batch, 6)

	_, err = n.Forward(obs[:5], batch)
	assert.Error(t, err)
}

func TestConvForward(t *testing.T) {
	c := testConfig()
	c.ObservationShape = []int{1, 7, 7}
	c.ConvLayers = []network.ConvSpec{{Kernel: 3, Stride: 2, Filters: 2}}
	c.AuxActionOneHot = true
	_, n := newTestPair(t, c)

	obs := make([]float64, 2*49)
	for i := range obs {
		obs[i] = float64(i%7) / 7
	}
	out, err := n.Forward(obs, 2)
	require.NoError(t, err)
	assertDims(t, out.Latent, 2, 4)

	grads, _, err := n.Gradients(testBatch(c, 2))
	require.NoError(t, err)
	assert.Len(t, grads[StreamAux],
		len(n.Replica().Parameters(AuxHeads...)))
}

func TestSelectOptionFraction(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	q := []float64{0, 1, 0.5, 0.2}
	const (
		epsilon = 0.1
		draws   = 20000
	)

	greedy := 0
	for i := 0; i < draws; i++ {
		o := SelectOption(q, epsilon, rng)
		require.True(t, o >= 0 && o < len(q))
		if o == 1 {
			greedy++
		}
	}
	// Uniform draws also select the greedy option
	want := 1 - epsilon + epsilon/float64(len(q))
	assert.InDelta(t, want, float64(greedy)/draws, 0.01)

	// Ties go to the first maximising option
	assert.Equal(t, 0, SelectOption([]float64{2, 2}, 0, rng))
}

func TestOptionValueAndTermination(t *testing.T) {
	_, n := newTestPair(t, testConfig())

	q := []float64{1, 3, 0, 0, 1}
	assert.InDelta(t, 0.9*3+0.1, n.OptionValue(q), 1e-12)

	// Primitive values precede the eigen values
	eigen := []float64{4, 0}
	assert.InDelta(t, 0.9*4+0.1*1, n.EigenOptionValue(q, eigen), 1e-12)

	assert.False(t, n.IsPrimitive(1))
	assert.True(t, n.IsPrimitive(2))
	assert.Equal(t, 0, n.PrimitiveAction(2))

	assert.True(t, n.ShouldTerminate([]float64{0, 0}, 3))
	assert.True(t, n.ShouldTerminate([]float64{1, 0}, 0))
	assert.False(t, n.ShouldTerminate([]float64{1, 0}, 1))

	assert.Equal(t, 2, n.SampleAction([]float64{0, 0, 1}))
}

func TestGradientsAndLosses(t *testing.T) {
	c := testConfig()
	_, n := newTestPair(t, c)

	grads, losses, err := n.Gradients(testBatch(c, 4))
	require.NoError(t, err)

	for _, s := range Streams {
		params := n.Replica().Parameters(s.Heads()...)
		require.Len(t, grads[s], len(params), "stream %v", s)
		for i, p := range params {
			assert.Len(t, grads[s][i], p.Shape().TotalSize())
		}
	}

	for _, l := range []float64{losses.SF, losses.Aux, losses.Critic,
		losses.Termination, losses.Entropy, losses.Policy,
		losses.EigenCritic, losses.Option} {
		assert.False(t, math.IsNaN(l) || math.IsInf(l, 0))
	}
	assert.Positive(t, losses.Entropy)
	want := losses.Policy - losses.Entropy + losses.Critic +
		losses.Termination + losses.EigenCritic
	assert.InDelta(t, want, losses.Option, 1e-9)

	bad := testBatch(c, 4)
	bad.Options[0] = 99
	_, _, err = n.Gradients(bad)
	assert.Error(t, err)

	bad = testBatch(c, 4)
	bad.EigenReturns = nil
	_, _, err = n.Gradients(bad)
	assert.Error(t, err)
}

// handLosses computes the option losses of b from the forward outputs
// of n
func handLosses(t *testing.T, n *Network, b *Batch) *LossBundle {
	t.Helper()
	c := n.Config()
	out, err := n.Forward(b.Observations, b.Len())
	require.NoError(t, err)

	size := float64(b.Len())
	l := &LossBundle{}
	for i, o := range b.Options {
		q := out.Q.At(i, o)
		td := b.Returns[i] - q
		l.Critic += 0.5 * c.CriticCoef * td * td / size

		// Primitive rows are masked out of the termination, policy and
		// eigen-value terms
		primitive := o >= c.NbOptions
		var pi []float64
		if primitive {
			pi = make([]float64, n.ActionSize())
		} else {
			beta := out.Termination.At(i, o)
			l.Termination += beta * (q - out.V[i] + c.TerminationMargin) / size
			pi = out.Policies[o].RawRowView(i)
		}

		var entropy float64
		for _, p := range pi {
			entropy -= p * math.Log(p+1e-7)
		}
		l.Entropy += c.FinalRandomActionProb * entropy / size

		advantage := td
		if c.Eigen {
			eigenTD := b.EigenReturns[i]
			if !primitive {
				eigenTD -= out.Eigen.At(i, o)
			}
			l.EigenCritic += 0.5 * c.EigenCriticCoef * eigenTD * eigenTD / size
			advantage = eigenTD
		}
		l.Policy -= math.Log(pi[b.Actions[i]]+1e-7) * advantage / size
	}
	l.Option = l.Policy - l.Entropy + l.Critic + l.Termination +
		l.EigenCritic
	return l
}

func TestOptionLossValues(t *testing.T) {
	for _, eigen := range []bool{true, false} {
		c := testConfig()
		c.Eigen = eigen
		_, n := newTestPair(t, c)

		b := testBatch(c, 6)
		require.True(t, n.IsPrimitive(b.Options[2]), "batch has primitive rows")

		_, got, err := n.Gradients(b)
		require.NoError(t, err)
		want := handLosses(t, n, b)

		assert.InDelta(t, want.Critic, got.Critic, 1e-9, "eigen %v", eigen)
		assert.InDelta(t, want.Termination, got.Termination, 1e-9,
			"eigen %v", eigen)
		assert.InDelta(t, want.Entropy, got.Entropy, 1e-9, "eigen %v", eigen)
		assert.InDelta(t, want.Policy, got.Policy, 1e-9, "eigen %v", eigen)
		assert.InDelta(t, want.EigenCritic, got.EigenCritic, 1e-9,
			"eigen %v", eigen)
		assert.InDelta(t, want.Option, got.Option, 1e-9, "eigen %v", eigen)
	}
}

func TestGradientIsolation(t *testing.T) {
	c := testConfig()
	_, n := newTestPair(t, c)
	b := testBatch(c, 4)

	_, before, err := n.Gradients(b)
	require.NoError(t, err)

	for _, p := range n.Replica().Parameters(HeadActionEmbed, HeadAux) {
		floats.AddConst(0.5, p.Data())
	}

	_, after, err := n.Gradients(b)
	require.NoError(t, err)

	assert.NotEqual(t, before.Aux, after.Aux)
	assert.Equal(t, before.SF, after.SF)
	assert.Equal(t, before.Critic, after.Critic)
	assert.Equal(t, before.Termination, after.Termination)
	assert.Equal(t, before.Entropy, after.Entropy)
	assert.Equal(t, before.Policy, after.Policy)
	assert.Equal(t, before.EigenCritic, after.EigenCritic)
}

func TestCoordinatorApply(t *testing.T) {
	c := testConfig()
	c.GradientClipNorm = 1e-3
	g, n := newTestPair(t, c)

	before := g.Shared().Snapshot()
	losses, norms, err := g.Coordinator().Train(n, testBatch(c, 4))
	require.NoError(t, err)
	require.NotNil(t, losses)
	assert.Len(t, norms, len(Streams))
	assert.Equal(t, uint64(len(Streams)), g.Shared().Pushes())

	after := g.Shared().Snapshot()
	for _, head := range []network.HeadID{HeadSF, HeadOption, HeadEncoder} {
		var moved float64
		b, a := before.Parameters(head), after.Parameters(head)
		for i := range b {
			moved += floats.Distance(b[i].Data(), a[i].Data(), 1)
		}
		assert.Positive(t, moved, "head %v", head)
	}

	// The worker is unchanged until it pulls
	local := n.Replica().Parameters(HeadSF)
	assert.Equal(t, before.Parameters(HeadSF)[0].Data(), local[0].Data())
	require.NoError(t, n.Pull(g, SFHeads...))
	assert.Equal(t, after.Parameters(HeadSF)[0].Data(), local[0].Data())

	grads, _, err := n.Gradients(testBatch(c, 4))
	require.NoError(t, err)
	only := grads.Only(StreamSF, StreamAux)
	assert.Len(t, only, 2)
	assert.NotContains(t, only, StreamOption)

	grads[StreamAux][0][0] = math.NaN()
	_, err = g.Coordinator().Apply(grads)
	assert.ErrorIs(t, err, ErrNonFinite)
	assert.Equal(t, uint64(len(Streams)), g.Shared().Pushes())

	norms, err = g.Coordinator().Apply(grads.Only(StreamSF))
	require.NoError(t, err)
	assert.Len(t, norms, 1)
	assert.Equal(t, uint64(len(Streams)+1), g.Shared().Pushes())
}

func TestCoordinatorClips(t *testing.T) {
	c := testConfig()
	c.Solver, _ = solver.NewVanilla(1)
	g, n := newTestPair(t, c)

	grads, _, err := n.Gradients(testBatch(c, 4))
	require.NoError(t, err)
	sfGrads := grads[StreamSF]
	norm := network.GlobalNorm(sfGrads)
	require.Positive(t, norm)

	coordinator, err := NewCoordinator(g.Shared(), norm/2, nil)
	require.NoError(t, err)

	before := g.Shared().Snapshot().Parameters(HeadSF)
	norms, err := coordinator.Apply(Gradients{StreamSF: sfGrads})
	require.NoError(t, err)
	assert.InDelta(t, norm, norms[StreamSF], 1e-12)
	after := g.Shared().Snapshot().Parameters(HeadSF)

	// With plain gradient descent at step size 1 the update is the
	// clipped gradient itself
	step := make([][]float64, len(before))
	for i := range before {
		step[i] = make([]float64, len(before[i].Data()))
		floats.SubTo(step[i], before[i].Data(), after[i].Data())
	}
	assert.InDelta(t, norm/2, network.GlobalNorm(step), 1e-9)

	_, err = NewCoordinator(g.Shared(), 0, nil)
	assert.ErrorIs(t, err, ErrMissing)
}

func TestTargetNetworkPull(t *testing.T) {
	c := testConfig()
	g, n := newTestPair(t, c)
	target, err := g.NewWorker("worker_0_target")
	require.NoError(t, err)
	defer target.Close()

	for _, p := range n.Replica().Parameters() {
		floats.AddConst(1, p.Data())
	}
	require.NoError(t, target.PullNetwork(n, SFHeads...))

	assert.Equal(t, n.Replica().Parameters(HeadSF)[0].Data(),
		target.Replica().Parameters(HeadSF)[0].Data())
	assert.NotEqual(t, n.Replica().Parameters(HeadOption)[0].Data(),
		target.Replica().Parameters(HeadOption)[0].Data())
}

func TestGlobalMatrix(t *testing.T) {
	c := testConfig()
	c.SFMatrixPath = filepath.Join(t.TempDir(), "sf_matrix.npy")
	g, err := NewGlobal(c, testActions, testStates)
	require.NoError(t, err)

	// A missing matrix file is a cold start, whose zero rows have no
	// eigenpurposes
	assert.Equal(t, testStates, g.Matrix().Len())
	assert.Nil(t, g.Directions())

	require.NoError(t, g.Matrix().Append([]float64{1, 0, 0, 0, 0}))
	assert.Nil(t, g.Directions(), "directions change only on refresh")

	require.NoError(t, g.RefreshDirections())
	dirs := g.Directions()
	require.Len(t, dirs, c.NbOptions)
	assert.InDelta(t, 1, math.Abs(dirs[0][0]), 1e-9)

	// Rows appended during a stage leave the frozen directions as they
	// are
	frozen := make([]float64, len(dirs[0]))
	copy(frozen, dirs[0])
	for i := 0; i < testStates; i++ {
		require.NoError(t, g.Matrix().Append([]float64{0, 0, 0, 2, 0}))
	}
	assert.Equal(t, frozen, g.Directions()[0])

	require.NoError(t, g.Close())
	reopened, err := NewGlobal(c, testActions, testStates)
	require.NoError(t, err)
	snap := reopened.Matrix().Snapshot()
	assert.Equal(t, []float64{0, 0, 0, 2, 0}, snap.RawRowView(testStates-1))

	// The persisted matrix is decomposed when the next stage starts
	dirs = reopened.Directions()
	require.Len(t, dirs, c.NbOptions)
	assert.InDelta(t, 1, math.Abs(dirs[0][3]), 1e-9)
}

func TestGlobalTooFewRows(t *testing.T) {
	c := testConfig()
	g, err := NewGlobal(c, testActions, testStates)
	require.NoError(t, err)
	assert.Nil(t, g.Directions(), "empty matrix")

	require.NoError(t, g.Matrix().Append([]float64{1, 2, 3, 4, 5}))
	require.NoError(t, g.RefreshDirections())
	assert.Nil(t, g.Directions(), "one direction for two options")

	require.NoError(t, g.Matrix().Append([]float64{0, 1, 0, 0, 0}))
	require.NoError(t, g.RefreshDirections())
	assert.Len(t, g.Directions(), c.NbOptions)
}

func BenchmarkForward(b *testing.B) {
	c := testConfig()
	g, err := NewGlobal(c, testActions, testStates)
	require.NoError(b, err)
	n, err := g.NewWorker("worker_0")
	require.NoError(b, err)
	defer n.Close()

	batch := testBatch(c, 16)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := n.Forward(batch.Observations, 16); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGradients(b *testing.B) {
	c := testConfig()
	g, err := NewGlobal(c, testActions, testStates)
	require.NoError(b, err)
	n, err := g.NewWorker("worker_0")
	require.NoError(b, err)
	defer n.Close()

	batch := testBatch(c, 16)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := n.Gradients(batch); err != nil {
			b.Fatal(err)
		}
	}
}
