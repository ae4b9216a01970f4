package eigenpurpose

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestAppendNeverExceedsCapacity(t *testing.T) {
	e, err := New(3, 2)
	require.NoError(t, err)
	assert.Nil(t, e.Snapshot())

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Append([]float64{float64(i), float64(-i)}))
		assert.LessOrEqual(t, e.Len(), 3)
	}

	// Rows 0 and 1 were evicted first
	want := []float64{2, -2, 3, -3, 4, -4}
	assert.Equal(t, want, e.Snapshot().RawMatrix().Data)

	assert.Error(t, e.Append([]float64{1}))
}

func TestConcurrentAppend(t *testing.T) {
	e, err := New(50, 4)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				assert.NoError(t, e.Append([]float64{float64(w), 1, 2, 3}))
				if i%10 == 0 {
					snap := e.Snapshot()
					r, c := snap.Dims()
					assert.LessOrEqual(t, r, 50)
					assert.Equal(t, 4, c)
				}
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 50, e.Len())
}

func TestDecomposeExample(t *testing.T) {
	e, err := New(4, 2)
	require.NoError(t, err)
	for _, row := range [][]float64{{1, 0}, {0, 1}, {1, 1}, {-1, 1}} {
		require.NoError(t, e.Append(row))
	}

	d, err := e.Decompose()
	require.NoError(t, err)
	require.Len(t, d.Values, 2)
	assert.GreaterOrEqual(t, d.Values[0], d.Values[1])
	assert.InDelta(t, math.Sqrt(3), d.Values[0], 1e-9)
	assert.InDelta(t, math.Sqrt(3), d.Values[1], 1e-9)

	for j := 0; j < 2; j++ {
		assert.InDelta(t, 1, floats.Norm(mat.Col(nil, j, d.V), 2), 1e-9)
		assert.InDelta(t, 1, floats.Norm(mat.Col(nil, j, d.U), 2), 1e-9)
	}

	dir, err := d.DirectionForOption(0, false)
	require.NoError(t, err)
	assert.Equal(t, mat.Col(nil, 0, d.V), dir)

	flipped, err := d.DirectionForOption(0, true)
	require.NoError(t, err)
	for i := range dir {
		assert.Equal(t, -dir[i], flipped[i])
	}

	_, err = d.DirectionForOption(2, false)
	assert.Error(t, err)
}

func TestRightSingularVectorsOrthonormal(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	e, err := New(40, 6)
	require.NoError(t, err)
	for i := 0; i < 40; i++ {
		row := make([]float64, 6)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		require.NoError(t, e.Append(row))
	}

	d, err := e.Decompose()
	require.NoError(t, err)
	for i := 1; i < len(d.Values); i++ {
		assert.GreaterOrEqual(t, d.Values[i-1], d.Values[i])
	}

	var gram mat.Dense
	gram.Mul(d.V.T(), d.V)
	r, c := gram.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			assert.InDelta(t, want, gram.At(i, j), 1e-4)
		}
	}
}

func TestDecomposeDegenerate(t *testing.T) {
	e, err := New(5, 3)
	require.NoError(t, err)
	_, err = e.Decompose()
	assert.ErrorIs(t, err, ErrEmpty)

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Append([]float64{0, 0, 0}))
	}
	d, err := e.Decompose()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0, 0}, d.Values, 1e-12)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "sf_matrix.npy")
	e, err := New(4, 3)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		row := []float64{float64(i) / 3, math.Pi * float64(i), -1e-9}
		require.NoError(t, e.Append(row))
	}
	require.NoError(t, e.Save(path))

	loaded, err := Open(path, 4, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Len())
	assert.Equal(t, e.Snapshot().RawMatrix().Data,
		loaded.Snapshot().RawMatrix().Data)

	// Appending after a load continues FIFO order
	require.NoError(t, loaded.Append([]float64{9, 9, 9}))
	got := loaded.Snapshot().RawMatrix().Data
	assert.Equal(t, []float64{9, 9, 9}, got[len(got)-3:])
	assert.Equal(t, e.Snapshot().RawMatrix().Data[3:], got[:9])

	_, err = Open(path, 4, 5)
	assert.Error(t, err)
}

func TestOpenColdStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.npy")
	e, err := Open(path, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, e.Len())
	assert.Equal(t, make([]float64, 6), e.Snapshot().RawMatrix().Data)

	require.NoError(t, e.Append([]float64{1, 2}))
	assert.Equal(t, []float64{0, 0, 0, 0, 1, 2},
		e.Snapshot().RawMatrix().Data)

	_, err = e.Decompose()
	assert.NoError(t, err)
}

func TestPersistEvery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sf_matrix.npy")
	e, err := New(10, 2, WithPersistence(path, 3))
	require.NoError(t, err)

	require.NoError(t, e.Append([]float64{1, 1}))
	require.NoError(t, e.Append([]float64{2, 2}))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, e.Append([]float64{3, 3}))
	loaded, err := Open(path, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Len())
}

func TestConcurrentPersist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.npy")
	e, err := New(20, 3, WithPersistence(path, 1))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, e.Append([]float64{float64(w), float64(i), 1}))
			}
		}(w)
	}
	wg.Wait()

	loaded, err := Open(path, 20, 3)
	require.NoError(t, err)
	assert.Equal(t, 20, loaded.Len())

	// Every temporary file was renamed into place
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "m.npy", entries[0].Name())
}

func TestPersistSnapshots(t *testing.T) {
	dir := t.TempDir()
	e, err := New(10, 2, WithSnapshots(filepath.Join(dir, "m.npy"), 2))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Append([]float64{float64(i), 1}))
	}

	first, err := ReadMatrix(filepath.Join(dir, "m_1.npy"))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 1, 1}, first.RawMatrix().Data)

	second, err := ReadMatrix(filepath.Join(dir, "m_2.npy"))
	require.NoError(t, err)
	r, _ := second.Dims()
	assert.Equal(t, 4, r)

	_, err = os.Stat(filepath.Join(dir, "m_3.npy"))
	assert.True(t, os.IsNotExist(err))
}

func TestIntrinsicReward(t *testing.T) {
	r := IntrinsicReward([]float64{1, 0}, []float64{0.5, 2}, []float64{1.5, -4})
	assert.Equal(t, 1.0, r)
}

func TestTabularSFFixedPoint(t *testing.T) {
	g, err := ParseGrid(`
		...
		.#.
		...
	`)
	require.NoError(t, err)
	require.Equal(t, 8, g.NumStates())
	assert.Equal(t, -1, g.State(1, 1))
	assert.Equal(t, g.State(0, 1), g.Next(g.State(0, 1), Down))
	assert.Equal(t, g.State(0, 0), g.Next(g.State(0, 1), Left))

	const discount = 0.9
	sweeps := 0
	sf, n, err := TabularSF(g, discount, 1e-10, 10000, func() { sweeps++ })
	require.NoError(t, err)
	assert.Equal(t, n, sweeps)
	assert.Less(t, n, 10000)

	// Each row satisfies ψ(s) = e_s + γ mean_a ψ(s')
	for s := 0; s < g.NumStates(); s++ {
		want := make([]float64, g.NumStates())
		for a := 0; a < g.NumActions(); a++ {
			floats.Add(want, sf.RawRowView(g.Next(s, a)))
		}
		floats.Scale(discount/4, want)
		want[s]++

		assert.True(t, cmp.Equal(want, sf.RawRowView(s),
			cmpopts.EquateApprox(0, 1e-8)), "row %d", s)
	}

	_, _, err = TabularSF(g, 1, 1e-3, 10, nil)
	assert.Error(t, err)
}

func TestTabularSFStopsAtTheta(t *testing.T) {
	g, err := NewGrid(1, 1)
	require.NoError(t, err)

	// The first sweep of a single absorbing state changes ψ from 1 to
	// 1 + γ, so a change of exactly theta ends the iteration
	sf, n, err := TabularSF(g, 0.5, 0.5, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.5, sf.At(0, 0))

	_, n, err = TabularSF(g, 0.5, 0.25, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRenderHeatmap(t *testing.T) {
	g, err := NewGrid(2, 3)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "direction.png")
	require.NoError(t, RenderHeatmap(g, []float64{-1, 0, 1, 0.5, -0.5, 0},
		8, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	assert.Error(t, RenderHeatmap(g, []float64{1}, 8, path))
}

func BenchmarkDecompose(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	e, err := New(256, 32)
	require.NoError(b, err)
	row := make([]float64, 32)
	for i := 0; i < 256; i++ {
		for j := range row {
			row[j] = rng.Float64()
		}
		require.NoError(b, e.Append(row))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Decompose(); err != nil {
			b.Fatal(err)
		}
	}
}
