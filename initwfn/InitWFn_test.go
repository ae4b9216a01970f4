package initwfn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNormalizedColumns(t *testing.T) {
	init := New(NormalizedColumnsConfig{StdDev: 0.01, Seed: 3})
	w := init.Tensor(6, 4)
	require.Equal(t, []int{6, 4}, []int(w.Shape()))

	data := w.Data().([]float64)
	for c := 0; c < 4; c++ {
		var sq float64
		for r := 0; r < 6; r++ {
			sq += data[r*4+c] * data[r*4+c]
		}
		assert.InDelta(t, 0.01, math.Sqrt(sq), 1e-12)
	}
}

func TestUnmarshalYAML(t *testing.T) {
	var w InitWFn
	require.NoError(t, yaml.Unmarshal([]byte("type: GlorotU\nconfig: {gain: 2}\n"), &w))
	assert.Equal(t, GlorotU, w.Type)
	assert.Equal(t, GlorotUConfig{Gain: 2}, w.Config)
	assert.NotNil(t, w.InitWFn())

	var z InitWFn
	require.NoError(t, yaml.Unmarshal([]byte("type: Zeroes\n"), &z))
	for _, v := range z.Tensor(2, 3).Data().([]float64) {
		assert.Zero(t, v)
	}

	var bad InitWFn
	assert.Error(t, yaml.Unmarshal([]byte("type: Orthogonal\n"), &bad))
}
