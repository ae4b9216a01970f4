package solver

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestUnmarshalYAML(t *testing.T) {
	data := []byte(`
type: RMSProp
config:
  step_size: 0.0007
`)
	var s Solver
	require.NoError(t, yaml.Unmarshal(data, &s))

	assert.Equal(t, RMSProp, s.Type)
	config, ok := s.Config.(RMSPropConfig)
	require.True(t, ok)
	assert.Equal(t, 0.0007, config.StepSize)
	assert.Equal(t, 0.99, config.Rho)
	assert.Equal(t, 1, config.Batch)
	assert.NotNil(t, s.Solver)
}

func TestJSONRoundTrip(t *testing.T) {
	adam, err := NewDefaultAdam(1e-3)
	require.NoError(t, err)

	data, err := json.Marshal(adam)
	require.NoError(t, err)

	var s Solver
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, Adam, s.Type)
	assert.Equal(t, adam.Config, s.Config)
	assert.NotNil(t, s.Solver)
}

func TestUnknownType(t *testing.T) {
	var s Solver
	err := yaml.Unmarshal([]byte("type: Nesterov\n"), &s)
	assert.Error(t, err)

	_, err = New("Nesterov", 0.1)
	assert.Error(t, err)
}

func TestInvalidHyperparameters(t *testing.T) {
	_, err := NewVanilla(0)
	assert.Error(t, err)

	_, err = NewAdam(1e-3, 1e-8, 1.5, 0.999, 1)
	assert.Error(t, err)
}

func TestClone(t *testing.T) {
	s, err := New(Vanilla, 0.5)
	require.NoError(t, err)

	c, err := s.Clone()
	require.NoError(t, err)
	assert.Equal(t, s.Config, c.Config)
	assert.NotSame(t, s, c)
}
