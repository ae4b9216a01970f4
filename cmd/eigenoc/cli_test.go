package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestTabularAndDecompose(t *testing.T) {
	dir := t.TempDir()
	execute(t, "tabular", "--rows", "3", "--cols", "4", "--discount", "0.5",
		"--options", "2", "--out", dir)

	matrix := filepath.Join(dir, "sf_matrix.npy")
	assert.FileExists(t, matrix)
	assert.FileExists(t, filepath.Join(dir, "eigenpurpose_0.png"))
	assert.FileExists(t, filepath.Join(dir, "eigenpurpose_1.png"))

	out := execute(t, "decompose", "--matrix", matrix, "--option", "1")
	assert.Contains(t, out, "singular values:")
	assert.Contains(t, out, "direction 1:")
}

func TestValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	config := []byte(`
observation_shape: [9]
fc_layers: [16, 8]
sf_layers: [8]
nb_options: 2
include_primitive_options: true
eigen: true
gradient_clip_norm: 40
`)
	require.NoError(t, os.WriteFile(path, config, 0o644))

	out := execute(t, "validate", "--config", path, "--actions", "4",
		"--states", "9")
	assert.Contains(t, out, "ok: 6 options")
}

func TestTrain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	config := []byte(`
rows: 2
cols: 2
agent:
  fc_layers: [8, 4]
  sf_layers: [4]
  nb_options: 2
  include_primitive_options: true
  eigen: true
  gradient_clip_norm: 40
  num_workers: 2
experiment:
  max_steps: 20
  rollout_length: 5
  episode_cutoff: 10
  goal: 3
  replay:
    batch_size: 4
    memory_size: 16
    min_memory_size: 4
`)
	require.NoError(t, os.WriteFile(path, config, 0o644))

	execute(t, "train", "--config", path, "--out", dir)
	assert.FileExists(t, filepath.Join(dir, "returns.npy"))
	assert.FileExists(t, filepath.Join(dir, "episode_lengths.npy"))
}
