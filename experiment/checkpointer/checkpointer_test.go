package checkpointer

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	saved []string
}

func (r *recorder) Save(filename string) error {
	r.saved = append(r.saved, filename)
	return nil
}

func TestNStep(t *testing.T) {
	rec := &recorder{}
	c, err := NewNStep(3, rec, Enumerated("sf_matrix.npy"))
	require.NoError(t, err)

	for step := uint64(0); step <= 7; step++ {
		require.NoError(t, c.Checkpoint(step))
	}
	assert.Equal(t, []string{"sf_matrix_1.npy", "sf_matrix_2.npy"}, rec.saved)
}

func TestEnumeratedConcurrent(t *testing.T) {
	next := Enumerated(filepath.Join("out", "m.npy"))

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				name := next()
				mu.Lock()
				seen[name] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 100)
	assert.True(t, seen[filepath.Join("out", "m_100.npy")])
}

func TestFixed(t *testing.T) {
	rec := &recorder{}
	c, err := NewNStep(1, rec, Fixed("m.npy"))
	require.NoError(t, err)

	require.NoError(t, c.Checkpoint(1))
	require.NoError(t, c.Checkpoint(2))
	assert.Equal(t, []string{"m.npy", "m.npy"}, rec.saved)

	_, err = NewNStep(0, rec, Fixed("m.npy"))
	assert.Error(t, err)
}
