// Package eigenpurpose accumulates successor-feature vectors and
// extracts eigenpurpose directions from them by singular value
// decomposition.
package eigenpurpose

import (
	"errors"
	"fmt"
	"sync"

	"github.com/samuelfneumann/eigenoc/experiment/checkpointer"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// ErrEmpty is returned when decomposing an engine that holds no rows
var ErrEmpty = errors.New("eigenpurpose: matrix is empty")

// Engine is a bounded FIFO buffer of successor-feature rows. Rows may
// be appended concurrently; Snapshot and Decompose always operate on a
// private copy of the buffer.
type Engine struct {
	mu       sync.RWMutex
	data     []float64 // capacity * dim, ring-ordered
	capacity int
	dim      int
	next     int // slot written by the next Append
	count    int
	appended uint64

	saveMu     sync.Mutex // held while writing the buffer to disk
	checkpoint checkpointer.Checkpointer
	logger     *zap.Logger
}

// Option configures an Engine
type Option func(*Engine) error

// WithLogger sets the logger used by the Engine
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithPersistence saves the buffer to path every n appends,
// overwriting the previous save
func WithPersistence(path string, n int) Option {
	return withCheckpoints(n, checkpointer.Fixed(path))
}

// WithSnapshots saves the buffer every n appends to a new file for
// each save: path_1.npy, path_2.npy, ... for path.npy
func WithSnapshots(path string, n int) Option {
	return withCheckpoints(n, checkpointer.Enumerated(path))
}

func withCheckpoints(n int, filename func() string) Option {
	return func(e *Engine) error {
		c, err := checkpointer.NewNStep(n, saver{e}, filename)
		if err != nil {
			return err
		}
		e.checkpoint = c
		return nil
	}
}

// saver saves an Engine whose save lock is held by the caller
type saver struct {
	e *Engine
}

func (s saver) Save(filename string) error {
	return s.e.save(filename)
}

// New returns an empty Engine holding at most capacity rows of length
// dim
func New(capacity, dim int, opts ...Option) (*Engine, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("new: capacity must be > 0, got %d", capacity)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("new: dimension must be > 0, got %d", dim)
	}

	e := &Engine{
		data:     make([]float64, capacity*dim),
		capacity: capacity,
		dim:      dim,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("new: %w", err)
		}
	}
	return e, nil
}

// Capacity returns the maximum number of rows
func (e *Engine) Capacity() int {
	return e.capacity
}

// Dim returns the length of each row
func (e *Engine) Dim() int {
	return e.dim
}

// Len returns the number of rows currently held
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.count
}

// Append adds a row to the buffer, evicting the oldest row if the
// buffer is full. If persistence is configured, the buffer is saved
// synchronously once every configured number of appends. Saves of
// concurrent appends never overlap.
func (e *Engine) Append(row []float64) error {
	if len(row) != e.dim {
		return fmt.Errorf("append: row has length %d, expected %d", len(row),
			e.dim)
	}

	e.mu.Lock()
	copy(e.data[e.next*e.dim:(e.next+1)*e.dim], row)
	e.next = (e.next + 1) % e.capacity
	if e.count < e.capacity {
		e.count++
	}
	e.appended++
	step := e.appended
	e.mu.Unlock()

	if e.checkpoint != nil {
		e.saveMu.Lock()
		err := e.checkpoint.Checkpoint(step)
		e.saveMu.Unlock()
		if err != nil {
			return fmt.Errorf("append: %w", err)
		}
	}
	return nil
}

// Snapshot returns a copy of the rows currently held, oldest first, or
// nil if the buffer is empty
func (e *Engine) Snapshot() *mat.Dense {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.count == 0 {
		return nil
	}

	out := make([]float64, e.count*e.dim)
	oldest := (e.next - e.count + e.capacity) % e.capacity
	for i := 0; i < e.count; i++ {
		slot := (oldest + i) % e.capacity
		copy(out[i*e.dim:(i+1)*e.dim], e.data[slot*e.dim:(slot+1)*e.dim])
	}
	return mat.NewDense(e.count, e.dim, out)
}

// load replaces the buffer contents with the rows of m. If m has more
// rows than the capacity, only the newest rows are kept.
func (e *Engine) load(m *mat.Dense) error {
	r, c := m.Dims()
	if c != e.dim {
		return fmt.Errorf("load: matrix has %d columns, expected %d", c, e.dim)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.data {
		e.data[i] = 0
	}
	start := 0
	if r > e.capacity {
		start = r - e.capacity
	}
	for i := start; i < r; i++ {
		mat.Row(e.data[(i-start)*e.dim:(i-start+1)*e.dim], i, m)
	}
	e.count = r - start
	e.next = e.count % e.capacity
	return nil
}

// Decompose runs a thin singular value decomposition over a snapshot
// of the buffer. Degenerate buffers, such as an all-zero cold start,
// decompose without error, though their singular vectors are
// arbitrary.
func (e *Engine) Decompose() (*Decomposition, error) {
	m := e.Snapshot()
	if m == nil {
		return nil, ErrEmpty
	}

	d, err := Decompose(m)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("decomposed successor feature matrix",
		zap.Int("rows", d.Rows),
		zap.Float64s("singular_values", d.Values),
	)
	return d, nil
}
