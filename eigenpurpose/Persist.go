package eigenpurpose

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sbinet/npyio"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// Save writes the rows currently held, oldest first, to filename as a
// two-dimensional .npy array
func (e *Engine) Save(filename string) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	return e.save(filename)
}

func (e *Engine) save(filename string) error {
	m := e.Snapshot()
	if m == nil {
		return fmt.Errorf("save: %v: %w", filename, ErrEmpty)
	}

	if err := WriteMatrix(filename, m); err != nil {
		return fmt.Errorf("save: %w", err)
	}

	e.logger.Info("saved successor feature matrix",
		zap.String("path", filename),
		zap.Int("rows", m.RawMatrix().Rows),
	)
	return nil
}

// Load replaces the buffer contents with the rows stored in filename
func (e *Engine) Load(filename string) error {
	m, err := ReadMatrix(filename)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	return e.load(m)
}

// WriteMatrix atomically writes m to filename as a two-dimensional
// .npy array, creating parent directories as needed
func WriteMatrix(filename string, m *mat.Dense) error {
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("writeMatrix: %w", err)
		}
	}

	// Each write has its own temporary file, so concurrent writes to
	// filename never rename each other's file away
	f, err := os.CreateTemp(filepath.Dir(filename),
		filepath.Base(filename)+".*.tmp")
	if err != nil {
		return fmt.Errorf("writeMatrix: %w", err)
	}
	tmp := f.Name()
	if err := npyio.Write(f, m); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writeMatrix: %v: %w", filename, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writeMatrix: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writeMatrix: %w", err)
	}
	return nil
}

// ReadMatrix reads a two-dimensional .npy array from filename
func ReadMatrix(filename string) (*mat.Dense, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("readMatrix: %w", err)
	}
	defer f.Close()

	var m mat.Dense
	if err := npyio.Read(f, &m); err != nil {
		return nil, fmt.Errorf("readMatrix: %v: %w", filename, err)
	}
	return &m, nil
}

// Open returns an Engine of the given capacity and dimension whose
// contents are loaded from filename. If filename does not exist the
// Engine is cold started: it is full of zero rows, which are evicted
// first as new rows are appended.
func Open(filename string, capacity, dim int, opts ...Option) (*Engine,
	error) {
	e, err := New(capacity, dim, opts...)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	err = e.Load(filename)
	if errors.Is(err, fs.ErrNotExist) {
		e.mu.Lock()
		e.count = capacity
		e.next = 0
		e.mu.Unlock()

		e.logger.Info("no successor feature matrix found, cold starting",
			zap.String("path", filename),
			zap.Int("capacity", capacity),
		)
		return e, nil
	} else if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	e.logger.Info("loaded successor feature matrix",
		zap.String("path", filename),
		zap.Int("rows", e.Len()),
	)
	return e, nil
}
