package eigenoc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/samuelfneumann/eigenoc/eigenpurpose"
	"github.com/samuelfneumann/eigenoc/network"
	"go.uber.org/zap"
)

// GlobalScope is the scope of the shared parameters
const GlobalScope = "global"

// Handle is the common behaviour of the values returned by Build
type Handle interface {
	Scope() string
	Heads() []network.HeadID
}

// Build builds the network of scope. The GlobalScope builds a *Global
// holding the shared parameters, the optimizer and the
// successor-feature matrix; any other scope builds a trainable
// *Network. A malformed configuration returns an error and nothing is
// built.
func Build(scope string, c Config, actionSize, stateDim int,
	opts ...Option) (Handle, error) {
	if scope == GlobalScope {
		g, err := NewGlobal(c, actionSize, stateDim, opts...)
		if err != nil {
			return nil, fmt.Errorf("build: %w", err)
		}
		return g, nil
	}

	n, err := NewNetwork(scope, c, actionSize, stateDim, opts...)
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}
	return n, nil
}

// Global holds the state shared by every worker: the global
// parameters with their optimizer, the successor-feature matrix, and
// the eigenpurposes decomposed from it. It computes no losses.
type Global struct {
	cfg        Config
	actionSize int
	stateDim   int

	shared      *network.SharedReplica
	coordinator *Coordinator
	matrix      *eigenpurpose.Engine

	dirMu      sync.RWMutex
	directions [][]float64 // frozen until the next RefreshDirections

	base   *zap.Logger // handed to workers
	logger *zap.Logger
}

// NewGlobal returns a new Global for an environment with actionSize
// actions and stateDim states. The successor-feature matrix is loaded
// from the configured path, or cold started if there is none.
func NewGlobal(c Config, actionSize, stateDim int,
	opts ...Option) (*Global, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("newGlobal: %w", err)
	}
	c = c.withDefaults()
	if err := c.Validate(actionSize, stateDim); err != nil {
		return nil, fmt.Errorf("newGlobal: %w", err)
	}
	logger := o.logger.With(zap.String("scope", GlobalScope))

	r := network.NewRegistry()
	if _, err := newHeads(r, c, actionSize); err != nil {
		return nil, fmt.Errorf("newGlobal: %w", err)
	}
	if _, err := newValueStrategy(r, c); err != nil {
		return nil, fmt.Errorf("newGlobal: %w", err)
	}

	shared, err := network.NewSharedReplica(r, c.Solver, logger)
	if err != nil {
		return nil, fmt.Errorf("newGlobal: %w", err)
	}
	coordinator, err := NewCoordinator(shared, c.GradientClipNorm, logger)
	if err != nil {
		return nil, fmt.Errorf("newGlobal: %w", err)
	}

	matrixOpts := []eigenpurpose.Option{eigenpurpose.WithLogger(logger)}
	if c.SFMatrixPersistEvery > 0 {
		persist := eigenpurpose.WithPersistence
		if c.SFMatrixKeepSnapshots {
			persist = eigenpurpose.WithSnapshots
		}
		matrixOpts = append(matrixOpts, persist(c.SFMatrixPath,
			c.SFMatrixPersistEvery))
	}
	size := c.sfMatrixSize(stateDim)
	var matrix *eigenpurpose.Engine
	if c.SFMatrixPath != "" {
		matrix, err = eigenpurpose.Open(c.SFMatrixPath, size, c.SFDim(),
			matrixOpts...)
	} else {
		matrix, err = eigenpurpose.New(size, c.SFDim(), matrixOpts...)
	}
	if err != nil {
		return nil, fmt.Errorf("newGlobal: %w", err)
	}

	logger.Info("built global network",
		zap.Int("weights", r.NumParameters()),
		zap.Int("sf_matrix_size", size),
		zap.Int("sf_dim", c.SFDim()),
	)

	g := &Global{
		cfg:         c,
		actionSize:  actionSize,
		stateDim:    stateDim,
		shared:      shared,
		coordinator: coordinator,
		matrix:      matrix,
		base:        o.logger,
		logger:      logger,
	}
	if c.Eigen {
		if err := g.RefreshDirections(); err != nil {
			return nil, fmt.Errorf("newGlobal: %w", err)
		}
	}
	return g, nil
}

// Scope returns GlobalScope
func (g *Global) Scope() string {
	return GlobalScope
}

// Heads returns the heads of the global parameters
func (g *Global) Heads() []network.HeadID {
	return g.shared.Heads()
}

// Config returns the configuration of the Global, with defaults
// filled in
func (g *Global) Config() Config {
	return g.cfg
}

// Shared returns the global parameters
func (g *Global) Shared() *network.SharedReplica {
	return g.shared
}

// Coordinator returns the Coordinator applying gradients to the
// global parameters
func (g *Global) Coordinator() *Coordinator {
	return g.coordinator
}

// Matrix returns the successor-feature matrix
func (g *Global) Matrix() *eigenpurpose.Engine {
	return g.matrix
}

// NewWorker builds a trainable Network for scope and synchronises it
// with the global parameters
func (g *Global) NewWorker(scope string, opts ...Option) (*Network, error) {
	if scope == GlobalScope {
		return nil, fmt.Errorf("newWorker: scope %v is reserved", scope)
	}
	opts = append([]Option{WithLogger(g.base)}, opts...)
	n, err := NewNetwork(scope, g.cfg, g.actionSize, g.stateDim, opts...)
	if err != nil {
		return nil, fmt.Errorf("newWorker: %w", err)
	}
	if err := n.Pull(g); err != nil {
		return nil, fmt.Errorf("newWorker: %w", err)
	}
	return n, nil
}

// Directions returns the eigenpurposes of the non-primitive options
// frozen by the last RefreshDirections, or nil if there are none. The
// returned directions must not be modified.
func (g *Global) Directions() [][]float64 {
	g.dirMu.RLock()
	defer g.dirMu.RUnlock()
	return g.directions
}

// RefreshDirections decomposes a snapshot of the successor-feature
// matrix and freezes the eigenpurpose of every non-primitive option,
// flipped if configured, until the next call. It is called at stage
// boundaries; NewGlobal calls it once for eigen options. Rows appended
// after a refresh do not change the directions.
//
// A matrix that is empty or all zero, such as a cold start, or whose
// decomposition has fewer directions than options yields no
// directions.
func (g *Global) RefreshDirections() error {
	dirs, err := g.decompose()
	if err != nil {
		return fmt.Errorf("refreshDirections: %w", err)
	}

	g.dirMu.Lock()
	g.directions = dirs
	g.dirMu.Unlock()
	return nil
}

func (g *Global) decompose() ([][]float64, error) {
	d, err := g.matrix.Decompose()
	if errors.Is(err, eigenpurpose.ErrEmpty) {
		g.logger.Info("successor-feature matrix is empty, options have " +
			"no eigenpurposes")
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	if len(d.Values) == 0 || d.Values[0] == 0 {
		g.logger.Info("successor-feature matrix is all zero, options "+
			"have no eigenpurposes", zap.Int("rows", d.Rows))
		return nil, nil
	}
	if d.NumDirections() < g.cfg.NbOptions {
		g.logger.Warn("successor-feature matrix has too few rows for "+
			"every option, options have no eigenpurposes",
			zap.Int("rows", d.Rows),
			zap.Int("options", g.cfg.NbOptions),
		)
		return nil, nil
	}

	dirs, err := d.Directions(g.cfg.NbOptions, g.cfg.FlipEigenpurpose)
	if err != nil {
		return nil, err
	}
	g.logger.Info("froze eigenpurposes",
		zap.Int("rows", d.Rows),
		zap.Float64s("singular_values", d.Values),
	)
	return dirs, nil
}

// Close persists the successor-feature matrix if a path is configured
func (g *Global) Close() error {
	if g.cfg.SFMatrixPath == "" || g.matrix.Len() == 0 {
		return nil
	}
	if err := g.matrix.Save(g.cfg.SFMatrixPath); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
