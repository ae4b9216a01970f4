package network

import (
	"fmt"
	"sync"

	"github.com/samuelfneumann/eigenoc/solver"
	"go.uber.org/zap"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ParameterReplica is a worker-local copy of every head's parameters.
// It is read and written by a single worker.
type ParameterReplica struct {
	scope string
	*Registry
}

// NewParameterReplica returns a new ParameterReplica for scope that
// owns the parameters in r
func NewParameterReplica(scope string, r *Registry) *ParameterReplica {
	return &ParameterReplica{scope: scope, Registry: r}
}

// Scope returns the scope name of the replica
func (p *ParameterReplica) Scope() string {
	return p.scope
}

// Pull copies the current global values of the given heads into the
// replica. If no heads are given, every head is copied.
func (p *ParameterReplica) Pull(src *SharedReplica, heads ...HeadID) error {
	src.mu.RLock()
	defer src.mu.RUnlock()

	if err := p.copyHeads(src.registry, heads...); err != nil {
		return fmt.Errorf("pull: %v: %w", p.scope, err)
	}
	return nil
}

// PullReplica copies the given heads of another local replica into
// this one. It is used to refresh target replicas.
func (p *ParameterReplica) PullReplica(src *ParameterReplica,
	heads ...HeadID) error {
	if err := p.copyHeads(src.Registry, heads...); err != nil {
		return fmt.Errorf("pullReplica: %v: %w", p.scope, err)
	}
	return nil
}

// slot adapts a global Parameter to the Gorgonia ValueGrad interface
// so that a Gorgonia Solver can update it in place.
type slot struct {
	param  *Parameter
	grad   *tensor.Dense
	solver *solver.Solver
}

// Value implements the G.ValueGrad interface
func (s *slot) Value() G.Value {
	return s.param.value
}

// Grad implements the G.ValueGrad interface
func (s *slot) Grad() (G.Value, error) {
	return s.grad, nil
}

// SharedReplica is the single global copy of the parameters. It is
// only written through Push and read by workers through Pull.
//
// Each parameter owns its own optimizer state, cloned from a single
// solver configuration, so a gradient stream updates exactly the
// moments of the parameters it touches.
type SharedReplica struct {
	mu       sync.RWMutex
	registry *Registry
	slots    map[*Parameter]*slot
	pushes   uint64
	logger   *zap.Logger
}

// NewSharedReplica returns a new SharedReplica owning the parameters
// in r, updated with the optimizer described by s
func NewSharedReplica(r *Registry, s *solver.Solver,
	logger *zap.Logger) (*SharedReplica, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	slots := make(map[*Parameter]*slot)
	for _, p := range r.Parameters() {
		paramSolver, err := s.Clone()
		if err != nil {
			return nil, fmt.Errorf("newSharedReplica: %w", err)
		}
		slots[p] = &slot{
			param:  p,
			grad:   tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(p.Shape()...)),
			solver: paramSolver,
		}
	}
	logger.Debug("created shared replica",
		zap.Int("heads", len(r.Heads())),
		zap.Int("weights", r.NumParameters()),
		zap.Stringer("solver", s),
	)

	return &SharedReplica{
		registry: r,
		slots:    slots,
		logger:   logger,
	}, nil
}

// NewLocal returns a new ParameterReplica for scope holding a copy of
// the current global values
func (s *SharedReplica) NewLocal(scope string) *ParameterReplica {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return NewParameterReplica(scope, s.registry.Clone())
}

// Heads returns the heads held by the replica
func (s *SharedReplica) Heads() []HeadID {
	return s.registry.Heads()
}

// Pushes returns the number of gradient applications made so far
func (s *SharedReplica) Pushes() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pushes
}

// Snapshot returns a deep copy of the global parameters
func (s *SharedReplica) Snapshot() *Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.Clone()
}

// Push applies one gradient per parameter of the given heads to the
// global parameters. The gradients must be ordered as
// Registry.Parameters(heads...) orders them.
//
// A Push is atomic with respect to other Pushes and Pulls.
func (s *SharedReplica) Push(heads []HeadID, grads [][]float64) error {
	params := s.registry.Parameters(heads...)
	if len(params) != len(grads) {
		return fmt.Errorf("push: expected %d gradients for heads %v but "+
			"got %d", len(params), heads, len(grads))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range params {
		sl := s.slots[p]
		data := sl.grad.Data().([]float64)
		if len(data) != len(grads[i]) {
			return fmt.Errorf("push: gradient for %v has %d elements, "+
				"expected %d", p.name, len(grads[i]), len(data))
		}
		copy(data, grads[i])

		if err := sl.solver.Step([]G.ValueGrad{sl}); err != nil {
			return fmt.Errorf("push: could not step %v: %w", p.name, err)
		}
	}
	s.pushes++

	return nil
}
