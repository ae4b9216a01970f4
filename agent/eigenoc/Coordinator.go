package eigenoc

import (
	"errors"
	"fmt"
	"math"

	"github.com/samuelfneumann/eigenoc/network"
	"go.uber.org/zap"
)

// ErrNonFinite is returned when a gradient stream has a NaN or
// infinite global norm. No stream of the step is applied.
var ErrNonFinite = errors.New("gradient norm is not finite")

// Coordinator clips each gradient stream by its global norm and
// applies it to the shared replica with the shared optimizer
type Coordinator struct {
	shared *network.SharedReplica
	clip   float64
	logger *zap.Logger
}

// NewCoordinator returns a new Coordinator applying gradients to
// shared, clipped to global norm clip
func NewCoordinator(shared *network.SharedReplica, clip float64,
	logger *zap.Logger) (*Coordinator, error) {
	if clip <= 0 {
		return nil, &ConfigError{Field: "gradient_clip_norm", Err: ErrMissing}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{shared: shared, clip: clip, logger: logger}, nil
}

// Apply clips every stream of g, in place, to the global norm clip and
// applies the streams to the shared replica in the order of Streams.
// The pre-clip norm of each applied stream is returned.
//
// Each stream is applied atomically with respect to other Apply calls,
// but streams of different workers may interleave.
func (c *Coordinator) Apply(g Gradients) (map[Stream]float64, error) {
	norms := make(map[Stream]float64, len(g))
	for _, s := range Streams {
		grads, ok := g[s]
		if !ok {
			continue
		}
		norm := network.GlobalNorm(grads)
		if math.IsNaN(norm) || math.IsInf(norm, 0) {
			c.logger.Warn("dropping gradients with non-finite norm",
				zap.Stringer("stream", s),
			)
			return nil, fmt.Errorf("apply: %v: %w", s, ErrNonFinite)
		}
		norms[s] = norm
	}

	for _, s := range Streams {
		grads, ok := g[s]
		if !ok {
			continue
		}
		network.ClipByGlobalNorm(grads, c.clip)
		if err := c.shared.Push(s.Heads(), grads); err != nil {
			return nil, fmt.Errorf("apply: %v: %w", s, err)
		}
	}
	return norms, nil
}

// Train computes the gradients of batch on n and applies them
func (c *Coordinator) Train(n *Network, b *Batch) (*LossBundle,
	map[Stream]float64, error) {
	grads, losses, err := n.Gradients(b)
	if err != nil {
		return nil, nil, fmt.Errorf("train: %w", err)
	}
	norms, err := c.Apply(grads)
	if err != nil {
		return losses, nil, fmt.Errorf("train: %w", err)
	}
	return losses, norms, nil
}
