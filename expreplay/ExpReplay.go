// Package expreplay implements experience replay buffers of
// option-critic transitions. Sampled transitions come back as an
// eigenoc.Batch ready to be trained on.
package expreplay

import (
	"fmt"

	"github.com/samuelfneumann/eigenoc/agent/eigenoc"
)

// Config implements a specific configuration of an ExperienceReplayer
type Config struct {
	SampleMethod      SelectorType `yaml:"sample_method" json:"sample_method"`
	SampleSize        int          `yaml:"batch_size" json:"batch_size"`
	MaxReplayCapacity int          `yaml:"memory_size" json:"memory_size"`
	MinReplayCapacity int          `yaml:"min_memory_size" json:"min_memory_size"`
}

// Create creates and returns the ExperienceReplayer with the specified
// Config for observations of size obsSize and successor features of
// size sfDim.
func (c Config) Create(obsSize, sfDim int,
	seed uint64) (ExperienceReplayer, error) {
	sampler, err := CreateSelector(c.SampleMethod, c.SampleSize, seed)
	if err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}
	return New(sampler, c.MinReplayCapacity, c.MaxReplayCapacity, obsSize,
		sfDim)
}

// Transition is a single stored transition with its bootstrapped
// targets
type Transition struct {
	Observation     []float64
	Action          int
	Option          int
	Return          float64
	EigenReturn     float64
	NextObservation []float64
	TargetSF        []float64
}

// ExperienceReplayer implements an experience replay buffer
type ExperienceReplayer interface {
	// Add adds a transition to the buffer, evicting the oldest one if
	// the buffer is full
	Add(t Transition) error

	// AddBatch adds every transition of a batch to the buffer
	AddBatch(b *eigenoc.Batch) error

	// Sample samples a batch of experience from the buffer
	Sample() (*eigenoc.Batch, error)

	// Capacity returns the current number of samples in the buffer
	Capacity() int

	// MaxCapacity returns the maximum allowable samples in the buffer
	MaxCapacity() int

	// MinCapacity returns the number of samples required to be in
	// the buffer before the buffer can be sampled
	MinCapacity() int

	// BatchSize returns the number of samples returned by Sample()
	BatchSize() int
}

// New creates and returns a new ExperienceReplayer. The sampler
// determines how data is sampled from the replay buffer. The obsSize
// and sfDim parameters define the size of the observation and
// successor feature vectors.
//
// Pixel observations should be flattened before adding to the buffer.
func New(sampler Selector, minCapacity, maxCapacity, obsSize,
	sfDim int) (ExperienceReplayer, error) {
	if minCapacity <= 0 {
		return nil, fmt.Errorf("new: minCapacity must be > 0")
	}
	if maxCapacity < minCapacity {
		return nil, fmt.Errorf("new: maxCapacity (%v) must be >= "+
			"minCapacity (%v)", maxCapacity, minCapacity)
	}
	if obsSize <= 0 || sfDim <= 0 {
		return nil, fmt.Errorf("new: observation and successor feature "+
			"sizes must be > 0, got %v and %v", obsSize, sfDim)
	}
	return newFifoCache(sampler, minCapacity, maxCapacity, obsSize, sfDim),
		nil
}
