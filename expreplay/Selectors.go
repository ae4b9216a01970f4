package expreplay

import (
	"fmt"

	"golang.org/x/exp/rand"
)

// SelectorType names a way of choosing which stored transitions are
// sampled
type SelectorType string

const (
	// Uniform samples transitions uniformly randomly with replacement
	Uniform SelectorType = "uniform"

	// Recent samples the most recently added transitions
	Recent SelectorType = "recent"
)

// Selector implements functionality for choosing how data should be
// sampled from an experience replay buffer
type Selector interface {
	// choose selects the indices at which data should be sampled from
	// the experience replay buffer
	choose(c *fifoCache) []int

	// BatchSize returns the number of elements that will be selected
	BatchSize() int
}

// CreateSelector returns a new Selector of type t drawing samples
// transitions at a time
func CreateSelector(t SelectorType, samples int, seed uint64) (Selector,
	error) {
	if samples <= 0 {
		return nil, fmt.Errorf("createSelector: batch size must be > 0")
	}
	switch t {
	case Uniform, "":
		return NewUniformSelector(samples, seed), nil
	case Recent:
		return NewRecentSelector(samples), nil
	}
	return nil, fmt.Errorf("createSelector: unknown selector type %q", t)
}

// uniformSelector is a Selector which selects data from an experience
// replay buffer uniformly randomly
type uniformSelector struct {
	samples int
	rng     *rand.Rand
}

// NewUniformSelector returns a new Selector which selects data uniformly
// randomly from an experience replay buffer
func NewUniformSelector(samples int, seed uint64) Selector {
	return &uniformSelector{
		samples: samples,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// BatchSize gets the number of samples in a batch drawn from the buffer
func (u *uniformSelector) BatchSize() int {
	return u.samples
}

// choose selects a number of indices at which to draw data from the
// buffer
func (u *uniformSelector) choose(c *fifoCache) []int {
	selected := make([]int, u.BatchSize())
	for i := range selected {
		selected[i] = u.rng.Intn(c.len())
	}
	return selected
}

// recentSelector is a Selector which selects the most recently added
// data, newest first
type recentSelector struct {
	samples int
}

// NewRecentSelector returns a new Selector which draws the most recent
// transitions from an experience replay buffer
func NewRecentSelector(samples int) Selector {
	return &recentSelector{samples: samples}
}

// BatchSize gets the number of samples in a batch drawn from the buffer
func (r *recentSelector) BatchSize() int {
	return r.samples
}

// choose selects a number of indices at which to draw data from the
// buffer. If the buffer holds fewer transitions than the batch size,
// the newest ones are repeated.
func (r *recentSelector) choose(c *fifoCache) []int {
	order := c.insertOrder()
	selected := make([]int, r.BatchSize())
	for i := range selected {
		selected[i] = order[len(order)-1-i%len(order)]
	}
	return selected
}
