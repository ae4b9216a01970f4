package expreplay

import (
	"fmt"
	"sync"

	"github.com/samuelfneumann/eigenoc/agent/eigenoc"
)

// fifoCache implements a concrete ExperienceReplayer as a ring: once
// full, each added transition overwrites the oldest one.
type fifoCache struct {
	mu sync.RWMutex // Guards the following caches

	obsCache         []float64
	actionCache      []int
	optionCache      []int
	returnCache      []float64
	eigenReturnCache []float64
	nextObsCache     []float64
	targetSFCache    []float64

	next   int // Position written by the next Add
	isFull bool

	sampler Selector

	minCapacity int
	maxCapacity int
	obsSize     int
	sfDim       int
}

func newFifoCache(sampler Selector, minCapacity, maxCapacity, obsSize,
	sfDim int) *fifoCache {
	return &fifoCache{
		obsCache:         make([]float64, maxCapacity*obsSize),
		actionCache:      make([]int, maxCapacity),
		optionCache:      make([]int, maxCapacity),
		returnCache:      make([]float64, maxCapacity),
		eigenReturnCache: make([]float64, maxCapacity),
		nextObsCache:     make([]float64, maxCapacity*obsSize),
		targetSFCache:    make([]float64, maxCapacity*sfDim),

		sampler: sampler,

		minCapacity: minCapacity,
		maxCapacity: maxCapacity,
		obsSize:     obsSize,
		sfDim:       sfDim,
	}
}

// String returns the string representation of the fifoCache
func (c *fifoCache) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("FIFO replay(%d/%d, batch %d)", c.len(),
		c.maxCapacity, c.sampler.BatchSize())
}

// len returns the number of stored transitions. The caller must hold
// the lock.
func (c *fifoCache) len() int {
	if c.isFull {
		return c.maxCapacity
	}
	return c.next
}

// insertOrder returns the positions of the stored transitions from
// oldest to newest. The caller must hold the lock.
func (c *fifoCache) insertOrder() []int {
	order := make([]int, 0, c.len())
	if c.isFull {
		for i := c.next; i < c.maxCapacity; i++ {
			order = append(order, i)
		}
	}
	for i := 0; i < c.next; i++ {
		order = append(order, i)
	}
	return order
}

// BatchSize returns the number of samples sampled using Sample() -
// a.k.a the batch size
func (c *fifoCache) BatchSize() int {
	return c.sampler.BatchSize()
}

// Capacity returns the current number of elements in the fifoCache
// that are available for sampling
func (c *fifoCache) Capacity() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.len()
}

// MaxCapacity returns the maximum number of elements that are allowed
// in the fifoCache
func (c *fifoCache) MaxCapacity() int {
	return c.maxCapacity
}

// MinCapacity returns the minimum number of elements required in the
// fifoCache before sampling is allowed
func (c *fifoCache) MinCapacity() int {
	return c.minCapacity
}

// Add adds a transition to the fifoCache
func (c *fifoCache) Add(t Transition) error {
	if len(t.Observation) != c.obsSize || len(t.NextObservation) != c.obsSize {
		return fmt.Errorf("add: invalid observation size \n\twant(%v)"+
			"\n\thave(%v, %v)", c.obsSize, len(t.Observation),
			len(t.NextObservation))
	}
	if len(t.TargetSF) != c.sfDim {
		return fmt.Errorf("add: invalid successor feature size \n\twant(%v)"+
			"\n\thave(%v)", c.sfDim, len(t.TargetSF))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	index := c.next
	copy(c.obsCache[index*c.obsSize:(index+1)*c.obsSize], t.Observation)
	copy(c.nextObsCache[index*c.obsSize:(index+1)*c.obsSize],
		t.NextObservation)
	copy(c.targetSFCache[index*c.sfDim:(index+1)*c.sfDim], t.TargetSF)
	c.actionCache[index] = t.Action
	c.optionCache[index] = t.Option
	c.returnCache[index] = t.Return
	c.eigenReturnCache[index] = t.EigenReturn

	c.next = (c.next + 1) % c.maxCapacity
	if c.next == 0 {
		c.isFull = true
	}
	return nil
}

// AddBatch adds every transition of b to the fifoCache, in order
func (c *fifoCache) AddBatch(b *eigenoc.Batch) error {
	size := b.Len()
	if len(b.Observations) != size*c.obsSize ||
		len(b.NextObservations) != size*c.obsSize ||
		len(b.TargetSF) != size*c.sfDim || len(b.Options) != size ||
		len(b.Returns) != size {
		return fmt.Errorf("addBatch: batch of %d transitions has "+
			"inconsistent lengths", size)
	}
	for i := 0; i < b.Len(); i++ {
		t := Transition{
			Observation:     rowOf(b.Observations, i, c.obsSize),
			Action:          b.Actions[i],
			Option:          b.Options[i],
			Return:          b.Returns[i],
			NextObservation: rowOf(b.NextObservations, i, c.obsSize),
			TargetSF:        rowOf(b.TargetSF, i, c.sfDim),
		}
		if len(b.EigenReturns) == size {
			t.EigenReturn = b.EigenReturns[i]
		}
		if err := c.Add(t); err != nil {
			return fmt.Errorf("addBatch: transition %d: %w", i, err)
		}
	}
	return nil
}

// Sample samples and returns a batch of transitions from the replay
// buffer
func (c *fifoCache) Sample() (*eigenoc.Batch, error) {
	// Selectors carry their own state, so sampling is exclusive
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.len() == 0 {
		return nil, &ExpReplayError{Op: "sample", Err: errEmptyCache}
	}
	if c.len() < c.minCapacity {
		return nil, &ExpReplayError{Op: "sample", Err: errInsufficientSamples}
	}

	indices := c.sampler.choose(c)
	size := len(indices)
	b := &eigenoc.Batch{
		Observations:     make([]float64, size*c.obsSize),
		Actions:          make([]int, size),
		Options:          make([]int, size),
		Returns:          make([]float64, size),
		EigenReturns:     make([]float64, size),
		NextObservations: make([]float64, size*c.obsSize),
		TargetSF:         make([]float64, size*c.sfDim),
	}
	for i, index := range indices {
		copy(rowOf(b.Observations, i, c.obsSize),
			rowOf(c.obsCache, index, c.obsSize))
		copy(rowOf(b.NextObservations, i, c.obsSize),
			rowOf(c.nextObsCache, index, c.obsSize))
		copy(rowOf(b.TargetSF, i, c.sfDim),
			rowOf(c.targetSFCache, index, c.sfDim))
		b.Actions[i] = c.actionCache[index]
		b.Options[i] = c.optionCache[index]
		b.Returns[i] = c.returnCache[index]
		b.EigenReturns[i] = c.eigenReturnCache[index]
	}
	return b, nil
}

// rowOf returns row i of a row-major slice with rows of width cols
func rowOf(data []float64, i, cols int) []float64 {
	return data[i*cols : (i+1)*cols]
}
