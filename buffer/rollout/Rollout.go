// Package rollout implements a buffer of on-policy rollout steps which
// computes the bootstrapped return, eigen return and successor-feature
// targets of each step when its trajectory segment ends.
package rollout

import (
	"fmt"

	"github.com/samuelfneumann/eigenoc/agent/eigenoc"
	"gonum.org/v1/gonum/floats"
)

// Step is a single environment step taken by a worker
type Step struct {
	Observation     []float64
	Action          int
	Option          int
	Reward          float64
	EigenReward     float64 // intrinsic reward of the option's eigenpurpose
	NextObservation []float64
	Features        []float64 // rectified latent features of Observation
}

// Bootstrap holds the estimates at the step following a trajectory
// segment. All values are zero at a terminal state.
type Bootstrap struct {
	Value      float64
	EigenValue float64
	SF         []float64
}

// Buffer stores the steps of a rollout and computes their
// bootstrapped targets. The buffer is adapted from a forward view
// advantage buffer:
//
// https://github.com/openai/spinningup/tree/master/spinup/algos/tf1/vpg
type Buffer struct {
	obsSize int // Size of state observations
	sfDim   int // Size of successor features
	maxSize int // Max buffer size

	currentPos   int // Current position in the buffer
	pathStartIdx int // Position in the buffer where current trajectory starts

	gamma float64 // Discount factor ℽ

	// Buffers for storing data
	obsBuffer      []float64
	nextObsBuffer  []float64
	featBuffer     []float64
	actBuffer      []int
	optBuffer      []int
	rewBuffer      []float64
	eigenRewBuffer []float64

	// Targets, filled by FinishPath
	retBuffer      []float64
	eigenRetBuffer []float64
	sfBuffer       []float64
}

// New creates and returns a new rollout buffer of size steps with
// discount gamma
func New(obsSize, sfDim, size int, gamma float64) (*Buffer, error) {
	if obsSize <= 0 || sfDim <= 0 || size <= 0 {
		return nil, fmt.Errorf("new: sizes must be > 0")
	}
	if gamma < 0 || gamma > 1 {
		return nil, fmt.Errorf("new: discount must be in [0, 1], got %v",
			gamma)
	}

	return &Buffer{
		obsSize:        obsSize,
		sfDim:          sfDim,
		maxSize:        size,
		gamma:          gamma,
		obsBuffer:      make([]float64, size*obsSize),
		nextObsBuffer:  make([]float64, size*obsSize),
		featBuffer:     make([]float64, size*sfDim),
		actBuffer:      make([]int, size),
		optBuffer:      make([]int, size),
		rewBuffer:      make([]float64, size),
		eigenRewBuffer: make([]float64, size),
		retBuffer:      make([]float64, size),
		eigenRetBuffer: make([]float64, size),
		sfBuffer:       make([]float64, size*sfDim),
	}, nil
}

// Len returns the number of stored steps
func (v *Buffer) Len() int {
	return v.currentPos
}

// Full returns whether no more steps can be stored
func (v *Buffer) Full() bool {
	return v.currentPos == v.maxSize
}

// Store stores a single step to the Buffer
func (v *Buffer) Store(s Step) error {
	if v.currentPos >= v.maxSize {
		return fmt.Errorf("store: cannot add new step, buffer at " +
			"maximum capacity")
	}
	if len(s.Observation) != v.obsSize || len(s.NextObservation) != v.obsSize {
		return fmt.Errorf("store: illegal obs length \n\twant(%v)\n\thave(%v)",
			v.obsSize, len(s.Observation))
	}
	if len(s.Features) != v.sfDim {
		return fmt.Errorf("store: illegal features length \n\twant(%v)"+
			"\n\thave(%v)", v.sfDim, len(s.Features))
	}

	i := v.currentPos
	copy(v.obsBuffer[i*v.obsSize:(i+1)*v.obsSize], s.Observation)
	copy(v.nextObsBuffer[i*v.obsSize:(i+1)*v.obsSize], s.NextObservation)
	copy(v.featBuffer[i*v.sfDim:(i+1)*v.sfDim], s.Features)
	v.actBuffer[i] = s.Action
	v.optBuffer[i] = s.Option
	v.rewBuffer[i] = s.Reward
	v.eigenRewBuffer[i] = s.EigenReward
	v.currentPos++
	return nil
}

// FinishPath computes the targets of every step of the current
// trajectory segment. This should be called at the end of a trajectory
// or when one gets cut off by the rollout ending.
//
// At a terminal state last should be the zero Bootstrap; otherwise it
// holds the estimates of the state following the segment, which
// bootstrap the targets of the steps before it. A nil last.SF is
// treated as zero.
func (v *Buffer) FinishPath(last Bootstrap) error {
	if last.SF != nil && len(last.SF) != v.sfDim {
		return fmt.Errorf("finishPath: illegal bootstrap features length "+
			"\n\twant(%v)\n\thave(%v)", v.sfDim, len(last.SF))
	}
	start := v.pathStartIdx
	stop := v.currentPos
	if start == stop {
		return nil
	}

	rews := append(append([]float64{}, v.rewBuffer[start:stop]...),
		last.Value)
	rets := DiscountCumSum(rews, v.gamma)
	copy(v.retBuffer[start:stop], rets[:len(rets)-1])

	eigenRews := append(append([]float64{}, v.eigenRewBuffer[start:stop]...),
		last.EigenValue)
	eigenRets := DiscountCumSum(eigenRews, v.gamma)
	copy(v.eigenRetBuffer[start:stop], eigenRets[:len(eigenRets)-1])

	// ψ_t = φ_t + ℽψ_{t+1}
	next := make([]float64, v.sfDim)
	if last.SF != nil {
		copy(next, last.SF)
	}
	for i := stop - 1; i >= start; i-- {
		target := v.sfBuffer[i*v.sfDim : (i+1)*v.sfDim]
		floats.AddScaledTo(target, v.featBuffer[i*v.sfDim:(i+1)*v.sfDim],
			v.gamma, next)
		next = target
	}

	v.pathStartIdx = v.currentPos
	return nil
}

// Batch returns the stored steps with their targets as a batch and
// empties the buffer. Every trajectory segment must be finished first.
func (v *Buffer) Batch() (*eigenoc.Batch, error) {
	if v.currentPos == 0 {
		return nil, fmt.Errorf("batch: buffer is empty")
	}
	if v.pathStartIdx != v.currentPos {
		return nil, fmt.Errorf("batch: current path must be finished " +
			"before sampling")
	}

	n := v.currentPos
	b := &eigenoc.Batch{
		Observations:     cloneFloats(v.obsBuffer[:n*v.obsSize]),
		Actions:          cloneInts(v.actBuffer[:n]),
		Options:          cloneInts(v.optBuffer[:n]),
		Returns:          cloneFloats(v.retBuffer[:n]),
		EigenReturns:     cloneFloats(v.eigenRetBuffer[:n]),
		NextObservations: cloneFloats(v.nextObsBuffer[:n*v.obsSize]),
		TargetSF:         cloneFloats(v.sfBuffer[:n*v.sfDim]),
	}
	v.currentPos = 0
	v.pathStartIdx = 0
	return b, nil
}

// DiscountCumSum computes and returns the discounted cumulative sum
// of all elements of a vector. Given a vector v = [x0 x1 x2 ... xN]
// and discount ℽ, this function computes and returns:
//
// [
//	x0 + ℽ x1 + ℽ^2 x2 + ℽ^3 x3 + ... + ℽ^(N-1) x(N-1) + ℽ^N xN
//	x1 + ℽ^1 x2 + ℽ^2 x3 + ... + ℽ^(N-2) x(N-1) + ℽ^(N-1) xN
//	x2 + ℽ^1 x3 + ... + ℽ^(N-3) x(N-1) + ℽ^(N-2) xN
// ...
// xN
// ]
func DiscountCumSum(x []float64, discount float64) []float64 {
	cumSums := make([]float64, len(x))
	var running float64
	for i := len(x) - 1; i >= 0; i-- {
		running = x[i] + discount*running
		cumSums[i] = running
	}
	return cumSums
}

func cloneFloats(x []float64) []float64 {
	return append([]float64(nil), x...)
}

func cloneInts(x []int) []int {
	return append([]int(nil), x...)
}
