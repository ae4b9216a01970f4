package network

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// GlobalNorm returns the L2 norm of all gradients taken together
func GlobalNorm(grads [][]float64) float64 {
	var sq float64
	for _, g := range grads {
		n := floats.Norm(g, 2)
		sq += n * n
	}
	return math.Sqrt(sq)
}

// ClipByGlobalNorm scales every gradient in place by
// clip / max(norm, clip), where norm is the global norm of grads, so
// that the clipped global norm never exceeds clip. The global norm
// before clipping is returned.
func ClipByGlobalNorm(grads [][]float64, clip float64) float64 {
	norm := GlobalNorm(grads)
	if norm <= clip || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return norm
	}

	scale := clip / norm
	for _, g := range grads {
		floats.Scale(scale, g)
	}
	return norm
}
