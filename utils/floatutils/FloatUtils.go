// Package floatutils provides utilities for working with floats
package floatutils

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Argmax returns the first index of the maximum value in values
func Argmax(values []float64) int {
	return floats.MaxIdx(values)
}

// EpsilonGreedyValue returns the expected value of acting
// epsilon-greedily with respect to values:
//
//	(1 - ε) max(values) + ε mean(values)
func EpsilonGreedyValue(values []float64, epsilon float64) float64 {
	return (1-epsilon)*floats.Max(values) + epsilon*stat.Mean(values, nil)
}
