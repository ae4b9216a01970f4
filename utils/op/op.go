// Package op provides extended Gorgonia graph operations.
//
// Adapted from aunum/gold on GitHub
package op

import (
	"fmt"
	"sync/atomic"

	G "gorgonia.org/gorgonia"
)

// LogEpsilon is added to probabilities before taking a logarithm
const LogEpsilon = 1e-7

var scalars uint64

// Scalar returns a float64 scalar node with the given value in the
// graph of n. Each call creates a distinct node, the name only serves
// as a prefix.
func Scalar(n *G.Node, value float64, name string) *G.Node {
	id := atomic.AddUint64(&scalars, 1)
	return G.NewScalar(
		n.Graph(),
		G.Float64,
		G.WithValue(value),
		G.WithName(fmt.Sprintf("%s_%d", name, id)),
	)
}

// minimum returns the elementwise minimum of a and b. If values are
// equal the value of a is returned. Either node may be a scalar.
func minimum(a *G.Node, b *G.Node) (*G.Node, error) {
	aMask, err := G.Lte(a, b, true)
	if err != nil {
		return nil, err
	}
	aVal, err := G.HadamardProd(a, aMask)
	if err != nil {
		return nil, err
	}

	bMask, err := G.Gt(a, b, true)
	if err != nil {
		return nil, err
	}
	bVal, err := G.HadamardProd(b, bMask)
	if err != nil {
		return nil, err
	}
	return G.Add(aVal, bVal)
}

// LogSumExp calculates the log of the summation of exponentials of
// all logits along the given axis.
//
// Use this in place of Gorgonia's LogSumExp, which has the final sum
// and log interchanged, which is incorrect.
func LogSumExp(logits *G.Node, along int) *G.Node {
	max := G.Must(G.Max(logits, along))

	exponent := G.Must(G.BroadcastSub(logits, max, nil, []byte{1}))
	exponent = G.Must(G.Exp(exponent))

	sum := G.Must(G.Sum(exponent, along))
	log := G.Must(G.Log(sum))

	return G.Must(G.Add(max, log))
}

// LogSoftmax returns the log of the softmax of a batch of logits of
// shape (batch, n), taken along the second axis
func LogSoftmax(logits *G.Node) *G.Node {
	lse := LogSumExp(logits, 1)
	return G.Must(G.BroadcastSub(logits, lse, nil, []byte{1}))
}

// Softmax returns the softmax of a batch of logits of shape
// (batch, n), taken along the second axis
func Softmax(logits *G.Node) *G.Node {
	return G.Must(G.Exp(LogSoftmax(logits)))
}

// Gather selects one entry per row of x, a (batch, n) node, using the
// one-hot (batch, n) mask. The result has shape (batch).
func Gather(x, oneHot *G.Node) *G.Node {
	masked := G.Must(G.HadamardProd(x, oneHot))
	return G.Must(G.Sum(masked, 1))
}

// Huber returns the elementwise Huber loss of residual with threshold
// delta:
//
//	0.5 r²                 if |r| <= delta
//	delta (|r| - 0.5 delta) otherwise
func Huber(residual *G.Node, delta float64) *G.Node {
	deltaNode := Scalar(residual, delta, "huber_delta")
	half := Scalar(residual, 0.5, "half")

	abs := G.Must(G.Abs(residual))
	quadratic := G.Must(minimum(abs, deltaNode))
	linear := G.Must(G.Sub(abs, quadratic))

	sq := G.Must(G.Square(quadratic))
	sq = G.Must(G.HadamardProd(half, sq))
	lin := G.Must(G.HadamardProd(deltaNode, linear))

	return G.Must(G.Add(sq, lin))
}

// Entropy returns the entropy of each row of a (batch, n) node of
// probabilities, using LogEpsilon to guard the logarithm. The result
// has shape (batch).
func Entropy(probs *G.Node) *G.Node {
	eps := Scalar(probs, LogEpsilon, "entropy_eps")
	logProbs := G.Must(G.Add(probs, eps))
	logProbs = G.Must(G.Log(logProbs))

	plogp := G.Must(G.HadamardProd(probs, logProbs))
	return G.Must(G.Neg(G.Must(G.Sum(plogp, 1))))
}

// SafeLog returns log(x + LogEpsilon)
func SafeLog(x *G.Node) *G.Node {
	eps := Scalar(x, LogEpsilon, "log_eps")
	return G.Must(G.Log(G.Must(G.Add(x, eps))))
}
