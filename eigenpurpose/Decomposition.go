package eigenpurpose

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Decomposition is the thin singular value decomposition
// M = U diag(Values) Vᵀ of a successor-feature matrix. The columns of
// V are the eigenpurpose directions, ordered by decreasing singular
// value.
type Decomposition struct {
	Rows   int
	Values []float64
	U      *mat.Dense
	V      *mat.Dense
}

// Decompose returns the thin singular value decomposition of m
func Decompose(m mat.Matrix) (*Decomposition, error) {
	r, _ := m.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDThin); !ok {
		return nil, fmt.Errorf("decompose: singular value decomposition " +
			"did not converge")
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	return &Decomposition{
		Rows:   r,
		Values: svd.Values(nil),
		U:      &u,
		V:      &v,
	}, nil
}

// NumDirections returns the number of eigenpurpose directions
func (d *Decomposition) NumDirections() int {
	return len(d.Values)
}

// DirectionForOption returns the i-th right singular vector, negated
// if flip is set. The sign of a singular vector is arbitrary, so which
// sign an option pursues is left to the caller.
func (d *Decomposition) DirectionForOption(i int, flip bool) ([]float64,
	error) {
	if i < 0 || i >= d.NumDirections() {
		return nil, fmt.Errorf("directionForOption: option %d out of range "+
			"[0, %d)", i, d.NumDirections())
	}

	dir := mat.Col(nil, i, d.V)
	if flip {
		floats.Scale(-1, dir)
	}
	return dir, nil
}

// Directions returns the directions of options 0, ..., n-1, all
// flipped or not according to flip
func (d *Decomposition) Directions(n int, flip bool) ([][]float64, error) {
	dirs := make([][]float64, n)
	for i := range dirs {
		dir, err := d.DirectionForOption(i, flip)
		if err != nil {
			return nil, err
		}
		dirs[i] = dir
	}
	return dirs, nil
}

// IntrinsicReward returns the projection of the successor-feature
// change nextSF - sf onto direction
func IntrinsicReward(direction, sf, nextSF []float64) float64 {
	delta := make([]float64, len(sf))
	floats.SubTo(delta, nextSF, sf)
	return floats.Dot(direction, delta)
}
