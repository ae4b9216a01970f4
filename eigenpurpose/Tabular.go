package eigenpurpose

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// TransitionModel is a deterministic tabular environment model
type TransitionModel interface {
	NumStates() int
	NumActions() int

	// Next returns the state reached by taking action in state
	Next(state, action int) int
}

// Grid actions, in the order used by the gridworld environments
const (
	Left = iota
	Right
	Up
	Down
)

// Grid is a deterministic gridworld whose states are its free cells.
// Moving into a wall or off the grid leaves the agent in place.
type Grid struct {
	rows, cols int
	walls      []bool // rows * cols
	index      []int  // cell -> state, -1 for walls
	cells      []int  // state -> cell
}

// NewGrid returns an open grid with no walls
func NewGrid(rows, cols int) (*Grid, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("newGrid: dimensions must be > 0, got %dx%d",
			rows, cols)
	}
	return newGrid(rows, cols, make([]bool, rows*cols))
}

// ParseGrid returns a Grid described by an ASCII layout, one line per
// row, where '#' is a wall and any other character is free
func ParseGrid(layout string) (*Grid, error) {
	lines := strings.Split(strings.TrimSpace(layout), "\n")
	rows, cols := len(lines), len(strings.TrimSpace(lines[0]))

	walls := make([]bool, 0, rows*cols)
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) != cols {
			return nil, fmt.Errorf("parseGrid: row %d has %d cells, "+
				"expected %d", i, len(line), cols)
		}
		for _, c := range line {
			walls = append(walls, c == '#')
		}
	}
	return newGrid(rows, cols, walls)
}

func newGrid(rows, cols int, walls []bool) (*Grid, error) {
	g := &Grid{
		rows:  rows,
		cols:  cols,
		walls: walls,
		index: make([]int, rows*cols),
	}
	for cell, wall := range walls {
		if wall {
			g.index[cell] = -1
			continue
		}
		g.index[cell] = len(g.cells)
		g.cells = append(g.cells, cell)
	}
	if len(g.cells) == 0 {
		return nil, fmt.Errorf("newGrid: grid has no free cells")
	}
	return g, nil
}

// Dims returns the number of rows and columns of the grid
func (g *Grid) Dims() (rows, cols int) {
	return g.rows, g.cols
}

// NumStates implements the TransitionModel interface
func (g *Grid) NumStates() int {
	return len(g.cells)
}

// NumActions implements the TransitionModel interface
func (g *Grid) NumActions() int {
	return 4
}

// State returns the state at row r and column c, or -1 if the cell is
// a wall
func (g *Grid) State(r, c int) int {
	return g.index[r*g.cols+c]
}

// Next implements the TransitionModel interface
func (g *Grid) Next(state, action int) int {
	cell := g.cells[state]
	r, c := cell/g.cols, cell%g.cols

	switch action {
	case Left:
		c--
	case Right:
		c++
	case Up:
		r--
	case Down:
		r++
	}
	if r < 0 || r >= g.rows || c < 0 || c >= g.cols || g.walls[r*g.cols+c] {
		return state
	}
	return g.index[r*g.cols+c]
}

// TabularSF computes the successor representation of the uniform
// random policy in model with one-hot state features:
//
//	ψ(s) = e_s + γ mean_a ψ(next(s, a))
//
// Sweeps are made in place until the largest L1 change of a row in a
// sweep is at most theta, or maxSweeps sweeps have been made. The
// number of sweeps made is returned along with the matrix, whose row s
// is ψ(s). If progress is not nil it is called after every sweep.
func TabularSF(model TransitionModel, discount, theta float64,
	maxSweeps int, progress func()) (*mat.Dense, int, error) {
	if discount < 0 || discount >= 1 {
		return nil, 0, fmt.Errorf("tabularSF: discount must be in [0, 1)")
	}
	if theta <= 0 || maxSweeps <= 0 {
		return nil, 0, fmt.Errorf("tabularSF: theta and maxSweeps must be " +
			"> 0")
	}

	n, actions := model.NumStates(), model.NumActions()
	sf := mat.NewDense(n, n, nil)
	for s := 0; s < n; s++ {
		sf.Set(s, s, 1)
	}

	update := make([]float64, n)
	diff := make([]float64, n)
	sweeps := 0
	for delta := math.Inf(1); delta > theta && sweeps < maxSweeps; sweeps++ {
		delta = 0
		for s := 0; s < n; s++ {
			for i := range update {
				update[i] = 0
			}
			for a := 0; a < actions; a++ {
				floats.Add(update, sf.RawRowView(model.Next(s, a)))
			}
			floats.Scale(discount/float64(actions), update)
			update[s]++

			floats.SubTo(diff, sf.RawRowView(s), update)
			delta = math.Max(delta, floats.Norm(diff, 1))
			sf.SetRow(s, update)
		}
		if progress != nil {
			progress()
		}
	}
	return sf, sweeps, nil
}
