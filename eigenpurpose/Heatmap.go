package eigenpurpose

import (
	"fmt"
	"math"

	"github.com/fogleman/gg"
)

// RenderHeatmap draws one value per grid state as a diverging heat map
// (blue negative, white zero, red positive) and saves it as a PNG.
// Walls are drawn black. Each cell is cellSize pixels wide.
func RenderHeatmap(g *Grid, values []float64, cellSize int,
	filename string) error {
	if len(values) != g.NumStates() {
		return fmt.Errorf("renderHeatmap: got %d values for %d states",
			len(values), g.NumStates())
	}
	if cellSize <= 0 {
		cellSize = 24
	}

	scale := 0.0
	for _, v := range values {
		scale = math.Max(scale, math.Abs(v))
	}
	if scale == 0 {
		scale = 1
	}

	rows, cols := g.Dims()
	dc := gg.NewContext(cols*cellSize, rows*cellSize)
	size := float64(cellSize)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			state := g.State(r, c)
			if state < 0 {
				dc.SetRGB(0, 0, 0)
			} else {
				dc.SetRGB(diverging(values[state] / scale))
			}
			dc.DrawRectangle(float64(c)*size, float64(r)*size, size, size)
			dc.Fill()
		}
	}

	dc.SetRGB(0.6, 0.6, 0.6)
	dc.SetLineWidth(1)
	for r := 0; r <= rows; r++ {
		dc.DrawLine(0, float64(r)*size, float64(cols)*size, float64(r)*size)
	}
	for c := 0; c <= cols; c++ {
		dc.DrawLine(float64(c)*size, 0, float64(c)*size, float64(rows)*size)
	}
	dc.Stroke()

	if err := dc.SavePNG(filename); err != nil {
		return fmt.Errorf("renderHeatmap: %w", err)
	}
	return nil
}

// diverging maps x in [-1, 1] to an RGB colour
func diverging(x float64) (r, g, b float64) {
	x = math.Max(-1, math.Min(1, x))
	if x >= 0 {
		return 1, 1 - x, 1 - x
	}
	return 1 + x, 1 + x, 1
}
