// Package geom holds the coordinate types shared by the world model and the
// planner: continuous world positions and discrete grid cells.
package geom

import (
	"math"

	"github.com/ungerik/go3d/float64/vec2"
)

// Cell is an integer grid coordinate.
type Cell struct {
	X, Y int
}

// Vec builds a world position.
func Vec(x, y float64) vec2.T {
	return vec2.T{x, y}
}

// CellOf returns the grid cell containing a world position.
func CellOf(p vec2.T) Cell {
	return Cell{X: int(math.Floor(p[0])), Y: int(math.Floor(p[1]))}
}

// Center returns the world position at the middle of the cell.
func (c Cell) Center() vec2.T {
	return vec2.T{float64(c.X) + 0.5, float64(c.Y) + 0.5}
}

// Add offsets the cell by (dx, dy).
func (c Cell) Add(dx, dy int) Cell {
	return Cell{X: c.X + dx, Y: c.Y + dy}
}

// Distance is the Euclidean distance between two world positions.
func Distance(a, b vec2.T) float64 {
	d := vec2.Sub(&a, &b)
	return d.Length()
}

// Equal reports whether a and b are within tol of each other on both axes.
func Equal(a, b vec2.T, tol float64) bool {
	return math.Abs(a[0]-b[0]) <= tol && math.Abs(a[1]-b[1]) <= tol
}

// Euclidean is the straight-line distance between cell coordinates.
func Euclidean(a, b Cell) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}

// Octile is the exact 8-connected distance on an open grid with unit
// orthogonal and sqrt(2) diagonal steps.
func Octile(a, b Cell) float64 {
	dx := abs(a.X - b.X)
	dy := abs(a.Y - b.Y)
	if dx < dy {
		dx, dy = dy, dx
	}
	return float64(dx-dy) + math.Sqrt2*float64(dy)
}

// Chebyshev is max(|dx|, |dy|).
func Chebyshev(a, b Cell) int {
	dx := abs(a.X - b.X)
	dy := abs(a.Y - b.Y)
	if dx > dy {
		return dx
	}
	return dy
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
