package ai

import (
	"github.com/norne/arenanav/game/geom"
	"github.com/norne/arenanav/game/world"
)

// LineOfSight reports whether the straight segment between the centres of a
// and b crosses no obstacle cell. Every cell the segment touches is tested
// (supercover rasterization); where the segment passes exactly through a cell
// corner both side cells must be clear, matching the search's no-corner-cutting
// rule.
func LineOfSight(w *world.WorldModel, a, b geom.Cell) bool {
	dx, dy := b.X-a.X, b.Y-a.Y
	nx, ny := abs(dx), abs(dy)
	sx, sy := sign(dx), sign(dy)

	x, y := a.X, a.Y
	if w.IsObstacle(geom.Cell{X: x, Y: y}) {
		return false
	}
	for ix, iy := 0, 0; ix < nx || iy < ny; {
		d := (1+2*ix)*ny - (1+2*iy)*nx
		switch {
		case d == 0:
			if w.IsObstacle(geom.Cell{X: x + sx, Y: y}) || w.IsObstacle(geom.Cell{X: x, Y: y + sy}) {
				return false
			}
			x += sx
			y += sy
			ix++
			iy++
		case d < 0:
			x += sx
			ix++
		default:
			y += sy
			iy++
		}
		if w.IsObstacle(geom.Cell{X: x, Y: y}) {
			return false
		}
	}
	return true
}

// Smooth shortcuts a raw cell route by line of sight. From each anchor it
// jumps to the farthest later cell it can see, so the result is the anchors
// after the start, ending with the last cell of route. A route of one cell
// smooths to nothing.
func Smooth(w *world.WorldModel, route []geom.Cell) []geom.Cell {
	if len(route) < 2 {
		return nil
	}
	var out []geom.Cell
	anchor := 0
	last := len(route) - 1
	for anchor < last {
		next := anchor + 1
		for j := last; j > anchor+1; j-- {
			if LineOfSight(w, route[anchor], route[j]) {
				next = j
				break
			}
		}
		out = append(out, route[next])
		anchor = next
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
