package ai

import (
	"testing"

	"github.com/norne/arenanav/game/geom"
	"github.com/norne/arenanav/game/world"
	"github.com/stretchr/testify/require"
)

// testPositions are the start/target points used across the planner tests on
// a 10x5 grid.
var testPositions = [][2]float64{{3, 4}, {1, 2}, {0, 0}, {9, 4}, {9, 0}, {4, 0}}

func newOpenWorld(t testing.TB, w, h int) *world.WorldModel {
	t.Helper()
	wm, err := world.New(w, h)
	require.NoError(t, err)
	return wm
}

// addObstacles pushes a full-grid observation marking cells as obstacles.
func addObstacles(w *world.WorldModel, cells ...geom.Cell) {
	obs := world.NewObservation(w.Width(), w.Height())
	for _, c := range cells {
		obs.Set(c.X, c.Y, world.ReportObstacle)
	}
	w.Incorporate(obs, geom.Vec(0, 0), 0)
}

// column returns the cells x=col for every y in ys.
func column(col int, ys ...int) []geom.Cell {
	out := make([]geom.Cell, 0, len(ys))
	for _, y := range ys {
		out = append(out, geom.Cell{X: col, Y: y})
	}
	return out
}

// worldFromRows builds a world where '#' is an obstacle.
func worldFromRows(t testing.TB, rows ...string) *world.WorldModel {
	t.Helper()
	wm := newOpenWorld(t, len(rows[0]), len(rows))
	var cells []geom.Cell
	for y, row := range rows {
		for x, ch := range row {
			if ch == '#' {
				cells = append(cells, geom.Cell{X: x, Y: y})
			}
		}
	}
	addObstacles(wm, cells...)
	return wm
}
