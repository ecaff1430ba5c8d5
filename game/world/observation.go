package world

import "github.com/norne/arenanav/game/geom"

// Report is what a sensor says about one cell of its window.
type Report int8

const (
	ReportNoInfo   Report = -1
	ReportEmpty    Report = 0
	ReportObstacle Report = 1
	// ReportGem marks a collectible; it carries no occupancy information.
	ReportGem Report = 2
)

// Observation is a rectangular sensor window, row-major.
type Observation struct {
	Width   int
	Height  int
	reports []Report
}

// NewObservation returns a w x h window where every cell reports no information.
func NewObservation(w, h int) *Observation {
	if w <= 0 || h <= 0 {
		panic("world: observation window must have a positive size")
	}
	o := &Observation{Width: w, Height: h, reports: make([]Report, w*h)}
	for i := range o.reports {
		o.reports[i] = ReportNoInfo
	}
	return o
}

// ObservationFromRows builds a window from rows[y][x]. Ragged input panics.
func ObservationFromRows(rows [][]Report) *Observation {
	if len(rows) == 0 || len(rows[0]) == 0 {
		panic("world: empty observation rows")
	}
	o := NewObservation(len(rows[0]), len(rows))
	for y, row := range rows {
		if len(row) != o.Width {
			panic("world: ragged observation rows")
		}
		copy(o.reports[y*o.Width:], row)
	}
	return o
}

// Set records a report at window-local (x, y).
func (o *Observation) Set(x, y int, r Report) {
	o.reports[o.index(x, y)] = r
}

// At returns the report at window-local (x, y).
func (o *Observation) At(x, y int) Report {
	return o.reports[o.index(x, y)]
}

func (o *Observation) index(x, y int) int {
	if x < 0 || x >= o.Width || y < 0 || y >= o.Height {
		panic("world: observation index out of range")
	}
	return y*o.Width + x
}

// Placement returns the grid cell of the window's top-left corner when it is
// reported by an observer standing in cell observer with the given view radius.
// The window is shifted, never resized, so that it lies inside a gridW x gridH
// grid. A window larger than the grid is a caller bug and panics.
func Placement(observer geom.Cell, radius, winW, winH, gridW, gridH int) geom.Cell {
	if winW > gridW || winH > gridH {
		panic("world: observation window larger than grid")
	}
	return geom.Cell{
		X: clamp(observer.X-radius, 0, gridW-winW),
		Y: clamp(observer.Y-radius, 0, gridH-winH),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
