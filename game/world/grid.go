package world

import "github.com/norne/arenanav/game/geom"

// CellState is the knowledge held for one grid cell. The numeric values match
// the report encoding used by observation windows.
type CellState int8

const (
	CellUnknown  CellState = -1
	CellFree     CellState = 0
	CellObstacle CellState = 1
)

func (s CellState) String() string {
	switch s {
	case CellUnknown:
		return "unknown"
	case CellFree:
		return "free"
	case CellObstacle:
		return "obstacle"
	}
	return "invalid"
}

// Snapshot is a detached copy of the grid. Cells are row-major: y*Width+x.
// Version is the WorldModel version the copy was taken at.
type Snapshot struct {
	Width   int         `json:"width"`
	Height  int         `json:"height"`
	Version uint64      `json:"version"`
	Cells   []CellState `json:"cells"`
}

// At returns the state at (x, y). Out-of-range coordinates panic.
func (s Snapshot) At(x, y int) CellState {
	if x < 0 || x >= s.Width || y < 0 || y >= s.Height {
		panic("world: snapshot index out of range")
	}
	return s.Cells[y*s.Width+x]
}

// Rows returns the snapshot as rows[y][x].
func (s Snapshot) Rows() [][]CellState {
	rows := make([][]CellState, s.Height)
	for y := range rows {
		rows[y] = s.Cells[y*s.Width : (y+1)*s.Width : (y+1)*s.Width]
	}
	return rows
}

// Counts tallies cells per state.
func (s Snapshot) Counts() map[CellState]int {
	out := map[CellState]int{CellUnknown: 0, CellFree: 0, CellObstacle: 0}
	for _, c := range s.Cells {
		out[c]++
	}
	return out
}

// Obstacles lists every obstacle cell in row-major order.
func (s Snapshot) Obstacles() []geom.Cell {
	var out []geom.Cell
	for i, c := range s.Cells {
		if c == CellObstacle {
			out = append(out, geom.Cell{X: i % s.Width, Y: i / s.Width})
		}
	}
	return out
}
