package world

import (
	"errors"

	"github.com/norne/arenanav/game/geom"
	"github.com/norne/arenanav/resource"
	"github.com/ungerik/go3d/float64/vec2"
	"go.uber.org/zap"
)

var (
	// ErrInvalidShape is returned when a grid is created with a non-positive dimension.
	ErrInvalidShape = errors.New("world: grid dimensions must be positive")
	// ErrShapeMismatch is returned by Restore for a snapshot of another grid size.
	ErrShapeMismatch = errors.New("world: snapshot shape does not match grid")
)

// WorldModel is a fixed-size occupancy grid fused from observation windows.
// Cells only ever move towards CellObstacle; nothing clears an obstacle.
//
// A WorldModel is not safe for concurrent use. Agents on one team may share a
// single instance as long as their calls are serialized (see Registry).
type WorldModel struct {
	width     int
	height    int
	cells     []CellState
	inflation int
	version   uint64

	annotations AnnotationStore
	logger      *zap.Logger
}

// Option configures a WorldModel.
type Option func(*WorldModel)

// WithInflation marks every cell within Chebyshev distance r of a reported
// obstacle as an obstacle too, so planned routes keep clear of walls.
func WithInflation(r int) Option {
	return func(w *WorldModel) {
		if r > 0 {
			w.inflation = r
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(w *WorldModel) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithAnnotations replaces the in-memory annotation store.
func WithAnnotations(s AnnotationStore) Option {
	return func(w *WorldModel) {
		if s != nil {
			w.annotations = s
		}
	}
}

// New creates a width x height grid with every cell unknown.
func New(width, height int, opts ...Option) (*WorldModel, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidShape
	}
	w := &WorldModel{
		width:       width,
		height:      height,
		cells:       make([]CellState, width*height),
		annotations: newMemoryAnnotations(),
		logger:      zap.NewNop(),
	}
	for i := range w.cells {
		w.cells[i] = CellUnknown
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// NewFromLayout creates a grid pre-seeded with a known arena layout: layout
// obstacles start as obstacles and every other cell starts free.
func NewFromLayout(l *resource.ArenaLayout, opts ...Option) (*WorldModel, error) {
	width, height := l.Size()
	w, err := New(width, height, opts...)
	if err != nil {
		return nil, err
	}
	for i := range w.cells {
		w.cells[i] = CellFree
	}
	for _, c := range l.ObstacleCells() {
		w.markObstacle(c)
	}
	return w, nil
}

// Width returns the grid width in cells.
func (w *WorldModel) Width() int { return w.width }

// Height returns the grid height in cells.
func (w *WorldModel) Height() int { return w.height }

// Version increases every time Incorporate turns at least one cell into an obstacle.
func (w *WorldModel) Version() uint64 { return w.version }

// Incorporate fuses an observation window reported by an observer at the given
// world position with the given view radius. Only obstacle reports change the
// grid; every other report leaves the cell as it was. It returns how many
// cells became obstacles.
func (w *WorldModel) Incorporate(obs *Observation, observer vec2.T, radius int) int {
	if obs == nil {
		panic("world: nil observation")
	}
	origin := Placement(geom.CellOf(observer), radius, obs.Width, obs.Height, w.width, w.height)

	changed := 0
	for y := 0; y < obs.Height; y++ {
		for x := 0; x < obs.Width; x++ {
			if obs.At(x, y) != ReportObstacle {
				continue
			}
			changed += w.markObstacle(origin.Add(x, y))
		}
	}
	if changed == 0 {
		return 0
	}
	w.version++
	w.logger.Debug("observation incorporated",
		zap.Int("origin_x", origin.X),
		zap.Int("origin_y", origin.Y),
		zap.Int("window_w", obs.Width),
		zap.Int("window_h", obs.Height),
		zap.Int("new_obstacles", changed),
		zap.Uint64("version", w.version),
	)
	return changed
}

// markObstacle sets c and its inflation neighbourhood to obstacle and returns
// how many cells changed.
func (w *WorldModel) markObstacle(c geom.Cell) int {
	changed := 0
	r := w.inflation
	for y := c.Y - r; y <= c.Y+r; y++ {
		for x := c.X - r; x <= c.X+r; x++ {
			n := geom.Cell{X: x, Y: y}
			if !w.InBounds(n) {
				continue
			}
			i := w.index(n)
			if w.cells[i] != CellObstacle {
				w.cells[i] = CellObstacle
				changed++
			}
		}
	}
	return changed
}

// InBounds reports whether c lies on the grid.
func (w *WorldModel) InBounds(c geom.Cell) bool {
	return c.X >= 0 && c.X < w.width && c.Y >= 0 && c.Y < w.height
}

// IsAccessible reports whether pos is on the grid and not inside an obstacle.
func (w *WorldModel) IsAccessible(pos vec2.T) bool {
	return w.IsAccessibleCell(geom.CellOf(pos))
}

// IsAccessibleCell is IsAccessible for a grid cell.
func (w *WorldModel) IsAccessibleCell(c geom.Cell) bool {
	return w.InBounds(c) && w.cells[w.index(c)] != CellObstacle
}

// IsObstacle reports whether c is a known obstacle. Off-grid cells are not.
func (w *WorldModel) IsObstacle(c geom.Cell) bool {
	return w.InBounds(c) && w.cells[w.index(c)] == CellObstacle
}

// State returns the knowledge held for c. Off-grid cells panic.
func (w *WorldModel) State(c geom.Cell) CellState {
	if !w.InBounds(c) {
		panic("world: cell out of range")
	}
	return w.cells[w.index(c)]
}

// SnapshotMap returns a copy of the grid.
func (w *WorldModel) SnapshotMap() Snapshot {
	cells := make([]CellState, len(w.cells))
	copy(cells, w.cells)
	return Snapshot{Width: w.width, Height: w.height, Version: w.version, Cells: cells}
}

// Restore re-applies the obstacles of a stored snapshot. Only obstacle cells
// are copied, so knowledge never moves away from CellObstacle, and inflation is
// not applied again. The version becomes at least s.Version. It returns how
// many cells changed.
func (w *WorldModel) Restore(s Snapshot) (int, error) {
	if s.Width != w.width || s.Height != w.height || len(s.Cells) != len(w.cells) {
		return 0, ErrShapeMismatch
	}
	changed := 0
	for i, st := range s.Cells {
		if st == CellObstacle && w.cells[i] != CellObstacle {
			w.cells[i] = CellObstacle
			changed++
		}
	}
	if s.Version > w.version {
		w.version = s.Version
	} else if changed > 0 {
		w.version++
	}
	return changed, nil
}

// ClearAnnotations drops every annotation, including ones held in a shared
// store.
func (w *WorldModel) ClearAnnotations() {
	if c, ok := w.annotations.(interface{ Clear() }); ok {
		c.Clear()
	}
}

// GetAnnotation returns the value stored under key.
func (w *WorldModel) GetAnnotation(key string) (any, bool) {
	return w.annotations.Get(key)
}

// SetAnnotation stores value under key without interpreting it.
func (w *WorldModel) SetAnnotation(key string, value any) {
	w.annotations.Set(key, value)
}

func (w *WorldModel) index(c geom.Cell) int {
	return c.Y*w.width + c.X
}
