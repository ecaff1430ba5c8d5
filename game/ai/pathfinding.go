package ai

import (
	"container/heap"
	"fmt"
	"math"

	"github.com/norne/arenanav/game/geom"
	"github.com/norne/arenanav/game/world"
)

// Heuristic estimates the remaining cost between two cells. It must never
// overestimate the 8-connected path cost.
type Heuristic func(a, b geom.Cell) float64

var (
	// Octile is exact on an obstacle-free grid and the default.
	Octile Heuristic = geom.Octile
	// Euclidean is weaker than Octile but still admissible.
	Euclidean Heuristic = geom.Euclidean
)

// HeuristicByName maps a config name to a Heuristic. The empty name selects
// Octile.
func HeuristicByName(name string) (Heuristic, error) {
	switch name {
	case "", "octile":
		return Octile, nil
	case "euclidean":
		return Euclidean, nil
	}
	return nil, fmt.Errorf("ai: unknown heuristic %q", name)
}

// neighbour offsets: orthogonal first, then diagonal.
var steps = [8]struct {
	dx, dy int
	cost   float64
}{
	{1, 0, 1}, {-1, 0, 1}, {0, 1, 1}, {0, -1, 1},
	{1, 1, math.Sqrt2}, {1, -1, math.Sqrt2}, {-1, 1, math.Sqrt2}, {-1, -1, math.Sqrt2},
}

const noParent = -1

// searcher runs A* over a WorldModel. Its dense per-cell arrays are sized to
// one grid shape and reused between searches; a generation stamp marks which
// entries belong to the current search so nothing is cleared between runs.
type searcher struct {
	width, height int

	cost    []float64
	parent  []int32
	stamp   []uint32 // cost/parent valid when stamp == gen
	closed  []uint32 // expanded when closed == gen
	gen     uint32
	open    openSet
	heur    Heuristic
	visited int
}

func newSearcher(width, height int, h Heuristic) *searcher {
	s := &searcher{heur: h}
	s.resize(width, height)
	return s
}

func (s *searcher) resize(width, height int) {
	n := width * height
	s.width, s.height = width, height
	s.cost = make([]float64, n)
	s.parent = make([]int32, n)
	s.stamp = make([]uint32, n)
	s.closed = make([]uint32, n)
	s.gen = 0
	s.open = make(openSet, 0, 1<<11)
}

func (s *searcher) fits(w *world.WorldModel) bool {
	return s.width == w.Width() && s.height == w.Height()
}

func (s *searcher) index(c geom.Cell) int32 {
	return int32(c.Y*s.width + c.X)
}

func (s *searcher) cell(i int32) geom.Cell {
	return geom.Cell{X: int(i) % s.width, Y: int(i) / s.width}
}

// search returns the raw cell route from start to goal, both included, or nil
// when goal cannot be reached. start and goal must be on the grid.
func (s *searcher) search(w *world.WorldModel, start, goal geom.Cell) []geom.Cell {
	if !s.fits(w) {
		s.resize(w.Width(), w.Height())
	}
	s.gen++
	if s.gen == 0 {
		// stamp wrapped: stale entries could alias the new generation
		clear(s.stamp)
		clear(s.closed)
		s.gen = 1
	}
	s.open = s.open[:0]
	s.visited = 0

	if w.IsObstacle(goal) {
		return nil
	}

	si := s.index(start)
	s.stamp[si] = s.gen
	s.cost[si] = 0
	s.parent[si] = noParent
	heap.Push(&s.open, node{idx: si, f: s.heur(start, goal)})

	gi := s.index(goal)
	for s.open.Len() > 0 {
		cur := heap.Pop(&s.open).(node)
		if s.closed[cur.idx] == s.gen {
			continue
		}
		s.closed[cur.idx] = s.gen
		s.visited++
		if cur.idx == gi {
			return s.reconstruct(si, gi)
		}

		c := s.cell(cur.idx)
		g := s.cost[cur.idx]
		for _, st := range steps {
			n := c.Add(st.dx, st.dy)
			if !w.IsAccessibleCell(n) {
				continue
			}
			// no squeezing diagonally past an obstacle corner
			if st.dx != 0 && st.dy != 0 &&
				(w.IsObstacle(c.Add(st.dx, 0)) || w.IsObstacle(c.Add(0, st.dy))) {
				continue
			}
			ni := s.index(n)
			if s.closed[ni] == s.gen {
				continue
			}
			ng := g + st.cost
			if s.stamp[ni] == s.gen && ng >= s.cost[ni] {
				continue
			}
			s.stamp[ni] = s.gen
			s.cost[ni] = ng
			s.parent[ni] = cur.idx
			heap.Push(&s.open, node{idx: ni, f: ng + s.heur(n, goal), g: ng})
		}
	}
	return nil
}

func (s *searcher) reconstruct(si, gi int32) []geom.Cell {
	n := 1
	for i := gi; i != si; i = s.parent[i] {
		n++
	}
	path := make([]geom.Cell, n)
	for i, k := gi, n-1; k >= 0; k-- {
		path[k] = s.cell(i)
		if k > 0 {
			i = s.parent[i]
		}
	}
	return path
}

// pathCost is the cost of the last successful search, read at the goal.
func (s *searcher) pathCost(goal geom.Cell) float64 {
	return s.cost[s.index(goal)]
}

type node struct {
	idx int32
	f   float64
	g   float64
}

// openSet is a min-heap on f; ties prefer the deeper node so the search
// runs straight at the goal on open ground.
type openSet []node

func (o openSet) Len() int { return len(o) }
func (o openSet) Less(i, j int) bool {
	if o[i].f == o[j].f {
		return o[i].g > o[j].g
	}
	return o[i].f < o[j].f
}
func (o openSet) Swap(i, j int) { o[i], o[j] = o[j], o[i] }
func (o *openSet) Push(x any)   { *o = append(*o, x.(node)) }
func (o *openSet) Pop() any {
	old := *o
	n := len(old)
	x := old[n-1]
	*o = old[:n-1]
	return x
}

// FindPath runs a one-off A* search from start to goal and returns the raw
// cell route (start and goal included), or nil if goal is off the grid or
// unreachable.
func FindPath(w *world.WorldModel, start, goal geom.Cell, h Heuristic) []geom.Cell {
	if !w.InBounds(start) || !w.InBounds(goal) {
		return nil
	}
	if h == nil {
		h = Octile
	}
	return newSearcher(w.Width(), w.Height(), h).search(w, start, goal)
}
