package ai

import (
	"errors"
	"fmt"

	"github.com/norne/arenanav/game/geom"
	"github.com/norne/arenanav/game/world"
	"github.com/ungerik/go3d/float64/vec2"
	"go.uber.org/zap"
)

var (
	// ErrTargetUnreachable means the target lies outside the grid.
	ErrTargetUnreachable = errors.New("ai: target unreachable")
	// ErrNoPathFound means every reachable cell was searched without reaching the target.
	ErrNoPathFound = errors.New("ai: no path found")
	// ErrNoTarget means Advance was called before SetTarget.
	ErrNoTarget = errors.New("ai: no target set")
)

// State is the planner's position in its per-target lifecycle.
type State int

const (
	StateIdle    State = iota // no usable route
	StatePlanned              // route cached for the current target
	StateArrived              // last Advance found the agent on the target
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlanned:
		return "planned"
	case StateArrived:
		return "arrived"
	}
	return "unknown"
}

// DefaultArrivalTolerance is how close a position must be to the target, on
// each axis, to count as being on it.
const DefaultArrivalTolerance = 1e-9

// Stats describes the planner's search work.
type Stats struct {
	Plans       int     // searches run since creation
	Expanded    int     // cells expanded by the last search
	RawLength   int     // cells in the last raw route
	Waypoints   int     // waypoints after smoothing
	RouteLength float64 // search cost of the last route, in cells
}

// PathPlanner turns a target into one steering waypoint per tick. It keeps
// the smoothed route to the current target between calls and only searches
// again when the route is missing, stale or explicitly invalidated.
//
// A PathPlanner belongs to a single agent and is not safe for concurrent use.
type PathPlanner struct {
	target      vec2.T
	targetCell  geom.Cell
	hasTarget   bool
	route       []vec2.T // smoothed waypoints, start excluded
	routeTarget vec2.T
	dirty       bool
	state       State

	recomputeEvery int
	sinceRecompute int
	tolerance      float64

	search *searcher
	heur   Heuristic
	stats  Stats
	logger *zap.Logger
}

// Option configures a PathPlanner.
type Option func(*PathPlanner)

// WithHeuristic selects the search heuristic (Octile by default).
func WithHeuristic(h Heuristic) Option {
	return func(p *PathPlanner) {
		if h != nil {
			p.heur = h
		}
	}
}

// WithRecomputeEvery forces a fresh search after n consecutive Advance calls
// reused the cached route. Zero disables periodic replanning.
func WithRecomputeEvery(n int) Option {
	return func(p *PathPlanner) {
		if n > 0 {
			p.recomputeEvery = n
		}
	}
}

// WithArrivalTolerance overrides DefaultArrivalTolerance.
func WithArrivalTolerance(tol float64) Option {
	return func(p *PathPlanner) {
		if tol >= 0 {
			p.tolerance = tol
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(p *PathPlanner) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPlanner creates an idle planner. w may be nil; when given, the search
// buffers are allocated for its grid up front.
func NewPlanner(w *world.WorldModel, opts ...Option) *PathPlanner {
	p := &PathPlanner{
		tolerance: DefaultArrivalTolerance,
		heur:      Octile,
		logger:    zap.NewNop(),
		route:     make([]vec2.T, 0, 32),
	}
	for _, opt := range opts {
		opt(p)
	}
	if w != nil {
		p.search = newSearcher(w.Width(), w.Height(), p.heur)
	}
	return p
}

// SetTarget points the planner at t. A different target drops the cached
// route; the same target keeps it.
func (p *PathPlanner) SetTarget(t vec2.T) {
	if p.hasTarget && p.target == t {
		return
	}
	p.target = t
	p.targetCell = geom.CellOf(t)
	p.hasTarget = true
	p.invalidate()
}

// Target returns the current target, if any.
func (p *PathPlanner) Target() (vec2.T, bool) {
	return p.target, p.hasTarget
}

// ForceRecompute makes the next Advance search again even though the target
// did not change. Call it after pushing observations into a shared world.
func (p *PathPlanner) ForceRecompute() {
	p.dirty = true
}

// ClearRoute drops the cached waypoints but keeps the target.
func (p *PathPlanner) ClearRoute() {
	p.route = p.route[:0]
	p.state = StateIdle
}

// ClearTarget forgets the target and its route. Advance returns ErrNoTarget
// until SetTarget is called again.
func (p *PathPlanner) ClearTarget() {
	p.hasTarget = false
	p.target = vec2.T{}
	p.targetCell = geom.Cell{}
	p.invalidate()
}

// Reset returns the planner to the state NewPlanner left it in, keeping its
// options and search buffers so it can serve another agent.
func (p *PathPlanner) Reset() {
	p.ClearTarget()
	p.routeTarget = vec2.T{}
	p.sinceRecompute = 0
	p.stats = Stats{}
}

func (p *PathPlanner) invalidate() {
	p.route = p.route[:0]
	p.dirty = true
	p.state = StateIdle
}

// State returns the lifecycle state.
func (p *PathPlanner) State() State { return p.state }

// Stats returns search counters.
func (p *PathPlanner) Stats() Stats { return p.stats }

// Route returns a copy of the cached waypoints, next one first.
func (p *PathPlanner) Route() []vec2.T {
	out := make([]vec2.T, len(p.route))
	copy(out, p.route)
	return out
}

// Advance returns the waypoint an agent at pos should steer towards this
// tick. arrived is true, and next is pos, when pos is already on the target.
// speed*dt is the distance the agent covers in one tick; intermediate
// waypoints closer than that count as reached.
//
// Planning failures are returned as ErrTargetUnreachable or ErrNoPathFound
// and leave the planner idle; the caller decides what to try next.
func (p *PathPlanner) Advance(pos vec2.T, w *world.WorldModel, speed, dt float64) (next vec2.T, arrived bool, err error) {
	if !p.hasTarget {
		return pos, false, ErrNoTarget
	}
	if geom.Equal(pos, p.target, p.tolerance) {
		p.route = p.route[:0]
		p.state = StateArrived
		return pos, true, nil
	}

	if p.needsPlan() {
		if err := p.plan(pos, w); err != nil {
			p.route = p.route[:0]
			p.state = StateIdle
			return pos, false, err
		}
	} else {
		p.sinceRecompute++
	}

	p.dropReached(pos, speed*dt)
	p.state = StatePlanned
	return p.route[0], false, nil
}

func (p *PathPlanner) needsPlan() bool {
	switch {
	case p.dirty, len(p.route) == 0, p.routeTarget != p.target:
		return true
	case p.recomputeEvery > 0 && p.sinceRecompute >= p.recomputeEvery:
		return true
	}
	return false
}

// dropReached pops waypoints pos has already reached. The final waypoint is
// the target itself and only exact arrival consumes it.
func (p *PathPlanner) dropReached(pos vec2.T, step float64) {
	drop := 0
	for drop < len(p.route)-1 {
		wp := p.route[drop]
		if wp != pos && geom.Distance(wp, pos) >= step {
			break
		}
		drop++
	}
	if drop > 0 {
		p.route = append(p.route[:0], p.route[drop:]...)
	}
}

func (p *PathPlanner) plan(pos vec2.T, w *world.WorldModel) error {
	if !w.InBounds(p.targetCell) {
		p.logger.Debug("target outside grid",
			zap.Float64("target_x", p.target[0]),
			zap.Float64("target_y", p.target[1]))
		return fmt.Errorf("%w: (%g, %g) outside %dx%d grid",
			ErrTargetUnreachable, p.target[0], p.target[1], w.Width(), w.Height())
	}
	if p.search == nil {
		p.search = newSearcher(w.Width(), w.Height(), p.heur)
	}

	start := clampCell(geom.CellOf(pos), w)
	raw := p.search.search(w, start, p.targetCell)
	p.stats.Plans++
	p.stats.Expanded = p.search.visited
	if raw == nil {
		p.logger.Debug("no path",
			zap.Int("start_x", start.X), zap.Int("start_y", start.Y),
			zap.Int("goal_x", p.targetCell.X), zap.Int("goal_y", p.targetCell.Y),
			zap.Int("expanded", p.search.visited))
		return fmt.Errorf("%w: from cell (%d, %d) to cell (%d, %d)",
			ErrNoPathFound, start.X, start.Y, p.targetCell.X, p.targetCell.Y)
	}

	p.route = p.route[:0]
	for _, c := range Smooth(w, raw) {
		p.route = append(p.route, c.Center())
	}
	if len(p.route) == 0 {
		// start and target share a cell
		p.route = append(p.route, p.target)
	}
	p.route[len(p.route)-1] = p.target

	p.routeTarget = p.target
	p.dirty = false
	p.sinceRecompute = 0
	p.stats.RawLength = len(raw)
	p.stats.Waypoints = len(p.route)
	p.stats.RouteLength = p.search.pathCost(p.targetCell)
	p.logger.Debug("route planned",
		zap.Int("raw_cells", len(raw)),
		zap.Int("waypoints", len(p.route)),
		zap.Int("expanded", p.search.visited),
		zap.Float64("cost", p.stats.RouteLength))
	return nil
}

func clampCell(c geom.Cell, w *world.WorldModel) geom.Cell {
	c.X = min(max(c.X, 0), w.Width()-1)
	c.Y = min(max(c.Y, 0), w.Height()-1)
	return c
}
