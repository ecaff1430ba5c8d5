package ai

import (
	"fmt"
	"testing"

	"github.com/norne/arenanav/game/geom"
	"github.com/norne/arenanav/game/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ungerik/go3d/float64/vec2"
	"go.uber.org/zap"
)

func vec(p [2]float64) vec2.T { return geom.Vec(p[0], p[1]) }

// walk follows the planner from start until it reports arrival, moving the
// agent onto each returned waypoint. It returns the visited waypoints.
func walk(t *testing.T, p *PathPlanner, w *world.WorldModel, start vec2.T, maxSteps int) []vec2.T {
	t.Helper()
	pos := start
	var visited []vec2.T
	for i := 0; i < maxSteps; i++ {
		next, arrived, err := p.Advance(pos, w, 1.0, 1.0)
		require.NoError(t, err)
		if arrived {
			return visited
		}
		visited = append(visited, next)
		pos = next
	}
	t.Fatalf("did not reach target within %d steps", maxSteps)
	return nil
}

// ---- Arrival ----

func TestAdvance_StartAtTargetDoesNothing(t *testing.T) {
	for _, pos := range testPositions {
		t.Run(fmt.Sprint(pos), func(t *testing.T) {
			w := newOpenWorld(t, 10, 5)
			p := NewPlanner(w)
			p.SetTarget(vec(pos))

			next, arrived, err := p.Advance(vec(pos), w, 1.0, 1.0)
			require.NoError(t, err)
			assert.True(t, arrived)
			assert.Equal(t, vec(pos), next)
			assert.Equal(t, StateArrived, p.State())
			assert.Zero(t, p.Stats().Plans, "arrival must not search")
		})
	}
}

func TestAdvance_ArrivalTolerance(t *testing.T) {
	w := newOpenWorld(t, 10, 5)
	p := NewPlanner(w, WithArrivalTolerance(0.25))
	p.SetTarget(geom.Vec(4, 2))
	_, arrived, err := p.Advance(geom.Vec(4.2, 1.9), w, 1, 1)
	require.NoError(t, err)
	assert.True(t, arrived)
}

// ---- Open grid ----

func TestAdvance_ReachesTarget(t *testing.T) {
	for _, start := range testPositions {
		for _, target := range testPositions {
			if start == target {
				continue
			}
			t.Run(fmt.Sprint(start, "->", target), func(t *testing.T) {
				w := newOpenWorld(t, 10, 5)
				p := NewPlanner(w)
				p.SetTarget(vec(target))
				visited := walk(t, p, w, vec(start), 100)
				require.NotEmpty(t, visited)
				assert.Equal(t, vec(target), visited[len(visited)-1])
			})
		}
	}
}

func TestAdvance_SingleHopOnEmptyWorld(t *testing.T) {
	for _, start := range testPositions {
		for _, target := range testPositions {
			if start == target {
				continue
			}
			w := newOpenWorld(t, 10, 5)
			p := NewPlanner(w)
			p.SetTarget(vec(target))
			next, arrived, err := p.Advance(vec(start), w, 1.0, 1.0)
			require.NoError(t, err)
			assert.False(t, arrived)
			assert.Equal(t, vec(target), next, "%v -> %v", start, target)
			assert.Len(t, p.Route(), 1)
		}
	}
}

func TestAdvance_SameCellReturnsPreciseTarget(t *testing.T) {
	w := newOpenWorld(t, 10, 5)
	p := NewPlanner(w)
	p.SetTarget(geom.Vec(3.7, 4.7))
	next, arrived, err := p.Advance(geom.Vec(3.2, 4.2), w, 1, 1)
	require.NoError(t, err)
	assert.False(t, arrived)
	assert.Equal(t, geom.Vec(3.7, 4.7), next)
}

func TestAdvance_TargetWithinOneStepIsStillReturned(t *testing.T) {
	w := newOpenWorld(t, 10, 5)
	p := NewPlanner(w)
	p.SetTarget(geom.Vec(5, 2))
	next, arrived, err := p.Advance(geom.Vec(4.5, 2), w, 1, 1)
	require.NoError(t, err)
	assert.False(t, arrived)
	assert.Equal(t, geom.Vec(5, 2), next)
}

func TestAdvance_StartOnGridEdgeIsClamped(t *testing.T) {
	w := newOpenWorld(t, 10, 5)
	p := NewPlanner(w)
	p.SetTarget(geom.Vec(0, 0))
	next, _, err := p.Advance(geom.Vec(10, 5), w, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, geom.Vec(0, 0), next)
}

// ---- Failures ----

func TestAdvance_NoTarget(t *testing.T) {
	w := newOpenWorld(t, 10, 5)
	_, _, err := NewPlanner(w).Advance(geom.Vec(1, 1), w, 1, 1)
	assert.ErrorIs(t, err, ErrNoTarget)
}

func TestAdvance_OutOfBoundsTarget(t *testing.T) {
	for _, target := range [][2]float64{{10, 2}, {-1, 0}, {3, 5}, {3, -0.5}, {100, 100}} {
		t.Run(fmt.Sprint(target), func(t *testing.T) {
			w := newOpenWorld(t, 10, 5)
			p := NewPlanner(w)
			p.SetTarget(vec(target))
			_, arrived, err := p.Advance(geom.Vec(1, 1), w, 1, 1)
			assert.ErrorIs(t, err, ErrTargetUnreachable)
			assert.False(t, arrived)
			assert.Equal(t, StateIdle, p.State())
			assert.Zero(t, p.Stats().Plans, "bounds are checked before searching")
		})
	}
}

func TestAdvance_WallSeparatesThenGap(t *testing.T) {
	sealed := newOpenWorld(t, 10, 5)
	addObstacles(sealed, column(5, 0, 1, 2, 3, 4)...)
	p := NewPlanner(sealed)
	p.SetTarget(geom.Vec(8, 1))
	_, _, err := p.Advance(geom.Vec(1, 1), sealed, 1, 1)
	assert.ErrorIs(t, err, ErrNoPathFound)
	assert.Equal(t, StateIdle, p.State())
	assert.Empty(t, p.Route())

	gap := newOpenWorld(t, 10, 5)
	addObstacles(gap, column(5, 0, 1, 2, 3)...)
	p = NewPlanner(gap)
	p.SetTarget(geom.Vec(8, 1))
	_, _, err = p.Advance(geom.Vec(1, 1), gap, 1, 1)
	require.NoError(t, err)

	route := p.Route()
	require.NotEmpty(t, route)
	assert.Equal(t, geom.Vec(8, 1), route[len(route)-1])

	prev := geom.Vec(1, 1)
	crossed := false
	for _, wp := range route {
		assert.True(t, LineOfSight(gap, geom.CellOf(prev), geom.CellOf(wp)), "%v -> %v", prev, wp)
		// the only way across column 5 is the gap cell (5,4)
		if (prev[0] < 5) != (wp[0] < 5) || geom.CellOf(wp).X == 5 {
			crossed = true
			y := crossingY(prev, wp, 5.5)
			assert.GreaterOrEqual(t, y, 4.0, "segment %v -> %v crosses the wall at y=%g", prev, wp, y)
		}
		prev = wp
	}
	assert.True(t, crossed)
}

// crossingY returns the segment's y where it passes x.
func crossingY(a, b vec2.T, x float64) float64 {
	if a[0] == b[0] {
		return a[1]
	}
	tt := (x - a[0]) / (b[0] - a[0])
	return a[1] + tt*(b[1]-a[1])
}

func TestAdvance_TargetInsideObstacle(t *testing.T) {
	w := newOpenWorld(t, 10, 5)
	addObstacles(w, geom.Cell{X: 7, Y: 3})
	p := NewPlanner(w)
	p.SetTarget(geom.Vec(7.5, 3.5))
	_, _, err := p.Advance(geom.Vec(1, 1), w, 1, 1)
	assert.ErrorIs(t, err, ErrNoPathFound)
}

func TestAdvance_RecoversAfterFailure(t *testing.T) {
	w := newOpenWorld(t, 10, 5)
	p := NewPlanner(w)
	p.SetTarget(geom.Vec(20, 1))
	_, _, err := p.Advance(geom.Vec(1, 1), w, 1, 1)
	require.ErrorIs(t, err, ErrTargetUnreachable)

	p.SetTarget(geom.Vec(8, 1))
	next, _, err := p.Advance(geom.Vec(1, 1), w, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, geom.Vec(8, 1), next)
}

// ---- Cache lifecycle ----

func TestForceRecompute_PicksUpNewObstacles(t *testing.T) {
	w := newOpenWorld(t, 10, 5)
	p := NewPlanner(w)
	target := geom.Vec(9, 2)
	p.SetTarget(target)
	start := geom.Vec(0, 2)

	next, _, err := p.Advance(start, w, 1, 1)
	require.NoError(t, err)
	require.Equal(t, target, next)

	addObstacles(w, column(5, 0, 1, 2, 3)...)

	// cached route is reused until told otherwise
	next, _, err = p.Advance(start, w, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, target, next)
	assert.Equal(t, 1, p.Stats().Plans)

	p.ForceRecompute()
	next, _, err = p.Advance(start, w, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Stats().Plans)
	assert.NotEqual(t, target, next)
	assert.True(t, LineOfSight(w, geom.CellOf(start), geom.CellOf(next)))
}

func TestSetTarget_SameTargetKeepsRoute(t *testing.T) {
	w := newOpenWorld(t, 10, 5)
	p := NewPlanner(w)
	p.SetTarget(geom.Vec(9, 4))
	_, _, err := p.Advance(geom.Vec(0, 0), w, 1, 1)
	require.NoError(t, err)

	p.SetTarget(geom.Vec(9, 4))
	_, _, err = p.Advance(geom.Vec(0, 0), w, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stats().Plans)
	assert.Equal(t, StatePlanned, p.State())

	p.SetTarget(geom.Vec(9, 0))
	assert.Equal(t, StateIdle, p.State())
	assert.Empty(t, p.Route())
	next, _, err := p.Advance(geom.Vec(0, 0), w, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, geom.Vec(9, 0), next)
	assert.Equal(t, 2, p.Stats().Plans)

	got, ok := p.Target()
	assert.True(t, ok)
	assert.Equal(t, geom.Vec(9, 0), got)
}

func TestClearRoute_Replans(t *testing.T) {
	w := newOpenWorld(t, 10, 5)
	p := NewPlanner(w)
	p.SetTarget(geom.Vec(9, 4))
	_, _, err := p.Advance(geom.Vec(0, 0), w, 1, 1)
	require.NoError(t, err)

	p.ClearRoute()
	assert.Empty(t, p.Route())
	_, _, err = p.Advance(geom.Vec(0, 0), w, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Stats().Plans)
}

func TestClearTarget(t *testing.T) {
	w := newOpenWorld(t, 10, 5)
	p := NewPlanner(w)
	p.SetTarget(geom.Vec(9, 4))
	_, _, err := p.Advance(geom.Vec(0, 0), w, 1, 1)
	require.NoError(t, err)
	require.Equal(t, StatePlanned, p.State())

	p.ClearTarget()
	_, ok := p.Target()
	assert.False(t, ok)
	assert.Empty(t, p.Route())
	assert.Equal(t, StateIdle, p.State())
	_, _, err = p.Advance(geom.Vec(0, 0), w, 1, 1)
	assert.ErrorIs(t, err, ErrNoTarget)

	// the same target again is a fresh target, not a no-op
	p.SetTarget(geom.Vec(9, 4))
	_, _, err = p.Advance(geom.Vec(0, 0), w, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Stats().Plans)
}

func TestReset_ReusesBuffers(t *testing.T) {
	w := newOpenWorld(t, 10, 5)
	p := NewPlanner(w, WithRecomputeEvery(3))
	p.SetTarget(geom.Vec(9, 4))
	_, _, err := p.Advance(geom.Vec(0, 0), w, 1, 1)
	require.NoError(t, err)
	search := p.search

	p.Reset()
	assert.Equal(t, Stats{}, p.Stats())
	assert.Equal(t, StateIdle, p.State())
	_, _, err = p.Advance(geom.Vec(0, 0), w, 1, 1)
	assert.ErrorIs(t, err, ErrNoTarget)

	p.SetTarget(geom.Vec(0, 4))
	next, _, err := p.Advance(geom.Vec(9, 0), w, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, geom.Vec(0, 4), p.Route()[len(p.Route())-1])
	assert.NotEqual(t, geom.Vec(9, 0), next)
	assert.Equal(t, 1, p.Stats().Plans)
	assert.Same(t, search, p.search)
	assert.Equal(t, 3, p.recomputeEvery, "options survive a reset")
}

func TestRecomputeEvery(t *testing.T) {
	w := newOpenWorld(t, 10, 5)
	p := NewPlanner(w, WithRecomputeEvery(2))
	p.SetTarget(geom.Vec(9, 4))
	for i := 0; i < 4; i++ {
		_, _, err := p.Advance(geom.Vec(0, 0), w, 1, 1)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, p.Stats().Plans)
}

func TestArrivalClearsRoute(t *testing.T) {
	w := newOpenWorld(t, 10, 5)
	p := NewPlanner(w)
	p.SetTarget(geom.Vec(9, 4))
	_, _, err := p.Advance(geom.Vec(0, 0), w, 1, 1)
	require.NoError(t, err)

	_, arrived, err := p.Advance(geom.Vec(9, 4), w, 1, 1)
	require.NoError(t, err)
	assert.True(t, arrived)
	assert.Empty(t, p.Route())
}

// ---- Waypoint consumption ----

// detourPlanner plans around a wall so the route has intermediate waypoints.
func detourPlanner(t *testing.T) (*PathPlanner, *world.WorldModel, []vec2.T) {
	t.Helper()
	w := newOpenWorld(t, 10, 5)
	addObstacles(w, column(5, 0, 1, 2, 3)...)
	p := NewPlanner(w, WithLogger(zap.NewNop()))
	p.SetTarget(geom.Vec(8, 1))
	_, _, err := p.Advance(geom.Vec(1, 1), w, 1, 1)
	require.NoError(t, err)
	route := p.Route()
	require.GreaterOrEqual(t, len(route), 2)
	return p, w, route
}

func TestAdvance_PopsWaypointWithinStep(t *testing.T) {
	p, w, route := detourPlanner(t)
	near := geom.Vec(route[0][0]-0.3, route[0][1])

	next, _, err := p.Advance(near, w, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, route[1], next)
	assert.Equal(t, 1, p.Stats().Plans)
}

func TestAdvance_KeepsWaypointBeyondStep(t *testing.T) {
	p, w, route := detourPlanner(t)
	near := geom.Vec(route[0][0]-0.3, route[0][1])

	next, _, err := p.Advance(near, w, 1, 0.1)
	require.NoError(t, err)
	assert.Equal(t, route[0], next)
}

func TestAdvance_PopsExactWaypointWithZeroStep(t *testing.T) {
	p, w, route := detourPlanner(t)
	next, _, err := p.Advance(route[0], w, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, route[1], next)
}

func TestAdvance_FollowsDetourToTarget(t *testing.T) {
	w := newOpenWorld(t, 10, 5)
	addObstacles(w, column(5, 0, 1, 2, 3)...)
	p := NewPlanner(w)
	p.SetTarget(geom.Vec(8, 1))
	visited := walk(t, p, w, geom.Vec(1, 1), 100)
	assert.Greater(t, len(visited), 1)
	assert.Equal(t, geom.Vec(8, 1), visited[len(visited)-1])
	for _, v := range visited {
		assert.True(t, w.IsAccessible(v), "waypoint %v", v)
	}
}

// ---- Misc ----

func TestNewPlanner_NilWorld(t *testing.T) {
	p := NewPlanner(nil, WithHeuristic(Euclidean))
	w := newOpenWorld(t, 10, 5)
	p.SetTarget(geom.Vec(9, 4))
	next, _, err := p.Advance(geom.Vec(0, 0), w, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, geom.Vec(9, 4), next)
}

func TestPlanner_WorldShapeChange(t *testing.T) {
	small := newOpenWorld(t, 10, 5)
	p := NewPlanner(small)
	p.SetTarget(geom.Vec(15, 15))
	_, _, err := p.Advance(geom.Vec(0, 0), small, 1, 1)
	require.ErrorIs(t, err, ErrTargetUnreachable)

	big := newOpenWorld(t, 20, 20)
	next, _, err := p.Advance(geom.Vec(0, 0), big, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, geom.Vec(15, 15), next)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "planned", StatePlanned.String())
	assert.Equal(t, "arrived", StateArrived.String())
	assert.Equal(t, "unknown", State(9).String())
}
