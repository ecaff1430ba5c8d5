package snapshot

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/norne/arenanav/game/geom"
	"github.com/norne/arenanav/game/world"
	"github.com/norne/arenanav/model"
	"github.com/norne/arenanav/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

func markObstacle(a *world.Arena, c geom.Cell) {
	a.With(func(w *world.WorldModel) {
		obs := world.NewObservation(w.Width(), w.Height())
		obs.Set(c.X, c.Y, world.ReportObstacle)
		w.Incorporate(obs, geom.Vec(0, 0), 0)
	})
}

func setup(t *testing.T, keep int) (*Persister, *world.Registry) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	reg := world.NewRegistry(nil, 4, 3, nil, zap.NewNop())
	return New(db, c, reg, keep, zap.NewNop()), reg
}

func TestPersist_WritesOnlyOnChange(t *testing.T) {
	p, reg := setup(t, 0)
	ctx := context.Background()
	a, err := reg.GetOrCreate("red")
	require.NoError(t, err)

	ok, err := p.Persist(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok, "first save always writes")

	ok, err = p.Persist(ctx, a)
	require.NoError(t, err)
	assert.False(t, ok, "unchanged arena is skipped")

	markObstacle(a, geom.Cell{X: 1, Y: 2})
	ok, err = p.Persist(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)

	latest, err := p.Latest(ctx, "red")
	require.NoError(t, err)
	assert.EqualValues(t, 1, latest.Version)
	assert.Equal(t, 4, latest.Width)
	assert.Equal(t, 1, latest.Obstacles)
	assert.Equal(t, 11, latest.Unknown)

	var rows [][]int
	require.NoError(t, json.Unmarshal(latest.Cells, &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, 1, rows[2][1])
	assert.Equal(t, -1, rows[0][0])
}

func TestPersistAll(t *testing.T) {
	p, reg := setup(t, 0)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := reg.GetOrCreate(id)
		require.NoError(t, err)
	}

	n, err := p.PersistAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	b, _ := reg.Get("b")
	markObstacle(b, geom.Cell{X: 0, Y: 0})
	n, err = p.PersistAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPersist_Prunes(t *testing.T) {
	p, reg := setup(t, 2)
	ctx := context.Background()
	a, _ := reg.GetOrCreate("red")

	for x := 0; x < 4; x++ {
		markObstacle(a, geom.Cell{X: x, Y: 0})
		_, err := p.Persist(ctx, a)
		require.NoError(t, err)
	}

	rows, err := p.List(ctx, "red", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.EqualValues(t, 4, rows[0].Version)
	assert.EqualValues(t, 3, rows[1].Version)
	assert.Empty(t, rows[0].Cells, "list omits cells")
}

func TestPersist_LockHeldElsewhere(t *testing.T) {
	p, reg := setup(t, 0)
	ctx := context.Background()
	a, _ := reg.GetOrCreate("red")

	ok, err := p.cache.SetNX(ctx, p.lockKey("red"), "other-replica", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = p.Persist(ctx, a)
	require.NoError(t, err)
	assert.False(t, ok)

	// the foreign lock survives
	v, err := p.cache.Get(ctx, p.lockKey("red"))
	require.NoError(t, err)
	assert.Equal(t, "other-replica", v)
}

func TestPersist_ReleasesOwnLock(t *testing.T) {
	p, reg := setup(t, 0)
	ctx := context.Background()
	a, _ := reg.GetOrCreate("red")

	_, err := p.Persist(ctx, a)
	require.NoError(t, err)
	_, err = p.cache.Get(ctx, p.lockKey("red"))
	assert.Error(t, err)
}

func TestPersist_WithoutCache(t *testing.T) {
	db := testutil.SetupTestDB(t)
	reg := world.NewRegistry(nil, 4, 3, nil, nil)
	p := New(db, nil, reg, 0, nil)
	a, _ := reg.GetOrCreate("solo")

	ok, err := p.Persist(context.Background(), a)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLatest_None(t *testing.T) {
	p, _ := setup(t, 0)
	_, err := p.Latest(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestPersistAll_CancelledContext(t *testing.T) {
	p, reg := setup(t, 0)
	_, _ = reg.GetOrCreate("a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := p.PersistAll(ctx)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRestore_ObstaclesSurviveRecreate(t *testing.T) {
	p, reg := setup(t, 0)
	reg.SetRestore(p.Restore)
	ctx := context.Background()

	a, err := reg.GetOrCreate("red")
	require.NoError(t, err)
	markObstacle(a, geom.Cell{X: 1, Y: 2})
	markObstacle(a, geom.Cell{X: 3, Y: 0})
	_, err = p.Persist(ctx, a)
	require.NoError(t, err)

	reg.Destroy("red")
	a, err = reg.GetOrCreate("red")
	require.NoError(t, err)
	snap := a.Snapshot()
	assert.Equal(t, 2, snap.Counts()[world.CellObstacle])
	assert.Equal(t, world.CellObstacle, snap.At(1, 2))
	assert.Equal(t, world.CellObstacle, snap.At(3, 0))
	assert.EqualValues(t, 2, snap.Version)

	// unchanged since the restore, nothing new to write
	ok, err := p.Persist(ctx, a)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRestore_AcrossProcesses(t *testing.T) {
	db := testutil.SetupTestDB(t)
	first := world.NewRegistry(nil, 4, 3, nil, nil)
	p1 := New(db, nil, first, 0, nil)
	a, _ := first.GetOrCreate("blue")
	markObstacle(a, geom.Cell{X: 0, Y: 1})
	_, err := p1.Persist(context.Background(), a)
	require.NoError(t, err)

	second := world.NewRegistry(nil, 4, 3, nil, nil)
	second.SetRestore(New(db, nil, second, 0, nil).Restore)
	b, err := second.GetOrCreate("blue")
	require.NoError(t, err)
	assert.Equal(t, world.CellObstacle, b.Snapshot().At(0, 1))
}

func TestRestore_None(t *testing.T) {
	p, _ := setup(t, 0)
	snap, err := p.Restore(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestRestore_MalformedRows(t *testing.T) {
	p, _ := setup(t, 0)
	row := &model.ArenaSnapshot{ArenaID: "bad", Version: 3, Width: 4, Height: 3, Cells: datatypes.JSON(`[[0,0]]`)}
	require.NoError(t, p.db.Create(row).Error)

	_, err := p.Restore(context.Background(), "bad")
	assert.Error(t, err)
}
