package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/norne/arenanav/cache"
	"github.com/norne/arenanav/game/world"
	"github.com/norne/arenanav/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const lockTTL = 30 * time.Second

// ErrNoSnapshot is returned when an arena has never been persisted.
var ErrNoSnapshot = errors.New("snapshot: none stored")

// Persister writes arena grids to the database. Only arenas whose version
// moved since this process last saved them are written, and a cache lock
// keeps replicas sharing one database from writing the same arena at once.
type Persister struct {
	db     *gorm.DB
	cache  cache.Cache
	arenas *world.Registry
	keep   int
	owner  string
	logger *zap.Logger

	mu    sync.Mutex
	saved map[string]uint64
}

// New creates a Persister that keeps the newest keep snapshots per arena
// (all of them when keep <= 0). c may be nil for a single process.
func New(db *gorm.DB, c cache.Cache, arenas *world.Registry, keep int, logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{
		db:     db,
		cache:  c,
		arenas: arenas,
		keep:   keep,
		owner:  uuid.NewString(),
		logger: logger,
		saved:  make(map[string]uint64),
	}
}

// PersistAll saves every arena that changed and returns how many were written.
// It keeps going past per-arena failures and returns them joined.
func (p *Persister) PersistAll(ctx context.Context) (int, error) {
	var (
		written int
		errs    []error
	)
	for _, id := range p.arenas.IDs() {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		a, err := p.arenas.Get(id)
		if err != nil {
			continue // destroyed meanwhile
		}
		ok, err := p.Persist(ctx, a)
		if err != nil {
			errs = append(errs, fmt.Errorf("arena %s: %w", id, err))
			continue
		}
		if ok {
			written++
		}
	}
	return written, errors.Join(errs...)
}

// Persist saves a if its version changed since the last save. It reports
// whether a row was written.
func (p *Persister) Persist(ctx context.Context, a *world.Arena) (bool, error) {
	snap := a.Snapshot()

	p.mu.Lock()
	last, seen := p.saved[a.ID]
	p.mu.Unlock()
	if seen && last == snap.Version {
		return false, nil
	}

	locked, err := p.lock(ctx, a.ID)
	if err != nil {
		return false, err
	}
	if !locked {
		p.logger.Debug("snapshot skipped, lock held elsewhere", zap.String("arena", a.ID))
		return false, nil
	}
	defer p.unlock(a.ID)

	cells, err := json.Marshal(snap.Rows())
	if err != nil {
		return false, err
	}
	counts := snap.Counts()
	row := &model.ArenaSnapshot{
		ArenaID:   a.ID,
		Version:   snap.Version,
		Width:     snap.Width,
		Height:    snap.Height,
		Cells:     datatypes.JSON(cells),
		Unknown:   counts[world.CellUnknown],
		Free:      counts[world.CellFree],
		Obstacles: counts[world.CellObstacle],
	}
	if err := p.db.WithContext(ctx).Create(row).Error; err != nil {
		return false, err
	}
	if err := p.prune(ctx, a.ID); err != nil {
		p.logger.Warn("snapshot prune failed", zap.String("arena", a.ID), zap.Error(err))
	}

	p.mu.Lock()
	p.saved[a.ID] = snap.Version
	p.mu.Unlock()
	p.logger.Info("arena snapshot saved",
		zap.String("arena", a.ID),
		zap.Uint64("version", snap.Version),
		zap.Int("obstacles", row.Obstacles))
	return true, nil
}

func (p *Persister) lockKey(arenaID string) string {
	return "arena:" + arenaID + ":snapshot_lock"
}

func (p *Persister) lock(ctx context.Context, arenaID string) (bool, error) {
	if p.cache == nil {
		return true, nil
	}
	return p.cache.SetNX(ctx, p.lockKey(arenaID), p.owner, lockTTL)
}

func (p *Persister) unlock(arenaID string) {
	if p.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := p.lockKey(arenaID)
	if v, err := p.cache.Get(ctx, key); err == nil && v == p.owner {
		_ = p.cache.Del(ctx, key)
	}
}

func (p *Persister) prune(ctx context.Context, arenaID string) error {
	if p.keep <= 0 {
		return nil
	}
	var ids []int64
	err := p.db.WithContext(ctx).Model(&model.ArenaSnapshot{}).
		Where("arena_id = ?", arenaID).
		Order("id desc").
		Pluck("id", &ids).Error
	if err != nil || len(ids) <= p.keep {
		return err
	}
	return p.db.WithContext(ctx).Where("id IN ?", ids[p.keep:]).Delete(&model.ArenaSnapshot{}).Error
}

// Latest returns the newest stored snapshot of arenaID.
func (p *Persister) Latest(ctx context.Context, arenaID string) (*model.ArenaSnapshot, error) {
	var row model.ArenaSnapshot
	err := p.db.WithContext(ctx).Where("arena_id = ?", arenaID).Order("id desc").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Restore decodes the newest stored grid of arenaID for world.Registry's
// restore hook. It returns nil when the arena was never persisted.
func (p *Persister) Restore(ctx context.Context, arenaID string) (*world.Snapshot, error) {
	row, err := p.Latest(ctx, arenaID)
	if errors.Is(err, ErrNoSnapshot) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rows [][]world.CellState
	if err := json.Unmarshal(row.Cells, &rows); err != nil {
		return nil, fmt.Errorf("snapshot %d: %w", row.ID, err)
	}
	if len(rows) != row.Height {
		return nil, fmt.Errorf("snapshot %d: %d rows, want %d", row.ID, len(rows), row.Height)
	}
	snap := &world.Snapshot{
		Width:   row.Width,
		Height:  row.Height,
		Version: row.Version,
		Cells:   make([]world.CellState, 0, row.Width*row.Height),
	}
	for y, r := range rows {
		if len(r) != row.Width {
			return nil, fmt.Errorf("snapshot %d: row %d has %d cells, want %d", row.ID, y, len(r), row.Width)
		}
		snap.Cells = append(snap.Cells, r...)
	}

	p.mu.Lock()
	p.saved[arenaID] = row.Version
	p.mu.Unlock()
	return snap, nil
}

// List returns up to limit stored snapshots of arenaID, newest first, without
// their cell payload.
func (p *Persister) List(ctx context.Context, arenaID string, limit int) ([]model.ArenaSnapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []model.ArenaSnapshot
	err := p.db.WithContext(ctx).
		Omit("cells").
		Where("arena_id = ?", arenaID).
		Order("id desc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
