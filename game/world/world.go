package world

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/norne/arenanav/resource"
	"go.uber.org/zap"
)

// ErrArenaNotFound is returned by Registry lookups for unknown arenas.
var ErrArenaNotFound = errors.New("world: arena not found")

// Arena is one shared team memory: a WorldModel plus the lock that serializes
// every caller touching it.
type Arena struct {
	ID string

	mu    sync.Mutex
	world *WorldModel
}

// With runs fn while holding the arena lock. fn must not retain w.
func (a *Arena) With(fn func(w *WorldModel)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a.world)
}

// Snapshot returns a copy of the arena grid.
func (a *Arena) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.world.SnapshotMap()
}

// OptionsFunc returns the WorldModel options for a new arena.
type OptionsFunc func(arenaID string) []Option

// RestoreFunc returns the last stored grid of an arena, or nil when there is
// none.
type RestoreFunc func(ctx context.Context, arenaID string) (*Snapshot, error)

const restoreTimeout = 5 * time.Second

// Registry owns every active arena. It is built once at startup and handed to
// whoever needs an arena; nothing looks arenas up through globals.
type Registry struct {
	mu      sync.RWMutex
	arenas  map[string]*Arena
	res     *resource.Loader
	width   int
	height  int
	options OptionsFunc
	restore RestoreFunc
	logger  *zap.Logger
}

// NewRegistry creates a Registry. Arenas with a layout in res are seeded from
// it; any other id gets a blank width x height grid.
func NewRegistry(res *resource.Loader, width, height int, options OptionsFunc, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		arenas:  make(map[string]*Arena),
		res:     res,
		width:   width,
		height:  height,
		options: options,
		logger:  logger,
	}
}

// SetRestore makes new arenas start from their last stored grid. Call it
// before the registry is shared.
func (r *Registry) SetRestore(fn RestoreFunc) {
	r.mu.Lock()
	r.restore = fn
	r.mu.Unlock()
}

// GetOrCreate returns the arena for id, creating it if needed. With a restore
// hook set, the stored obstacles are applied on top of the layout; a failing
// restore is logged and the arena starts fresh.
func (r *Registry) GetOrCreate(id string) (*Arena, error) {
	// Fast path: arena already exists.
	r.mu.RLock()
	a, ok := r.arenas[id]
	r.mu.RUnlock()
	if ok {
		return a, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock.
	if a, ok = r.arenas[id]; ok {
		return a, nil
	}

	var opts []Option
	if r.options != nil {
		opts = r.options(id)
	}
	opts = append(opts, WithLogger(r.logger.With(zap.String("arena", id))))

	var (
		w   *WorldModel
		err error
	)
	if l := r.layout(id); l != nil {
		w, err = NewFromLayout(l, opts...)
	} else {
		w, err = New(r.width, r.height, opts...)
	}
	if err != nil {
		return nil, err
	}
	r.restoreInto(id, w)
	a = &Arena{ID: id, world: w}
	r.arenas[id] = a
	r.logger.Info("arena created",
		zap.String("arena", id),
		zap.Int("width", w.Width()),
		zap.Int("height", w.Height()))
	return a, nil
}

func (r *Registry) restoreInto(id string, w *WorldModel) {
	if r.restore == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()
	snap, err := r.restore(ctx, id)
	if err != nil {
		r.logger.Warn("arena restore failed", zap.String("arena", id), zap.Error(err))
		return
	}
	if snap == nil {
		return
	}
	n, err := w.Restore(*snap)
	if err != nil {
		r.logger.Warn("arena restore skipped", zap.String("arena", id), zap.Error(err))
		return
	}
	r.logger.Info("arena restored",
		zap.String("arena", id),
		zap.Int("obstacles", n),
		zap.Uint64("version", w.Version()))
}

func (r *Registry) layout(id string) *resource.ArenaLayout {
	if r.res == nil {
		return nil
	}
	return r.res.Layout(id)
}

// Get returns the arena for id or ErrArenaNotFound.
func (r *Registry) Get(id string) (*Arena, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.arenas[id]
	if !ok {
		return nil, ErrArenaNotFound
	}
	return a, nil
}

// Destroy forgets the arena for id together with its annotations.
func (r *Registry) Destroy(id string) {
	r.mu.Lock()
	a, ok := r.arenas[id]
	delete(r.arenas, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	a.With(func(w *WorldModel) { w.ClearAnnotations() })
	r.logger.Info("arena destroyed", zap.String("arena", id))
}

// IDs returns the ids of every active arena, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.arenas))
	for id := range r.arenas {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Count returns the number of active arenas.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.arenas)
}
