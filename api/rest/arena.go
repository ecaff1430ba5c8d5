package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/norne/arenanav/cache"
	"github.com/norne/arenanav/game/ai"
	"github.com/norne/arenanav/game/geom"
	"github.com/norne/arenanav/game/world"
	mw "github.com/norne/arenanav/middleware"
	"github.com/norne/arenanav/model"
	"github.com/norne/arenanav/planlog"
	"github.com/norne/arenanav/resource"
	"github.com/norne/arenanav/snapshot"
	"github.com/ungerik/go3d/float64/vec2"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// ArenaHandler serves the navigation debug API: arena maps, observations,
// one-shot route planning and team annotations.
type ArenaHandler struct {
	arenas    *world.Registry
	res       *resource.Loader
	planners  *plannerPool
	routes    *planlog.Service
	snapshots *snapshot.Persister
	pubsub    cache.PubSub
	logger    *zap.Logger
}

// NewArenaHandler creates an ArenaHandler. routes, snapshots and ps may be
// nil; the endpoints that need them then answer 503.
func NewArenaHandler(
	arenas *world.Registry,
	res *resource.Loader,
	plannerOpts []ai.Option,
	routes *planlog.Service,
	snapshots *snapshot.Persister,
	ps cache.PubSub,
	logger *zap.Logger,
) *ArenaHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArenaHandler{
		arenas:    arenas,
		res:       res,
		planners:  newPlannerPool(plannerOpts),
		routes:    routes,
		snapshots: snapshots,
		pubsub:    ps,
		logger:    logger,
	}
}

// arena resolves the :id parameter. Active arenas and arenas with a known
// layout resolve; with create set any id does.
func (h *ArenaHandler) arena(c *gin.Context, create bool) (*world.Arena, bool) {
	id := c.Param("id")
	if a, err := h.arenas.Get(id); err == nil {
		return a, true
	}
	if !create && (h.res == nil || h.res.Layout(id) == nil) {
		c.JSON(http.StatusNotFound, gin.H{"error": "arena not found"})
		return nil, false
	}
	a, err := h.arenas.GetOrCreate(id)
	if err != nil {
		h.logger.Error("arena create failed", zap.String("arena", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return a, true
}

type arenaInfo struct {
	ID      string `json:"id"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Version uint64 `json:"version"`
}

// List returns every active arena and the ids of the known layouts.
// GET /api/arenas
func (h *ArenaHandler) List(c *gin.Context) {
	ids := h.arenas.IDs()
	active := make([]arenaInfo, 0, len(ids))
	for _, id := range ids {
		a, err := h.arenas.Get(id)
		if err != nil {
			continue
		}
		a.With(func(w *world.WorldModel) {
			active = append(active, arenaInfo{ID: id, Width: w.Width(), Height: w.Height(), Version: w.Version()})
		})
	}
	layouts := []string{}
	if h.res != nil {
		layouts = h.res.IDs()
	}
	c.JSON(http.StatusOK, gin.H{"arenas": active, "layouts": layouts})
}

// Map returns the arena grid as rows of cell states (-1 unknown, 0 free,
// 1 obstacle).
// GET /api/arenas/:id/map
func (h *ArenaHandler) Map(c *gin.Context) {
	a, ok := h.arena(c, false)
	if !ok {
		return
	}
	snap := a.Snapshot()
	counts := snap.Counts()
	c.JSON(http.StatusOK, gin.H{
		"id":        a.ID,
		"width":     snap.Width,
		"height":    snap.Height,
		"version":   snap.Version,
		"rows":      snap.Rows(),
		"unknown":   counts[world.CellUnknown],
		"free":      counts[world.CellFree],
		"obstacles": counts[world.CellObstacle],
	})
}

type observeRequest struct {
	Observer [2]float64 `json:"observer"`
	Radius   int        `json:"radius"`
	Rows     [][]int    `json:"rows" binding:"required"`
}

// toObservation validates the raw rows before they reach the WorldModel,
// which panics on malformed windows.
func (r *observeRequest) toObservation(gridW, gridH int) (*world.Observation, error) {
	if len(r.Rows) == 0 || len(r.Rows[0]) == 0 {
		return nil, errors.New("empty observation")
	}
	width := len(r.Rows[0])
	if width > gridW || len(r.Rows) > gridH {
		return nil, errors.New("observation window larger than arena")
	}
	if r.Radius < 0 {
		return nil, errors.New("negative radius")
	}
	rows := make([][]world.Report, len(r.Rows))
	for y, row := range r.Rows {
		if len(row) != width {
			return nil, errors.New("ragged observation rows")
		}
		rows[y] = make([]world.Report, width)
		for x, v := range row {
			if v < int(world.ReportNoInfo) || v > int(world.ReportGem) {
				return nil, errors.New("report out of range at row " + strconv.Itoa(y))
			}
			rows[y][x] = world.Report(v)
		}
	}
	return world.ObservationFromRows(rows), nil
}

// Observe fuses one observation window into the arena and announces the
// change to stream subscribers.
// POST /api/arenas/:id/observe
func (h *ArenaHandler) Observe(c *gin.Context) {
	var req observeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, ok := h.arena(c, true)
	if !ok {
		return
	}

	var (
		changed int
		version uint64
		bad     error
	)
	observer := geom.Vec(req.Observer[0], req.Observer[1])
	a.With(func(w *world.WorldModel) {
		obs, err := req.toObservation(w.Width(), w.Height())
		if err != nil {
			bad = err
			return
		}
		changed = w.Incorporate(obs, observer, req.Radius)
		version = w.Version()
	})
	if bad != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bad.Error()})
		return
	}
	if changed > 0 {
		h.publish(c.Request.Context(), world.UpdateEvent{
			Type:     world.EventArenaUpdated,
			Arena:    a.ID,
			Version:  version,
			Changed:  changed,
			Observer: req.Observer,
		})
	}
	c.JSON(http.StatusOK, gin.H{"version": version, "changed": changed})
}

func (h *ArenaHandler) publish(ctx context.Context, ev world.UpdateEvent) {
	if h.pubsub == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := h.pubsub.Publish(ctx, world.UpdatesChannel(ev.Arena), string(data)); err != nil {
		h.logger.Warn("arena update publish failed", zap.String("arena", ev.Arena), zap.Error(err))
	}
}

type routeRequest struct {
	From  [2]float64 `json:"from"`
	To    [2]float64 `json:"to"`
	Speed float64    `json:"speed"`
	DT    float64    `json:"dt"`
}

type routeResponse struct {
	Next     [2]float64   `json:"next"`
	Arrived  bool         `json:"arrived"`
	Route    [][2]float64 `json:"route"`
	Expanded int          `json:"expanded"`
	Cost     float64      `json:"cost"`
}

func pair(v vec2.T) [2]float64 { return [2]float64{v[0], v[1]} }

// Route plans from From to To on the current arena knowledge and returns the
// first waypoint plus the whole smoothed route.
// POST /api/arenas/:id/route
func (h *ArenaHandler) Route(c *gin.Context) {
	var req routeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Speed == 0 && req.DT == 0 {
		req.Speed, req.DT = 1, 1
	}
	a, ok := h.arena(c, false)
	if !ok {
		return
	}

	from := geom.Vec(req.From[0], req.From[1])
	to := geom.Vec(req.To[0], req.To[1])
	start := time.Now()

	var (
		resp    routeResponse
		planErr error
		stats   ai.Stats
		route   []vec2.T
	)
	a.With(func(w *world.WorldModel) {
		p := h.planners.get(w)
		defer h.planners.put(w, p)
		p.SetTarget(to)
		next, arrived, err := p.Advance(from, w, req.Speed, req.DT)
		planErr = err
		stats = p.Stats()
		route = p.Route()
		resp.Next = pair(next)
		resp.Arrived = arrived
	})

	entry := planlog.Entry{
		TraceID:  mw.GetTraceID(c),
		ArenaID:  a.ID,
		From:     from,
		To:       to,
		Expanded: stats.Expanded,
		Err:      planErr,
		IP:       c.ClientIP(),
		Duration: time.Since(start),
	}

	switch {
	case errors.Is(planErr, ai.ErrTargetUnreachable):
		entry.Outcome = model.RouteUnreachable
		h.record(entry)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": planErr.Error()})
		return
	case errors.Is(planErr, ai.ErrNoPathFound):
		entry.Outcome = model.RouteNoPath
		h.record(entry)
		c.JSON(http.StatusConflict, gin.H{"error": planErr.Error(), "expanded": stats.Expanded})
		return
	case planErr != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": planErr.Error()})
		return
	}

	resp.Route = make([][2]float64, len(route))
	for i, wp := range route {
		resp.Route[i] = pair(wp)
	}
	if !resp.Arrived {
		resp.Expanded = stats.Expanded
		resp.Cost = stats.RouteLength
	}
	entry.Outcome = model.RouteOK
	if resp.Arrived {
		entry.Outcome = model.RouteArrived
	}
	entry.Waypoints = route
	entry.Cost = resp.Cost
	h.record(entry)
	c.JSON(http.StatusOK, resp)
}

func (h *ArenaHandler) record(e planlog.Entry) {
	if h.routes != nil {
		h.routes.Record(e)
	}
}

// RecentRoutes lists the latest route outcomes of the arena.
// GET /api/arenas/:id/routes?limit=n
func (h *ArenaHandler) RecentRoutes(c *gin.Context) {
	if h.routes == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "route log disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	recent, err := h.routes.Recent(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"routes": recent})
}

// GetAnnotation returns one annotation value verbatim.
// GET /api/arenas/:id/annotations/:key
func (h *ArenaHandler) GetAnnotation(c *gin.Context) {
	a, ok := h.arena(c, false)
	if !ok {
		return
	}
	key := c.Param("key")
	var (
		v     any
		found bool
	)
	a.With(func(w *world.WorldModel) { v, found = w.GetAnnotation(key) })
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "annotation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": v})
}

// PutAnnotation stores the request body, which must be JSON, under key.
// PUT /api/arenas/:id/annotations/:key
func (h *ArenaHandler) PutAnnotation(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil || !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON value"})
		return
	}
	a, ok := h.arena(c, true)
	if !ok {
		return
	}
	key := c.Param("key")
	a.With(func(w *world.WorldModel) { w.SetAnnotation(key, json.RawMessage(body)) })
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Snapshots lists the persisted snapshots of the arena, newest first.
// GET /api/arenas/:id/snapshots?limit=n
func (h *ArenaHandler) Snapshots(c *gin.Context) {
	if h.snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshots disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	rows, err := h.snapshots.List(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.logger.Error("snapshot list failed", zap.String("arena", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": rows})
}

// SaveSnapshot persists the arena now if it changed since the last save.
// POST /api/arenas/:id/snapshots
func (h *ArenaHandler) SaveSnapshot(c *gin.Context) {
	if h.snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshots disabled"})
		return
	}
	a, ok := h.arena(c, false)
	if !ok {
		return
	}
	written, err := h.snapshots.Persist(c.Request.Context(), a)
	if err != nil {
		h.logger.Error("snapshot save failed", zap.String("arena", a.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"written": written})
}

// Destroy drops the arena and everything it learned.
// DELETE /api/arenas/:id
func (h *ArenaHandler) Destroy(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.arenas.Get(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "arena not found"})
		return
	}
	h.arenas.Destroy(id)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
