package planlog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/norne/arenanav/cache"
	"github.com/norne/arenanav/model"
	"github.com/ungerik/go3d/float64/vec2"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	batchSize    = 100
	flushEvery   = 2 * time.Second
	recentLimit  = 50
	cacheTimeout = 2 * time.Second
)

// Entry is one planning request and how it ended.
type Entry struct {
	TraceID   string
	ArenaID   string
	From      vec2.T
	To        vec2.T
	Outcome   string
	Waypoints []vec2.T
	Expanded  int
	Cost      float64
	Err       error
	IP        string
	Duration  time.Duration
}

// Recent is the short form of a record kept in the cache for quick listing.
type Recent struct {
	TraceID   string     `json:"trace_id"`
	From      [2]float64 `json:"from"`
	To        [2]float64 `json:"to"`
	Outcome   string     `json:"outcome"`
	Waypoints int        `json:"waypoints"`
	At        time.Time  `json:"at"`
}

// Service writes route records asynchronously in batches. When a cache is
// given it also keeps the last few outcomes of every arena in a cache list.
type Service struct {
	db       *gorm.DB
	cache    cache.Cache
	ch       chan *model.RouteRecord
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// New creates a Service with a queue of buffer records and starts its worker.
// c may be nil.
func New(db *gorm.DB, c cache.Cache, buffer int, logger *zap.Logger) *Service {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &Service{
		db:     db,
		cache:  c,
		ch:     make(chan *model.RouteRecord, buffer),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

func points(ps []vec2.T) [][2]float64 {
	out := make([][2]float64, len(ps))
	for i, p := range ps {
		out[i] = [2]float64{p[0], p[1]}
	}
	return out
}

// Record enqueues an entry for the async DB write. It never blocks; entries
// are dropped with a warning when the queue is full.
func (svc *Service) Record(e Entry) {
	wp, _ := json.Marshal(points(e.Waypoints))
	rec := &model.RouteRecord{
		TraceID:    e.TraceID,
		ArenaID:    e.ArenaID,
		FromX:      e.From[0],
		FromY:      e.From[1],
		ToX:        e.To[0],
		ToY:        e.To[1],
		Outcome:    e.Outcome,
		Waypoints:  datatypes.JSON(wp),
		Expanded:   e.Expanded,
		Cost:       e.Cost,
		IP:         e.IP,
		DurationUs: e.Duration.Microseconds(),
	}
	if e.Err != nil {
		rec.Error = e.Err.Error()
	}
	select {
	case svc.ch <- rec:
	default:
		svc.logger.Warn("route log queue full, dropping record",
			zap.String("arena", e.ArenaID),
			zap.String("outcome", e.Outcome))
	}
}

// Recent returns up to n of the latest outcomes for arenaID, newest first.
func (svc *Service) Recent(ctx context.Context, arenaID string, n int) ([]Recent, error) {
	if svc.cache == nil {
		return nil, errors.New("planlog: no cache configured")
	}
	if n <= 0 || n > recentLimit {
		n = recentLimit
	}
	raw, err := svc.cache.LRange(ctx, recentKey(arenaID), 0, int64(n-1))
	if err != nil {
		return nil, err
	}
	out := make([]Recent, 0, len(raw))
	for _, s := range raw {
		var r Recent
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func recentKey(arenaID string) string {
	return "arena:" + arenaID + ":routes"
}

// Stop flushes remaining records and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	batch := make([]*model.RouteRecord, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("route batch write failed", zap.Error(err), zap.Int("records", len(batch)))
		}
		svc.pushRecent(batch)
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-svc.ch:
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case rec := <-svc.ch:
					batch = append(batch, rec)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (svc *Service) pushRecent(batch []*model.RouteRecord) {
	if svc.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()

	byArena := make(map[string][]string)
	for _, rec := range batch {
		var wp [][2]float64
		_ = json.Unmarshal(rec.Waypoints, &wp)
		b, err := json.Marshal(Recent{
			TraceID:   rec.TraceID,
			From:      [2]float64{rec.FromX, rec.FromY},
			To:        [2]float64{rec.ToX, rec.ToY},
			Outcome:   rec.Outcome,
			Waypoints: len(wp),
			At:        rec.CreatedAt,
		})
		if err != nil {
			continue
		}
		byArena[rec.ArenaID] = append(byArena[rec.ArenaID], string(b))
	}
	for arena, items := range byArena {
		key := recentKey(arena)
		if err := svc.cache.LPush(ctx, key, items...); err != nil {
			svc.logger.Warn("recent routes push failed", zap.String("arena", arena), zap.Error(err))
			continue
		}
		if err := svc.cache.LTrim(ctx, key, 0, recentLimit-1); err != nil {
			svc.logger.Warn("recent routes trim failed", zap.String("arena", arena), zap.Error(err))
		}
	}
}
