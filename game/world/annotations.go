package world

import (
	"context"
	"encoding/json"
	"time"

	"github.com/norne/arenanav/cache"
	"go.uber.org/zap"
)

// AnnotationStore keeps the opaque key/value slots a WorldModel exposes to the
// decision layer. Values carry no meaning for planning.
type AnnotationStore interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

type memoryAnnotations struct {
	values map[string]any
}

func newMemoryAnnotations() *memoryAnnotations {
	return &memoryAnnotations{values: make(map[string]any)}
}

func (m *memoryAnnotations) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *memoryAnnotations) Set(key string, value any) {
	m.values[key] = value
}

func (m *memoryAnnotations) Clear() {
	clear(m.values)
}

const annotationTimeout = 2 * time.Second

// CacheAnnotations stores annotations in a cache hash so that agents running in
// different processes (Redis) see the same team memory. Values are stored as
// JSON and come back as json.RawMessage.
type CacheAnnotations struct {
	c      cache.Cache
	key    string
	logger *zap.Logger
}

// NewCacheAnnotations stores the annotations of one arena under the hash
// "arena:<arenaID>:annotations".
func NewCacheAnnotations(c cache.Cache, arenaID string, logger *zap.Logger) *CacheAnnotations {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheAnnotations{c: c, key: "arena:" + arenaID + ":annotations", logger: logger}
}

func (a *CacheAnnotations) Get(key string) (any, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), annotationTimeout)
	defer cancel()
	v, err := a.c.HGet(ctx, a.key, key)
	if err != nil {
		if !cache.IsNotFound(err) {
			a.logger.Warn("annotation read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return json.RawMessage(v), true
}

func (a *CacheAnnotations) Set(key string, value any) {
	raw, ok := value.(json.RawMessage)
	if !ok {
		var err error
		raw, err = json.Marshal(value)
		if err != nil {
			a.logger.Warn("annotation not encodable", zap.String("key", key), zap.Error(err))
			return
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), annotationTimeout)
	defer cancel()
	if err := a.c.HSet(ctx, a.key, key, string(raw)); err != nil {
		a.logger.Warn("annotation write failed", zap.String("key", key), zap.Error(err))
	}
}

// Clear deletes the whole annotation hash of the arena.
func (a *CacheAnnotations) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), annotationTimeout)
	defer cancel()
	if err := a.c.Del(ctx, a.key); err != nil {
		a.logger.Warn("annotation clear failed", zap.Error(err))
	}
}
