package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"capture/internal/core/request"
	"capture/internal/logger"
	rds "capture/internal/platform/redis"
)

const (
	keyPrefix = "capture:v1:"
	keyWidth  = 16 // hex chars kept from the digest
)

// Fingerprint derives the cache key for a request from the fields that affect
// the rendered artifact. Delivery-only fields (storage target, async flag,
// cache TTL) are deliberately excluded so they collide with each other.
// Serialization goes through a map so keys are emitted sorted and the result
// is independent of how the request was assembled.
func Fingerprint(r *request.CaptureRequest) string {
	vp := r.ResolveViewport()
	fields := map[string]interface{}{
		"url":       r.URL,
		"device":    r.Device,
		"width":     vp.Width,
		"height":    vp.Height,
		"scale":     vp.Scale,
		"full_page": r.FullPage,
		"format":    string(r.Format),
		"quality":   r.Quality,
		"selector":  r.Selector,
		"mockup":    r.Mockup,
		"block_ads": r.BlockAds,
		"dark_mode": r.DarkMode,
	}
	b, _ := json.Marshal(fields)
	sum := sha256.Sum256(b)
	return keyPrefix + hex.EncodeToString(sum[:])[:keyWidth]
}

// Store is the artifact cache. Reads and writes are best-effort: a failing
// backend behaves like a miss and a dropped write, never an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, val []byte, ttl time.Duration)
}

type Options struct {
	MaxEntries   int
	MaxValueSize int
}

func (o Options) withDefaults() Options {
	if o.MaxEntries <= 0 {
		o.MaxEntries = 256
	}
	if o.MaxValueSize <= 0 {
		o.MaxValueSize = 8 << 20
	}
	return o
}

// New returns a Redis-backed store when a Redis service is available and an
// in-process bounded store otherwise. The fallback must never surface as an
// error to callers.
func New(redis *rds.Service, opts Options) Store {
	if redis != nil {
		return &redisStore{redis: redis, opts: opts.withDefaults(), log: logger.New("Cache")}
	}
	return NewMemory(opts)
}

type redisStore struct {
	redis *rds.Service
	opts  Options
	log   *logger.Logger
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := s.redis.GetBytes(ctx, key)
	if err != nil || len(b) == 0 {
		return nil, false
	}
	return b, true
}

func (s *redisStore) Put(ctx context.Context, key string, val []byte, ttl time.Duration) {
	if len(val) > s.opts.MaxValueSize {
		s.log.LogDebugf("skipping cache write: %d bytes over limit", len(val))
		return
	}
	if err := s.redis.SetBytes(ctx, key, val, ttl); err != nil {
		s.log.LogWarnf("cache write failed for %s: %v", key, err)
	}
}

// Memory is the in-process fallback store: a bounded map with strict
// insertion-order FIFO eviction and per-entry TTL.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	order   []string
	opts    Options
}

type memEntry struct {
	val     []byte
	expires time.Time
}

func NewMemory(opts Options) *Memory {
	return &Memory{entries: make(map[string]memEntry), opts: opts.withDefaults()}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		delete(m.entries, key)
		m.dropOrder(key)
		return nil, false
	}
	return e.val, true
}

// dropOrder removes key's slot so a later re-insert lands at the back of the
// queue instead of inheriting a stale front position. Caller holds the lock.
func (m *Memory) dropOrder(key string) {
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *Memory) Put(_ context.Context, key string, val []byte, ttl time.Duration) {
	if len(val) > m.opts.MaxValueSize {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[key]; !exists {
		m.order = append(m.order, key)
	}
	m.entries[key] = memEntry{val: val, expires: time.Now().Add(ttl)}
	for len(m.order) > m.opts.MaxEntries {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.entries, oldest)
	}
}

// Len reports the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
