// Package countcache remembers filtered row counts keyed by plan fingerprint
// so repeated page turns skip the counting scan.
package countcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ruslano69/tdtp-explorer/pkg/resilience"
)

// KeyPrefix namespaces count entries in Redis.
const KeyPrefix = "tdtp:explore:count:"

// Cache stores counts. Get reports ok=false on a miss.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (count int64, ok bool, err error)
	Set(ctx context.Context, fingerprint string, count int64) error
}

// --- Memory ---

type memoryEntry struct {
	count   int64
	expires time.Time
}

// Memory is an in-process cache with a fixed TTL. Expired entries are
// dropped by Set at most once per TTL, so keys that are never read again
// do not accumulate.
type Memory struct {
	mu        sync.Mutex
	ttl       time.Duration
	entries   map[string]memoryEntry
	now       func() time.Time
	lastSweep time.Time
}

// NewMemory creates an in-process cache. ttl <= 0 keeps entries forever.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

// Len returns the number of entries held, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) Get(_ context.Context, fp string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[fp]
	if !ok {
		return 0, false, nil
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		delete(m.entries, fp)
		return 0, false, nil
	}
	return e.count, true, nil
}

func (m *Memory) Set(_ context.Context, fp string, count int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e := memoryEntry{count: count}
	if m.ttl > 0 {
		e.expires = now.Add(m.ttl)
		if now.Sub(m.lastSweep) >= m.ttl {
			m.sweepLocked(now)
		}
	}
	m.entries[fp] = e
	return nil
}

func (m *Memory) sweepLocked(now time.Time) {
	for fp, e := range m.entries {
		if now.After(e.expires) {
			delete(m.entries, fp)
		}
	}
	m.lastSweep = now
}

// --- Redis ---

// Redis shares counts between processes.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis wraps a go-redis client.
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, fp string) (int64, bool, error) {
	s, err := r.rdb.Get(ctx, KeyPrefix+fp).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("countcache get %s: %w", fp, err)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("countcache decode %s: %w", fp, err)
	}
	return n, true, nil
}

func (r *Redis) Set(ctx context.Context, fp string, count int64) error {
	if err := r.rdb.Set(ctx, KeyPrefix+fp, count, r.ttl).Err(); err != nil {
		return fmt.Errorf("countcache set %s: %w", fp, err)
	}
	return nil
}

// --- Guarded ---

// Guarded routes calls through a circuit breaker so an unreachable backend
// costs one fast error per call instead of a network timeout.
type Guarded struct {
	inner Cache
	cb    *resilience.CircuitBreaker
}

// NewGuarded wraps inner with cb.
func NewGuarded(inner Cache, cb *resilience.CircuitBreaker) *Guarded {
	return &Guarded{inner: inner, cb: cb}
}

func (g *Guarded) Get(ctx context.Context, fp string) (count int64, ok bool, err error) {
	err = g.cb.Execute(ctx, func(ctx context.Context) error {
		var gerr error
		count, ok, gerr = g.inner.Get(ctx, fp)
		return gerr
	})
	return count, ok, err
}

func (g *Guarded) Set(ctx context.Context, fp string, count int64) error {
	return g.cb.Execute(ctx, func(ctx context.Context) error {
		return g.inner.Set(ctx, fp, count)
	})
}
