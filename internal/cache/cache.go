// Package cache provides the result cache: a content-addressed TTL store that
// runs at most one computation per key at a time.
//
// Entries live in a fixed number of shards, each guarded by its own RWMutex,
// so lookups on different keys never contend. A creation-ordered list backs
// both the max-entry bound (the oldest entry is evicted first) and the
// [Janitor] sweep, which only ever has to look at the front of the list
// because every entry shares the same TTL.
//
// Lock order is always order list first, then shard. Lookups take only the
// shard read lock.
package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/hushgate/internal/observe"
)

const (
	// DefaultTTL is the lifetime of an entry.
	DefaultTTL = time.Hour

	// DefaultMaxEntries bounds the number of live entries.
	DefaultMaxEntries = 1000

	// DefaultName labels the cache in metrics.
	DefaultName = "results"

	shardCount = 64

	// sweepBatch bounds how many entries one sweep step detaches from the
	// order list while holding its lock.
	sweepBatch = 256
)

type entry[V any] struct {
	key     string
	value   V
	created time.Time
	expires time.Time
	elem    *list.Element
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]*entry[V]
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries           int   `json:"entries"`
	Hits              int64 `json:"hits"`
	Misses            int64 `json:"misses"`
	SharedWaits       int64 `json:"shared_waits"`
	ExpiredEvictions  int64 `json:"expired_evictions"`
	CapacityEvictions int64 `json:"capacity_evictions"`
}

// Cache is a TTL cache with per-key computation dedup. The zero value is not
// usable; construct with [New].
type Cache[V any] struct {
	name       string
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	metrics    *observe.Metrics
	mirror     Mirror[V]

	shards [shardCount]shard[V]

	orderMu sync.Mutex
	order   *list.List // of *entry[V], oldest created first

	group singleflight.Group

	hits, misses, shared atomic.Int64
	expired, capacity    atomic.Int64
}

// Option is a functional option for configuring a Cache during construction.
type Option[V any] func(*Cache[V])

// WithName labels the cache in metrics. Default is [DefaultName].
func WithName[V any](name string) Option[V] {
	return func(c *Cache[V]) { c.name = name }
}

// WithTTL sets the entry lifetime. Default is [DefaultTTL].
func WithTTL[V any](ttl time.Duration) Option[V] {
	return func(c *Cache[V]) { c.ttl = ttl }
}

// WithMaxEntries bounds the number of entries; 0 disables the bound.
// Default is [DefaultMaxEntries].
func WithMaxEntries[V any](n int) Option[V] {
	return func(c *Cache[V]) { c.maxEntries = n }
}

// WithClock replaces time.Now. Intended for tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = now }
}

// WithMetrics records lookups, evictions and the entry gauge on m.
func WithMetrics[V any](m *observe.Metrics) Option[V] {
	return func(c *Cache[V]) { c.metrics = m }
}

// WithMirror consults m on local misses and writes fresh results to it.
func WithMirror[V any](m Mirror[V]) Option[V] {
	return func(c *Cache[V]) { c.mirror = m }
}

// New creates a Cache.
func New[V any](opts ...Option[V]) (*Cache[V], error) {
	c := &Cache[V]{
		name:       DefaultName,
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		order:      list.New(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.ttl <= 0 {
		return nil, fmt.Errorf("cache: ttl must be positive, got %s", c.ttl)
	}
	if c.maxEntries < 0 {
		return nil, fmt.Errorf("cache: max entries must be >= 0, got %d", c.maxEntries)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	for i := range c.shards {
		c.shards[i].items = make(map[string]*entry[V])
	}
	return c, nil
}

// TTL returns the configured entry lifetime.
func (c *Cache[V]) TTL() time.Duration { return c.ttl }

func (c *Cache[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &c.shards[h.Sum32()%shardCount]
}

// Get returns the value for key if a live entry exists.
func (c *Cache[V]) Get(key string) (V, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	e := s.items[key]
	s.mu.RUnlock()
	if e == nil || !c.now().Before(e.expires) {
		var zero V
		return zero, false
	}
	return e.value, true
}

type flightResult[V any] struct {
	value     V
	fromStore bool
}

// GetOrCompute returns the live value for key, or runs compute to produce it.
//
// Concurrent callers for the same key share a single compute call; the
// result is stored only when compute succeeds. compute runs detached from
// the caller's cancellation, so a caller whose ctx ends stops waiting and
// returns ctx.Err() while the computation carries on for the others.
//
// cached reports whether the value came from the store (local or mirror)
// rather than from a compute call made for this request.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, compute func(context.Context) (V, error)) (value V, cached bool, err error) {
	if v, ok := c.Get(key); ok {
		c.hits.Add(1)
		c.metrics.RecordCacheLookup(ctx, c.name, "hit")
		return v, true, nil
	}

	var leader bool
	ch := c.group.DoChan(key, func() (any, error) {
		leader = true
		fctx := context.WithoutCancel(ctx)

		// Another flight may have stored the key between Get and DoChan.
		if v, ok := c.Get(key); ok {
			return flightResult[V]{value: v, fromStore: true}, nil
		}
		if v, ok := c.loadMirror(fctx, key); ok {
			return flightResult[V]{value: v, fromStore: true}, nil
		}

		cctx, span := observe.StartSpan(fctx, "cache.compute")
		v, err := compute(cctx)
		observe.EndSpan(span, err)
		if err != nil {
			return nil, err
		}
		created := c.Set(key, v)
		c.storeMirror(fctx, key, v, created)
		return flightResult[V]{value: v}, nil
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, false, ctx.Err()
	case res := <-ch:
		switch {
		case !leader:
			c.shared.Add(1)
			c.metrics.RecordCacheLookup(ctx, c.name, "shared")
		default:
			c.misses.Add(1)
			c.metrics.RecordCacheLookup(ctx, c.name, "miss")
		}
		if res.Err != nil {
			var zero V
			return zero, false, res.Err
		}
		fr := res.Val.(flightResult[V])
		return fr.value, fr.fromStore, nil
	}
}

// Set stores value under key with the current time as creation time and
// returns that time.
func (c *Cache[V]) Set(key string, value V) time.Time {
	created := c.now()
	c.insert(key, value, created)
	return created
}

// insert places the entry in creation order. Mirror entries may be older
// than the newest local entry, so the list is walked from the back to find
// the slot.
func (c *Cache[V]) insert(key string, value V, created time.Time) {
	e := &entry[V]{key: key, value: value, created: created, expires: created.Add(c.ttl)}

	c.orderMu.Lock()
	defer c.orderMu.Unlock()

	s := c.shardFor(key)
	s.mu.Lock()
	old := s.items[key]
	if old != nil {
		c.order.Remove(old.elem)
	}
	s.items[key] = e
	s.mu.Unlock()

	mark := c.order.Back()
	for mark != nil && mark.Value.(*entry[V]).created.After(created) {
		mark = mark.Prev()
	}
	if mark == nil {
		e.elem = c.order.PushFront(e)
	} else {
		e.elem = c.order.InsertAfter(e, mark)
	}
	if old == nil {
		c.metrics.RecordCacheEntries(context.Background(), c.name, 1)
	}

	evicted := 0
	for c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		front := c.order.Front()
		victim := c.order.Remove(front).(*entry[V])
		vs := c.shardFor(victim.key)
		vs.mu.Lock()
		if vs.items[victim.key] == victim {
			delete(vs.items, victim.key)
		}
		vs.mu.Unlock()
		evicted++
	}
	if evicted > 0 {
		c.capacity.Add(int64(evicted))
		c.metrics.RecordCacheEviction(context.Background(), c.name, "capacity", evicted)
	}
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.orderMu.Lock()
	defer c.orderMu.Unlock()

	s := c.shardFor(key)
	s.mu.Lock()
	e := s.items[key]
	delete(s.items, key)
	s.mu.Unlock()
	if e != nil {
		c.order.Remove(e.elem)
		c.metrics.RecordCacheEntries(context.Background(), c.name, -1)
	}
}

// Sweep removes every entry with expires <= now and returns how many were
// removed. The order lock is held for at most one batch at a time; each
// entry is then deleted under its own shard lock, so live lookups on other
// shards are never blocked.
func (c *Cache[V]) Sweep() int {
	removed := 0
	for {
		now := c.now()
		batch := c.detachExpired(now)
		for _, e := range batch {
			s := c.shardFor(e.key)
			s.mu.Lock()
			if s.items[e.key] == e {
				delete(s.items, e.key)
				removed++
			}
			s.mu.Unlock()
		}
		if len(batch) < sweepBatch {
			break
		}
	}
	if removed > 0 {
		c.expired.Add(int64(removed))
		c.metrics.RecordCacheEviction(context.Background(), c.name, "expired", removed)
	}
	return removed
}

func (c *Cache[V]) detachExpired(now time.Time) []*entry[V] {
	c.orderMu.Lock()
	defer c.orderMu.Unlock()

	var out []*entry[V]
	for len(out) < sweepBatch {
		front := c.order.Front()
		if front == nil {
			break
		}
		e := front.Value.(*entry[V])
		if e.expires.After(now) {
			break
		}
		c.order.Remove(front)
		out = append(out, e)
	}
	return out
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (c *Cache[V]) Len() int {
	c.orderMu.Lock()
	defer c.orderMu.Unlock()
	return c.order.Len()
}

// Clear removes every entry. In-flight computations still store their
// results when they finish.
func (c *Cache[V]) Clear() {
	c.orderMu.Lock()
	defer c.orderMu.Unlock()

	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += len(s.items)
		clear(s.items)
		s.mu.Unlock()
	}
	c.order.Init()
	c.metrics.RecordCacheEntries(context.Background(), c.name, -n)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Entries:           c.Len(),
		Hits:              c.hits.Load(),
		Misses:            c.misses.Load(),
		SharedWaits:       c.shared.Load(),
		ExpiredEvictions:  c.expired.Load(),
		CapacityEvictions: c.capacity.Load(),
	}
}

// Check implements a readiness probe: the cache is usable once constructed.
func (c *Cache[V]) Check(context.Context) error {
	if c == nil || c.order == nil {
		return errors.New("cache: not initialised")
	}
	return nil
}
