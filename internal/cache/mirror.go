package cache

import (
	"context"
	"time"

	"github.com/MrWong99/hushgate/internal/observe"
)

// mirrorTimeout bounds each mirror round trip so a slow mirror cannot stall
// a computation.
const mirrorTimeout = 500 * time.Millisecond

// Mirror is a shared second-level store consulted on local misses, typically
// used so that several gateway replicas reuse each other's results.
//
// Implementations must be safe for concurrent use. Mirror failures never fail
// a request; they are logged and treated as misses.
type Mirror[V any] interface {
	// Load returns the value stored under key together with its original
	// creation time. ok is false when the key is absent.
	Load(ctx context.Context, key string) (value V, created time.Time, ok bool, err error)

	// Store saves value under key. The mirror should expire it after ttl.
	Store(ctx context.Context, key string, value V, created time.Time, ttl time.Duration) error
}

// loadMirror fetches key from the mirror and, if still live, installs it
// locally with the mirror's creation time so expiry stays aligned across
// replicas.
func (c *Cache[V]) loadMirror(ctx context.Context, key string) (V, bool) {
	var zero V
	if c.mirror == nil {
		return zero, false
	}
	ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()

	v, created, ok, err := c.mirror.Load(ctx, key)
	if err != nil {
		observe.Logger(ctx).Warn("cache mirror load failed", "key", key, "err", err)
		return zero, false
	}
	if !ok || !c.now().Before(created.Add(c.ttl)) {
		return zero, false
	}
	c.insert(key, v, created)
	return v, true
}

func (c *Cache[V]) storeMirror(ctx context.Context, key string, v V, created time.Time) {
	if c.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()

	remaining := created.Add(c.ttl).Sub(c.now())
	if remaining <= 0 {
		return
	}
	if err := c.mirror.Store(ctx, key, v, created, remaining); err != nil {
		observe.Logger(ctx).Warn("cache mirror store failed", "key", key, "err", err)
	}
}
