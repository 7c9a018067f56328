// Package redismirror implements [cache.Mirror] on Redis so several gateway
// replicas can reuse each other's results.
//
// Each entry is a JSON envelope holding the original creation time and the
// value, stored under "<prefix><key>" with a Redis TTL equal to the entry's
// remaining lifetime.
package redismirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/hushgate/internal/cache"
)

// DefaultKeyPrefix namespaces mirror keys.
const DefaultKeyPrefix = "hushgate:result:"

type envelope[V any] struct {
	CreatedAt time.Time `json:"created_at"`
	Value     V         `json:"value"`
}

// Mirror is a Redis-backed [cache.Mirror].
type Mirror[V any] struct {
	client redis.UniversalClient
	prefix string
}

// Compile-time assertion.
var _ cache.Mirror[string] = (*Mirror[string])(nil)

// New wraps an existing client. An empty prefix selects [DefaultKeyPrefix].
func New[V any](client redis.UniversalClient, prefix string) *Mirror[V] {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Mirror[V]{client: client, prefix: prefix}
}

// Options configures [Dial].
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Dial connects to Redis and verifies the connection with PING.
func Dial[V any](ctx context.Context, opts Options) (*Mirror[V], error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redismirror: ping %s: %w", opts.Addr, err)
	}
	return New[V](client, opts.KeyPrefix), nil
}

// Load implements [cache.Mirror].
func (m *Mirror[V]) Load(ctx context.Context, key string) (V, time.Time, bool, error) {
	var zero V
	data, err := m.client.Get(ctx, m.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, time.Time{}, false, nil
	}
	if err != nil {
		return zero, time.Time{}, false, fmt.Errorf("redismirror: get: %w", err)
	}
	var env envelope[V]
	if err := json.Unmarshal(data, &env); err != nil {
		return zero, time.Time{}, false, fmt.Errorf("redismirror: decode %q: %w", key, err)
	}
	return env.Value, env.CreatedAt, true, nil
}

// Store implements [cache.Mirror].
func (m *Mirror[V]) Store(ctx context.Context, key string, value V, created time.Time, ttl time.Duration) error {
	data, err := json.Marshal(envelope[V]{CreatedAt: created, Value: value})
	if err != nil {
		return fmt.Errorf("redismirror: encode %q: %w", key, err)
	}
	if err := m.client.Set(ctx, m.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redismirror: set: %w", err)
	}
	return nil
}

// Check pings Redis. It satisfies the health checker signature.
func (m *Mirror[V]) Check(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (m *Mirror[V]) Close() error {
	return m.client.Close()
}
