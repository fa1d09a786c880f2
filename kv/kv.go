// Package kv is the gateway's shared, cross-process state store: the
// distributed locks, sorted sets, and counters that the sequence manager,
// load balancer, and rate limiter all read and write against the same
// Redis-compatible backend. No component is allowed to keep this state
// in a local process cache — it has to survive across the multiple
// gateway instances fronting the same numbers.
package kv

import (
	"context"
	"time"
)

// Store is the subset of Redis-shaped operations the gateway's CORE
// components depend on. kv/redis provides the concrete implementation;
// unit tests run it against miniredis.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZCard(ctx context.Context, key string) (int64, error)
	ZCount(ctx context.Context, key string, min, max float64) (int64, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Scan iterates keys matching pattern cursor-by-cursor, mirroring
	// Redis's SCAN so callers (cleanup jobs) never block the server with
	// a KEYS call. A returned cursor of 0 means iteration is complete.
	Scan(ctx context.Context, cursor uint64, pattern string, count int64) (keys []string, nextCursor uint64, err error)

	// Eval runs a Lua script (used by Lock release and the workqueue's
	// atomic pop) and returns its raw result.
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)

	// Watch runs fn with optimistic-locking semantics over the given
	// keys: fn observes a consistent snapshot and its writes commit only
	// if none of keys changed meanwhile. Callers get ErrConcurrentModification
	// on conflict after internal retries are exhausted.
	Watch(ctx context.Context, fn func(tx Tx) error, keys ...string) error

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the transactional view Watch hands to its callback.
type Tx interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
