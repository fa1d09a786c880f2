// Package redis adapts github.com/redis/go-redis/v9 to the kv.Store
// contract.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/convobridge/gateway/config"
	"github.com/convobridge/gateway/kv"
	goredis "github.com/redis/go-redis/v9"
)

// Client implements kv.Store over a *goredis.Client.
type Client struct {
	rdb *goredis.Client
}

// New dials a Redis instance from the KV section of the gateway config.
func New(cfg config.KV) *Client {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{rdb: rdb}
}

// NewFromClient wraps an already-constructed client, used by tests to
// point at a miniredis instance.
func NewFromClient(rdb *goredis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", kv.ErrNotFound
	}
	return v, err
}

func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return c.rdb.Incr(ctx, key).Result()
}

func (c *Client) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return c.rdb.IncrBy(ctx, key, delta).Result()
}

func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.rdb.TTL(ctx, key).Result()
}

func (c *Client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return c.rdb.ZAdd(ctx, key, goredis.Z{Score: score, Member: member}).Err()
}

func (c *Client) ZCard(ctx context.Context, key string) (int64, error) {
	return c.rdb.ZCard(ctx, key).Result()
}

func (c *Client) ZCount(ctx context.Context, key string, min, max float64) (int64, error) {
	return c.rdb.ZCount(ctx, key, fmt.Sprintf("%f", min), fmt.Sprintf("%f", max)).Result()
}

func (c *Client) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	return c.rdb.ZRemRangeByScore(ctx, key, fmt.Sprintf("%f", min), fmt.Sprintf("%f", max)).Err()
}

func (c *Client) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return c.rdb.ZRange(ctx, key, start, stop).Result()
}

func (c *Client) Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error) {
	keys, next, err := c.rdb.Scan(ctx, cursor, pattern, count).Result()
	return keys, next, err
}

func (c *Client) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	return c.rdb.Eval(ctx, script, keys, args...).Result()
}

// Watch implements kv.Store.Watch using go-redis's native WATCH/MULTI/EXEC
// transaction support, retrying up to 3 times on a watched key changing
// concurrently, per the CONCURRENT_MODIFICATION retry policy.
func (c *Client) Watch(ctx context.Context, fn func(kv.Tx) error, keys ...string) error {
	const maxRetries = 3

	txFn := func(rtx *goredis.Tx) error {
		tx := &transaction{ctx: ctx, rtx: rtx}
		return fn(tx)
	}

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = c.rdb.Watch(ctx, txFn, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return kv.ErrConcurrentModification
}

// transaction implements kv.Tx over a *goredis.Tx pipelined in MULTI/EXEC.
type transaction struct {
	ctx context.Context
	rtx *goredis.Tx
}

func (t *transaction) Get(ctx context.Context, key string) (string, error) {
	v, err := t.rtx.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", kv.ErrNotFound
	}
	return v, err
}

func (t *transaction) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := t.rtx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, key, value, ttl)
		return nil
	})
	return err
}

func (t *transaction) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := t.rtx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		return nil
	})
	return err
}
