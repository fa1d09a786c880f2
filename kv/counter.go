package kv

import (
	"context"
	"fmt"
	"time"
)

// Counter increments a fixed-width time bucket (e.g.
// "msg_count:{number}:{bucket}") and lets the first writer in a bucket set
// its expiry, so idle buckets age out instead of accumulating forever.
type Counter struct {
	store      Store
	prefix     string
	bucketSize time.Duration
	ttl        time.Duration
}

// NewCounter builds a bucketed counter. bucketSize determines how time is
// quantized into bucket keys (e.g. 1s for the per-second message-rate
// counters); ttl bounds how long a bucket survives after its first write.
func NewCounter(store Store, prefix string, bucketSize, ttl time.Duration) *Counter {
	return &Counter{store: store, prefix: prefix, bucketSize: bucketSize, ttl: ttl}
}

// Incr increments the bucket id falls into and returns the new count.
func (c *Counter) Incr(ctx context.Context, id string, now time.Time) (int64, error) {
	key := c.bucketKey(id, now)
	count, err := c.store.Incr(ctx, key)
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := c.store.Expire(ctx, key, c.ttl); err != nil {
			return count, err
		}
	}
	return count, nil
}

// Get returns the current count for id's active bucket without
// incrementing it.
func (c *Counter) Get(ctx context.Context, id string, now time.Time) (int64, error) {
	key := c.bucketKey(id, now)
	v, err := c.store.Get(ctx, key)
	if err != nil {
		if err == ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	var n int64
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, fmt.Errorf("parse counter value %q: %w", v, err)
	}
	return n, nil
}

func (c *Counter) bucketKey(id string, now time.Time) string {
	bucket := now.Unix() / int64(c.bucketSize.Seconds())
	return fmt.Sprintf("%s:%s:%d", c.prefix, id, bucket)
}
