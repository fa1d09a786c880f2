package kv

import (
	"context"
	"time"
)

// Optimistic implements the common read-modify-write shape used by the
// registration sequence: load a value, compute its replacement, and commit
// only if nothing else touched the watched key meanwhile.
type Optimistic struct {
	store Store
}

// NewOptimistic wraps store for read-modify-write helpers.
func NewOptimistic(store Store) *Optimistic {
	return &Optimistic{store: store}
}

// UpdateFunc receives the current value (empty string, ErrNotFound
// swallowed, if the key is unset) and returns the value to write plus its
// new TTL.
type UpdateFunc func(current string, found bool) (next string, ttl time.Duration, err error)

// Update performs a watched get-compute-set cycle against key, retried
// internally by the Store up to its configured limit before surfacing
// ErrConcurrentModification.
func (o *Optimistic) Update(ctx context.Context, key string, update UpdateFunc) error {
	return o.store.Watch(ctx, func(tx Tx) error {
		current, err := tx.Get(ctx, key)
		found := true
		if err == ErrNotFound {
			found = false
			err = nil
		}
		if err != nil {
			return err
		}

		next, ttl, err := update(current, found)
		if err != nil {
			return err
		}
		return tx.Set(ctx, key, next, ttl)
	}, key)
}
