package kv

import "errors"

// ErrNotFound is returned by Get when the key does not exist, mirroring
// redis.Nil without leaking the redis package to callers.
var ErrNotFound = errors.New("kv: key not found")

// ErrConcurrentModification is returned by Watch when a transaction's
// watched keys changed during the callback and the configured retries
// were exhausted.
var ErrConcurrentModification = errors.New("kv: concurrent modification")
