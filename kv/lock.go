package kv

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// releaseScript deletes key only if its value still matches the token that
// acquired it, so a lock can never be released by anyone but its current
// holder — this is what resolves the unconditional-DEL race: a slow holder
// whose TTL expired must not delete a lock a new holder has since acquired.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Lock is a named, TTL-bounded distributed mutex over a Store, used to
// serialize registration sequence steps and webhook per-sender processing
// across gateway instances.
type Lock struct {
	store Store
	key   string
	ttl   time.Duration
	token string
}

// NewLock prepares a lock for name; nothing is acquired until Acquire.
func NewLock(store Store, name string, ttl time.Duration) *Lock {
	return &Lock{store: store, key: "lock:" + name, ttl: ttl}
}

// Acquire attempts to take the lock, returning false if it's already held.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	token, err := randomToken()
	if err != nil {
		return false, fmt.Errorf("generate lock token: %w", err)
	}
	ok, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, err
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Release drops the lock if and only if this Lock still holds it.
func (l *Lock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	_, err := l.store.Eval(ctx, releaseScript, []string{l.key}, l.token)
	return err
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
