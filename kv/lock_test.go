package kv_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/convobridge/gateway/kv"
	kvredis "github.com/convobridge/gateway/kv/redis"
	goredis "github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (kv.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return kvredis.NewFromClient(rdb), mr
}

func TestLock_AcquireRelease(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	l := kv.NewLock(store, "seq:u1", 10*time.Second)
	ok, err := l.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("Acquire = %v, %v, want true, nil", ok, err)
	}

	other := kv.NewLock(store, "seq:u1", 10*time.Second)
	ok, err = other.Acquire(ctx)
	if err != nil || ok {
		t.Fatalf("second Acquire = %v, %v, want false, nil", ok, err)
	}

	if err := l.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}

	ok, err = other.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("Acquire after release = %v, %v, want true, nil", ok, err)
	}
}

// TestLock_ReleaseCannotStealAnotherHolder reproduces the race the owner
// token exists to close: a holder whose TTL already expired must not be
// able to delete a lock a new holder has since acquired.
func TestLock_ReleaseCannotStealAnotherHolder(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first := kv.NewLock(store, "seq:u1", 5*time.Second)
	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("Acquire = %v, %v, want true, nil", ok, err)
	}

	// Simulate first's lock expiring and a second holder taking over.
	if err := store.Del(ctx, "lock:seq:u1"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	second := kv.NewLock(store, "seq:u1", 5*time.Second)
	ok, err = second.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("second Acquire = %v, %v, want true, nil", ok, err)
	}

	// first, unaware its lock was reassigned, tries to release using its
	// stale token. It must not delete second's lock.
	if err := first.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}

	exists, err := store.Exists(ctx, "lock:seq:u1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatal("stale Release deleted another holder's lock")
	}
}

func TestLock_ReleaseWithoutAcquireIsNoop(t *testing.T) {
	store, _ := newTestStore(t)
	l := kv.NewLock(store, "seq:never-acquired", time.Second)
	if err := l.Release(context.Background()); err != nil {
		t.Fatalf("Release: %v", err)
	}
}
