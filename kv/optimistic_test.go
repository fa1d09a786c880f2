package kv_test

import (
	"errors"
	"testing"
	"time"

	"github.com/convobridge/gateway/kv"
)

func TestOptimistic_Update_InitializesUnsetKey(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := t.Context()
	opt := kv.NewOptimistic(store)

	err := opt.Update(ctx, "seq:u1", func(current string, found bool) (string, time.Duration, error) {
		if found {
			t.Fatalf("expected key to be unset, got %q", current)
		}
		return "check_phone", time.Hour, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.Get(ctx, "seq:u1")
	if err != nil || got != "check_phone" {
		t.Fatalf("Get = %q, %v, want %q, nil", got, err, "check_phone")
	}
}

func TestOptimistic_Update_TransitionsExistingValue(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := t.Context()
	opt := kv.NewOptimistic(store)

	if err := store.Set(ctx, "seq:u1", "check_phone", time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}

	err := opt.Update(ctx, "seq:u1", func(current string, found bool) (string, time.Duration, error) {
		if !found || current != "check_phone" {
			t.Fatalf("current = %q, found = %v", current, found)
		}
		return "check_email", time.Hour, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := store.Get(ctx, "seq:u1")
	if got != "check_email" {
		t.Fatalf("Get = %q, want %q", got, "check_email")
	}
}

func TestOptimistic_Update_PropagatesUpdateFuncError(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := t.Context()
	opt := kv.NewOptimistic(store)

	wantErr := errors.New("invalid transition")
	err := opt.Update(ctx, "seq:u1", func(current string, found bool) (string, time.Duration, error) {
		return "", 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Update err = %v, want %v", err, wantErr)
	}

	if _, err := store.Get(ctx, "seq:u1"); err != kv.ErrNotFound {
		t.Fatalf("key should remain unset after aborted update, Get err = %v", err)
	}
}
