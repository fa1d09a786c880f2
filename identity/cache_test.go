package identity_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/convobridge/gateway/cache/ristretto"
	"github.com/convobridge/gateway/identity"
)

type fakeUserStore struct {
	mu          sync.Mutex
	byEmail     map[string]*identity.User
	byPhone     map[string]*identity.User
	emailCalls  int
	phoneCalls  int
	createCalls int
	verifyCalls int
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byEmail: map[string]*identity.User{}, byPhone: map[string]*identity.User{}}
}

func (f *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emailCalls++
	return f.byEmail[email], nil
}

func (f *fakeUserStore) GetUserByPhone(ctx context.Context, phone string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phoneCalls++
	return f.byPhone[phone], nil
}

func (f *fakeUserStore) CreateUserWithPhone(ctx context.Context, phone string, attributes map[string]any) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	u := &identity.User{ID: "new-user", Phone: phone, Attributes: attributes}
	f.byPhone[phone] = u
	return u, nil
}

func (f *fakeUserStore) MarkEmailVerified(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	return nil
}

func newCachedStore(t *testing.T) (*identity.CachedStore, *fakeUserStore) {
	t.Helper()
	c, err := ristretto.New[*identity.User]("small")
	if err != nil {
		t.Fatalf("ristretto.New() error = %v", err)
	}
	backing := newFakeUserStore()
	return identity.NewCachedStore(backing, c, time.Minute), backing
}

func TestCachedStore_GetUserByEmail_CachesAcrossCalls(t *testing.T) {
	store, backing := newCachedStore(t)
	backing.byEmail["user@example.com"] = &identity.User{ID: "u1", Email: "user@example.com"}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		u, err := store.GetUserByEmail(ctx, "user@example.com")
		if err != nil {
			t.Fatalf("GetUserByEmail() error = %v", err)
		}
		if u == nil || u.ID != "u1" {
			t.Fatalf("GetUserByEmail() = %v, want u1", u)
		}
		// ristretto's writes are processed asynchronously; give the
		// first Set a moment to land before the cache can short-circuit
		// the remaining calls.
		time.Sleep(10 * time.Millisecond)
	}

	if backing.emailCalls != 1 {
		t.Fatalf("backing.emailCalls = %d, want 1 (cache should absorb repeats)", backing.emailCalls)
	}
}

func TestCachedStore_GetUserByPhone_NotFoundIsNotCached(t *testing.T) {
	store, backing := newCachedStore(t)
	ctx := context.Background()

	u, err := store.GetUserByPhone(ctx, "+15551234567")
	if err != nil {
		t.Fatalf("GetUserByPhone() error = %v", err)
	}
	if u != nil {
		t.Fatalf("GetUserByPhone() = %v, want nil", u)
	}
	if backing.phoneCalls != 1 {
		t.Fatalf("backing.phoneCalls = %d, want 1", backing.phoneCalls)
	}

	time.Sleep(10 * time.Millisecond)
	if _, err := store.GetUserByPhone(ctx, "+15551234567"); err != nil {
		t.Fatalf("GetUserByPhone() second call error = %v", err)
	}
	if backing.phoneCalls != 2 {
		t.Fatalf("backing.phoneCalls = %d, want 2 (a miss must not be cached)", backing.phoneCalls)
	}
}

func TestCachedStore_CreateUserWithPhone_Delegates(t *testing.T) {
	store, backing := newCachedStore(t)
	ctx := context.Background()

	u, err := store.CreateUserWithPhone(ctx, "+15551234567", map[string]any{"source": "whatsapp"})
	if err != nil {
		t.Fatalf("CreateUserWithPhone() error = %v", err)
	}
	if u.ID != "new-user" {
		t.Fatalf("CreateUserWithPhone() ID = %q, want new-user", u.ID)
	}
	if backing.createCalls != 1 {
		t.Fatalf("backing.createCalls = %d, want 1", backing.createCalls)
	}
}

func TestCachedStore_Lookup_DispatchesByIdentifierType(t *testing.T) {
	store, backing := newCachedStore(t)
	backing.byEmail["user@example.com"] = &identity.User{ID: "u1"}
	backing.byPhone["+15551234567"] = &identity.User{ID: "u2"}
	ctx := context.Background()

	u, err := store.Lookup(ctx, "user@example.com", identity.IdentifierEmail)
	if err != nil || u.ID != "u1" {
		t.Fatalf("Lookup(email) = (%v, %v), want u1", u, err)
	}

	u, err = store.Lookup(ctx, "+15551234567", identity.IdentifierPhone)
	if err != nil || u.ID != "u2" {
		t.Fatalf("Lookup(phone) = (%v, %v), want u2", u, err)
	}

	if _, err := store.Lookup(ctx, "whatever", identity.IdentifierType("bogus")); err == nil {
		t.Fatalf("Lookup(bogus) error = nil, want error")
	}
}
