package identity

import (
	"context"
	"time"

	"github.com/convobridge/gateway/cache"
	"github.com/convobridge/gateway/gatewayerr"
)

// CachedStore wraps a Store with a process-local cache over user
// lookups, mirroring ECitizenAuthService.get_user_by_email_or_username's
// cache-before-admin-call shape. A single-process cache is sufficient
// here: a stale hit costs one extra admin-API round trip on expiry, not
// a correctness violation, unlike the gateway's shared sequence and
// load-balancer state.
type CachedStore struct {
	store Store
	cache cache.Cache[string, *User]
	ttl   time.Duration
}

// NewCachedStore wraps store with c, caching lookups for ttl.
func NewCachedStore(store Store, c cache.Cache[string, *User], ttl time.Duration) *CachedStore {
	return &CachedStore{store: store, cache: c, ttl: ttl}
}

func emailCacheKey(email string) string { return "auth:user:email:" + email }
func phoneCacheKey(phone string) string { return "auth:user:phone:" + phone }

// GetUserByEmail returns the cached user for email if present, else
// delegates to the backing Store and caches the result.
func (s *CachedStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	if u, ok := s.cache.Get(emailCacheKey(email)); ok {
		return u, nil
	}
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u != nil {
		s.cache.SetWithTTL(emailCacheKey(email), u, 1, s.ttl)
	}
	return u, nil
}

// GetUserByPhone mirrors GetUserByEmail for the phone-keyed lookup.
func (s *CachedStore) GetUserByPhone(ctx context.Context, phone string) (*User, error) {
	if u, ok := s.cache.Get(phoneCacheKey(phone)); ok {
		return u, nil
	}
	u, err := s.store.GetUserByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if u != nil {
		s.cache.SetWithTTL(phoneCacheKey(phone), u, 1, s.ttl)
	}
	return u, nil
}

// CreateUserWithPhone delegates directly; a freshly created user has
// nothing to invalidate.
func (s *CachedStore) CreateUserWithPhone(ctx context.Context, phone string, attributes map[string]any) (*User, error) {
	return s.store.CreateUserWithPhone(ctx, phone, attributes)
}

// MarkEmailVerified delegates to the backing store. Callers that hold a
// cached copy of this user should treat it as stale after this call.
func (s *CachedStore) MarkEmailVerified(ctx context.Context, userID string) error {
	return s.store.MarkEmailVerified(ctx, userID)
}

// IdentifierType names what Lookup's identifier is.
type IdentifierType string

const (
	IdentifierEmail IdentifierType = "email"
	IdentifierPhone IdentifierType = "phone"
)

// Lookup dispatches a /get_user_info request by identifier type.
func (s *CachedStore) Lookup(ctx context.Context, identifier string, idType IdentifierType) (*User, error) {
	switch idType {
	case IdentifierEmail:
		return s.GetUserByEmail(ctx, identifier)
	case IdentifierPhone:
		return s.GetUserByPhone(ctx, identifier)
	default:
		return nil, gatewayerr.Newf(gatewayerr.CodeValidationError, "unknown identifier type %q", idType)
	}
}

var _ Store = (*CachedStore)(nil)
