package webhookapi_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/convobridge/gateway/audit"
	"github.com/convobridge/gateway/config"
	"github.com/convobridge/gateway/email"
	"github.com/convobridge/gateway/identity"
	kvredis "github.com/convobridge/gateway/kv/redis"
	"github.com/convobridge/gateway/loadbalancer"
	"github.com/convobridge/gateway/notify"
	"github.com/convobridge/gateway/ratelimiter"
	"github.com/convobridge/gateway/router"
	"github.com/convobridge/gateway/router/httprouter"
	"github.com/convobridge/gateway/sequence"
	"github.com/convobridge/gateway/transport"
	"github.com/convobridge/gateway/webhookapi"
	"github.com/convobridge/gateway/workqueue"
	goredis "github.com/redis/go-redis/v9"
)

const testAuthToken = "test-auth-token"

// fakeIdentity is an in-memory identity.Store double keyed by phone and
// email, good enough to drive the registration sequence end to end.
type fakeIdentity struct {
	byEmail map[string]*identity.User
	byPhone map[string]*identity.User
	nextID  int
	failErr error
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{byEmail: map[string]*identity.User{}, byPhone: map[string]*identity.User{}}
}

func (f *fakeIdentity) GetUserByEmail(ctx context.Context, email string) (*identity.User, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	return f.byEmail[email], nil
}

func (f *fakeIdentity) GetUserByPhone(ctx context.Context, phone string) (*identity.User, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	return f.byPhone[phone], nil
}

func (f *fakeIdentity) CreateUserWithPhone(ctx context.Context, phone string, attrs map[string]any) (*identity.User, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	f.nextID++
	u := &identity.User{
		ID:         "user-" + itoa(f.nextID),
		Phone:      phone,
		Email:      attrs["email"].(string),
		Enabled:    true,
		Attributes: attrs,
	}
	f.byPhone[phone] = u
	f.byEmail[u.Email] = u
	return u, nil
}

func (f *fakeIdentity) MarkEmailVerified(ctx context.Context, userID string) error {
	if f.failErr != nil {
		return f.failErr
	}
	for _, u := range f.byEmail {
		if u.ID == userID {
			u.Attributes["email_verified"] = true
		}
	}
	return nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

type recordingSender struct {
	lastTo, lastOTP string
	err             error
}

func (s *recordingSender) SendOTPEmail(ctx context.Context, to, otp string) error {
	if s.err != nil {
		return s.err
	}
	s.lastTo, s.lastOTP = to, otp
	return nil
}

var errSendFailed = errors.New("smtp down")

type harness struct {
	api      *webhookapi.API
	cfg      *config.Provider
	identity *fakeIdentity
	sender   *recordingSender
	queue    *workqueue.Queue
	verifier *transport.SignatureVerifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithNumbers(t, []string{"whatsapp:+15550199"})
}

func newHarnessWithNumbers(t *testing.T, numbers []string) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := kvredis.NewFromClient(rdb)

	cfg := config.NewProvider(&config.Config{
		APIKey: "test-api-key",
		TTL: config.TTL{
			Idempotency: time.Minute,
			Sequence:    time.Hour,
			Lock:        5 * time.Second,
			Otp:         10 * time.Minute,
		},
		MaxOTPAttempts: 3,
		Server:         config.Server{ClientIpProxyHeader: "X-Forwarded-For"},
		LoadBalancer: config.LoadBalancer{
			MaxMessagesPerSecond: 70,
			HighThreshold:        0.7,
			AlertThreshold:       0.9,
			StatsWindow:          time.Minute,
		},
		RateLimits: map[string]config.RateLimitRule{
			"webhook_ip":    {Limit: 1000, Period: time.Minute, IdentifierType: config.IdentifierIP, KeyTemplate: "rl:webhook_ip:{ip}"},
			"signup":        {Limit: 1000, Period: time.Minute, IdentifierType: config.IdentifierIP, KeyTemplate: "rl:signup:{ip}"},
			"check_phone":   {Limit: 1000, Period: time.Minute, IdentifierType: config.IdentifierPhone, KeyTemplate: "rl:check_phone:{phone}"},
			"check_email":   {Limit: 1000, Period: time.Minute, IdentifierType: config.IdentifierPhone, KeyTemplate: "rl:check_email:{phone}"},
			"send_email_otp": {Limit: 1000, Period: time.Minute, IdentifierType: config.IdentifierEmail, KeyTemplate: "rl:send_email_otp:{email}"},
			"verify_email":  {Limit: 1000, Period: time.Minute, IdentifierType: config.IdentifierEmail, KeyTemplate: "rl:verify_email:{email}"},
		},
	})

	limiter := ratelimiter.New(store, cfg.Get().RateLimits)
	seq := sequence.New(store, cfg.Get().TTL)
	sink := audit.NilSink{}
	lb := loadbalancer.New(store, sink, notify.NewNilNotifier(), nil, numbers, cfg.Get().LoadBalancer, time.Minute)
	idStore := newFakeIdentity()
	otp := identity.NewOTPManager(store, cfg.Get().TTL.Otp, cfg.Get().MaxOTPAttempts)
	sender := &recordingSender{}
	emailSvc := email.New(sender, email.NewRateLimiter(store, time.Minute, 1000))
	verifier := transport.NewSignatureVerifier(testAuthToken)
	queue := workqueue.New(store)

	api := webhookapi.New(cfg, store, limiter, seq, lb, idStore, otp, emailSvc, verifier, queue, sink, nil)

	return &harness{api: api, cfg: cfg, identity: idStore, sender: sender, queue: queue, verifier: verifier}
}

func newTestMux(h *harness) router.Mux {
	mux := httprouter.New()
	h.api.RegisterRoutes(mux)
	return mux
}
