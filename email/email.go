// Package email is the domain layer in front of mail.Mailer: it validates
// recipient addresses, rate-limits how often a given address can be sent
// an OTP, and owns the OTP's content decisions, grounded on
// original_source/services/email_service.py's EmailService.
package email

import (
	"context"
	"regexp"
	"time"

	"github.com/convobridge/gateway/gatewayerr"
	"github.com/convobridge/gateway/kv"
)

// Sender delivers a one-time code to an email address. mail.Mailer
// implements this.
type Sender interface {
	SendOTPEmail(ctx context.Context, email, otp string) error
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ValidFormat mirrors EmailService._validate_email.
func ValidFormat(email string) bool {
	return emailPattern.MatchString(email)
}

// RateLimiter caps how many OTP emails a single address can receive in a
// fixed window that opens with the first send, grounded on
// EmailRateLimiter.check_rate_limit.
type RateLimiter struct {
	store  kv.Store
	window time.Duration
	limit  int64
}

// NewRateLimiter builds a RateLimiter allowing limit sends per window per
// address.
func NewRateLimiter(store kv.Store, window time.Duration, limit int64) *RateLimiter {
	return &RateLimiter{store: store, window: window, limit: limit}
}

func rateLimitKey(email string) string { return "email:ratelimit:" + email }

// Allow increments the per-address counter and reports whether the send
// may proceed, mirroring the source's lock-around-read-then-write shape
// with kv.Lock instead of RedisLock.
func (r *RateLimiter) Allow(ctx context.Context, email string) (bool, error) {
	lock := kv.NewLock(r.store, "email_ratelimit:"+email, 5*time.Second)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return false, gatewayerr.Wrap(gatewayerr.CodeKVError, err)
	}
	if !acquired {
		return false, gatewayerr.New(gatewayerr.CodeLockFailed)
	}
	defer lock.Release(ctx)

	count, err := r.store.Incr(ctx, rateLimitKey(email))
	if err != nil {
		return false, gatewayerr.Wrap(gatewayerr.CodeKVError, err)
	}
	if count == 1 {
		if err := r.store.Expire(ctx, rateLimitKey(email), r.window); err != nil {
			return false, gatewayerr.Wrap(gatewayerr.CodeKVError, err)
		}
	}
	return count <= r.limit, nil
}

// Service ties address validation, rate limiting, and delivery together
// for the send_email_otp operation.
type Service struct {
	sender      Sender
	rateLimiter *RateLimiter
}

// New builds a Service.
func New(sender Sender, rateLimiter *RateLimiter) *Service {
	return &Service{sender: sender, rateLimiter: rateLimiter}
}

// SendOTP validates email, checks the rate limit, and delivers otp.
func (s *Service) SendOTP(ctx context.Context, email, otp string) error {
	if !ValidFormat(email) {
		return gatewayerr.New(gatewayerr.CodeInvalidEmail)
	}

	allowed, err := s.rateLimiter.Allow(ctx, email)
	if err != nil {
		return err
	}
	if !allowed {
		return gatewayerr.New(gatewayerr.CodeRateLimit)
	}

	if err := s.sender.SendOTPEmail(ctx, email, otp); err != nil {
		return gatewayerr.Wrap(gatewayerr.CodeEmailError, err)
	}
	return nil
}
