package identity

import (
	"context"
	"strconv"
	"time"

	"github.com/convobridge/gateway/crypto"
	"github.com/convobridge/gateway/gatewayerr"
	"github.com/convobridge/gateway/kv"
)

// OTPManager issues and verifies the short-lived numeric codes that
// gate email verification, grounded on
// ECitizenAuthService.generate_otp/store_otp/verify_otp.
type OTPManager struct {
	store       kv.Store
	ttl         time.Duration
	maxAttempts int
}

// NewOTPManager builds an OTPManager. ttl bounds both the code and its
// attempt counter (auth:otp:{email}, auth:otp:attempts:{email} in the
// KV layout); maxAttempts is config.MaxOTPAttempts.
func NewOTPManager(store kv.Store, ttl time.Duration, maxAttempts int) *OTPManager {
	return &OTPManager{store: store, ttl: ttl, maxAttempts: maxAttempts}
}

func otpKey(email string) string         { return "auth:otp:" + email }
func otpAttemptsKey(email string) string { return "auth:otp:attempts:" + email }

// Generate returns a new 6-digit one-time code.
func (m *OTPManager) Generate() string {
	return crypto.RandomString(6, crypto.DigitAlphabet)
}

// Store saves otp for email, resetting its attempt counter, both under
// the manager's configured TTL. Serialized per email so two concurrent
// OTP requests for the same address don't interleave the code and
// attempts writes.
func (m *OTPManager) Store(ctx context.Context, email, otp string) error {
	lock := kv.NewLock(m.store, "otp_store:"+email, 5*time.Second)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.CodeKVError, err)
	}
	if !acquired {
		return gatewayerr.New(gatewayerr.CodeLockFailed)
	}
	defer lock.Release(ctx)

	if err := m.store.Set(ctx, otpKey(email), otp, m.ttl); err != nil {
		return gatewayerr.Wrap(gatewayerr.CodeKVError, err)
	}
	if err := m.store.Set(ctx, otpAttemptsKey(email), "0", m.ttl); err != nil {
		return gatewayerr.Wrap(gatewayerr.CodeKVError, err)
	}
	return nil
}

// Verify checks otp against the code stored for email, incrementing the
// attempt counter on mismatch. Returns nil only when otp matches; the
// stored code and counter are cleared on success so it cannot be reused.
func (m *OTPManager) Verify(ctx context.Context, email, otp string) error {
	lock := kv.NewLock(m.store, "otp_verify:"+email, 5*time.Second)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.CodeKVError, err)
	}
	if !acquired {
		return gatewayerr.New(gatewayerr.CodeLockFailed)
	}
	defer lock.Release(ctx)

	stored, err := m.store.Get(ctx, otpKey(email))
	if err == kv.ErrNotFound {
		return gatewayerr.New(gatewayerr.CodeExpired)
	}
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.CodeKVError, err)
	}

	attemptsRaw, err := m.store.Get(ctx, otpAttemptsKey(email))
	attempts := 0
	if err == nil {
		attempts, _ = strconv.Atoi(attemptsRaw)
	} else if err != kv.ErrNotFound {
		return gatewayerr.Wrap(gatewayerr.CodeKVError, err)
	}

	if attempts >= m.maxAttempts {
		return gatewayerr.New(gatewayerr.CodeMaxAttemptsExceeded)
	}

	if stored == otp {
		m.store.Del(ctx, otpKey(email), otpAttemptsKey(email))
		return nil
	}

	if err := m.store.Set(ctx, otpAttemptsKey(email), strconv.Itoa(attempts+1), m.ttl); err != nil {
		return gatewayerr.Wrap(gatewayerr.CodeKVError, err)
	}
	return gatewayerr.New(gatewayerr.CodeInvalidOTP)
}
