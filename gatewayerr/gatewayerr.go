// Package gatewayerr is the gateway's single error type. Every CORE
// operation (sequence, loadbalancer, ratelimiter, conversation, worker)
// returns one on failure, and webhookapi maps it straight onto the
// {status:"failed", ...} HTTP envelope without re-deriving status codes at
// the handler layer.
package gatewayerr

import (
	"fmt"
	"net/http"
	"time"
)

// Code identifies the kind of failure. Values mirror the error kinds table:
// callers switch on these, never on message text.
type Code string

const (
	CodeInvalidData        Code = "INVALID_DATA"
	CodeInvalidPhone       Code = "INVALID_PHONE"
	CodeInvalidEmail       Code = "INVALID_EMAIL"
	CodeValidationError    Code = "VALIDATION_ERROR"
	CodeSequenceViolation  Code = "SEQUENCE_VIOLATION"
	CodeInvalidTransition  Code = "INVALID_STEP_TRANSITION"
	CodeSequenceExpired    Code = "SEQUENCE_EXPIRED"
	CodeSequenceNotFound   Code = "SEQUENCE_NOT_FOUND"
	CodeDataMismatch       Code = "DATA_MISMATCH"
	CodeDataNotFound       Code = "DATA_NOT_FOUND"
	CodeLockFailed         Code = "LOCK_ACQUISITION_FAILED"
	CodeSequenceLocked     Code = "SEQUENCE_LOCKED"
	CodeConcurrentMod      Code = "CONCURRENT_MODIFICATION"
	CodeRateLimit          Code = "RATE_LIMIT"
	CodeTimeout            Code = "TIMEOUT"
	CodeIdentityError      Code = "IDENTITY_ERROR"
	CodeKVError            Code = "KV_ERROR"
	CodeBackendError       Code = "BACKEND_ERROR"
	CodeTransportError     Code = "TRANSPORT_ERROR"
	CodeEmailError         Code = "EMAIL_ERROR"
	CodeMaxAttemptsExceeded Code = "MAX_ATTEMPTS_EXCEEDED"
	CodeInvalidOTP         Code = "INVALID_OTP"
	CodeExpired            Code = "EXPIRED"
	CodeSystemError        Code = "SYSTEM_ERROR"
	CodeNetworkError       Code = "NETWORK_ERROR"
)

// httpStatus is the fixed Code -> HTTP status mapping from the error
// handling design. Codes not present here map to 500.
var httpStatus = map[Code]int{
	CodeInvalidData:         http.StatusBadRequest,
	CodeInvalidPhone:        http.StatusBadRequest,
	CodeInvalidEmail:        http.StatusBadRequest,
	CodeValidationError:     http.StatusBadRequest,
	CodeSequenceViolation:   http.StatusBadRequest,
	CodeInvalidTransition:   http.StatusBadRequest,
	CodeSequenceExpired:     http.StatusBadRequest,
	CodeSequenceNotFound:    http.StatusBadRequest,
	CodeDataMismatch:        http.StatusBadRequest,
	CodeDataNotFound:        http.StatusNotFound,
	CodeLockFailed:          http.StatusLocked,
	CodeSequenceLocked:      http.StatusLocked,
	CodeConcurrentMod:       http.StatusConflict,
	CodeRateLimit:           http.StatusTooManyRequests,
	CodeTimeout:             http.StatusGatewayTimeout,
	CodeIdentityError:       http.StatusBadGateway,
	CodeKVError:             http.StatusServiceUnavailable,
	CodeBackendError:        http.StatusBadGateway,
	CodeTransportError:      http.StatusBadGateway,
	CodeEmailError:          http.StatusBadGateway,
	CodeMaxAttemptsExceeded: http.StatusBadRequest,
	CodeInvalidOTP:          http.StatusBadRequest,
	CodeExpired:             http.StatusBadRequest,
	CodeSystemError:         http.StatusInternalServerError,
	CodeNetworkError:        http.StatusServiceUnavailable,
}

// defaultMessage is the user-friendly message shown when a caller didn't
// supply one explicitly.
var defaultMessage = map[Code]string{
	CodeInvalidData:         "the submitted data is invalid",
	CodeInvalidPhone:        "the phone number is invalid",
	CodeInvalidEmail:        "the email address is invalid",
	CodeValidationError:     "the request failed validation",
	CodeSequenceViolation:   "this step is out of order, start over",
	CodeInvalidTransition:   "this step cannot follow the current step, start over",
	CodeSequenceExpired:     "the registration session expired, start over",
	CodeSequenceNotFound:    "no active registration session was found, start over",
	CodeDataMismatch:        "the submitted data does not match the session",
	CodeDataNotFound:        "the requested record was not found",
	CodeLockFailed:          "the resource is busy, retry shortly",
	CodeSequenceLocked:      "the registration session is busy, retry shortly",
	CodeConcurrentMod:       "the record changed concurrently, please retry",
	CodeRateLimit:           "too many requests, please slow down",
	CodeTimeout:             "the upstream call timed out, please retry",
	CodeIdentityError:       "the identity service is unavailable",
	CodeKVError:             "the shared store is unavailable",
	CodeBackendError:        "the conversation backend is unavailable",
	CodeTransportError:      "the messaging transport is unavailable",
	CodeEmailError:          "the email could not be sent",
	CodeMaxAttemptsExceeded: "too many incorrect attempts, request a new code",
	CodeInvalidOTP:          "the one-time code is incorrect",
	CodeExpired:             "the one-time code expired, request a new one",
	CodeSystemError:         "an internal error occurred",
	CodeNetworkError:        "a network error occurred, please retry",
}

// Error is the error type every CORE operation returns.
type Error struct {
	Code       Code
	Message    string
	RetryAfter *time.Duration
	Context    map[string]any
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the fixed status for this error's Code.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New constructs an Error with the default message for code.
func New(code Code) *Error {
	return &Error{Code: code, Message: defaultMessage[code]}
}

// Newf constructs an Error with a caller-supplied message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches an underlying cause, keeping Code/Message, for %w-style
// unwrapping without leaking the cause into the HTTP-facing Message.
func Wrap(code Code, cause error) *Error {
	return &Error{Code: code, Message: defaultMessage[code], cause: cause}
}

// WithRetryAfter attaches a client-facing retry hint (e.g. rate limit
// windows, lock backoff) and returns the receiver for chaining.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = &d
	return e
}

// WithContext attaches diagnostic context and returns the receiver for
// chaining. Keys merge into any existing context.
func (e *Error) WithContext(kv map[string]any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any, len(kv))
	}
	for k, v := range kv {
		e.Context[k] = v
	}
	return e
}

// As reports whether err is (or wraps) a *Error, the way errors.As would,
// without requiring callers to import "errors" for this one type switch.
func As(err error) (*Error, bool) {
	ge, ok := err.(*Error)
	if ok {
		return ge, true
	}
	type unwrapper interface{ Unwrap() error }
	for u, ok := err.(unwrapper); ok; u, ok = err.(unwrapper) {
		err = u.Unwrap()
		if ge, ok := err.(*Error); ok {
			return ge, true
		}
	}
	return nil, false
}
