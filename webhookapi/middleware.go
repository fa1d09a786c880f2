package webhookapi

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/convobridge/gateway/gatewayerr"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	apiKeyHeader    = "X-API-Key"
)

// requestIDMiddleware echoes a caller-supplied X-Request-ID or mints one,
// and always sets it on the response so every downstream log line and
// the caller share the same correlation ID.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// apiKeyMiddleware enforces X-API-Key against the hot-reloadable
// configured key, constant-time to avoid leaking key material through
// response-time side channels.
func (a *API) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := a.cfgProvider.Get().APIKey
		got := r.Header.Get(apiKeyHeader)
		if want == "" || len(got) != len(want) || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			writeForbidden(w, "api_key_check", "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// accessLogMiddleware logs one structured line per request: method,
// path, outcome status, latency, and the correlation ID set by
// requestIDMiddleware.
func (a *API) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		a.logger.Info("webhookapi: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", rec.Header().Get(requestIDHeader),
		)
	})
}

// checkRateLimit records one attempt against rule/identifier and writes
// the 429 envelope itself on failure, so call sites can just early-return
// on false.
func (a *API) checkRateLimit(ctx context.Context, w http.ResponseWriter, rule, identifier string) bool {
	result, err := a.limiter.Check(ctx, rule, identifier)
	if err != nil {
		writeError(w, "rate_limit_check", gatewayerr.Wrap(gatewayerr.CodeKVError, err))
		return false
	}
	if result.Limited {
		writeError(w, "rate_limit_check", gatewayerr.New(gatewayerr.CodeRateLimit).WithRetryAfter(result.ResetAfter))
		return false
	}
	return true
}

// clientIP resolves the caller's address, preferring the configured
// proxy header (e.g. "X-Forwarded-For") when the gateway sits behind a
// load balancer, falling back to the raw connection's remote address.
func clientIP(r *http.Request, proxyHeader string) string {
	if proxyHeader != "" {
		if v := r.Header.Get(proxyHeader); v != "" {
			first, _, _ := strings.Cut(v, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
