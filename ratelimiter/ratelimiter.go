// Package ratelimiter implements the fixed-window-by-sorted-set limiter
// shared by every rate-limited endpoint: webhook ingress, phone/email
// lookups, OTP dispatch and verification, and signup.
package ratelimiter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/convobridge/gateway/config"
	"github.com/convobridge/gateway/gatewayerr"
	"github.com/convobridge/gateway/kv"
)

// Limiter checks and reports on a named set of config.RateLimitRule rules
// against a shared kv.Store sorted set per (rule, identifier).
type Limiter struct {
	store kv.Store
	rules map[string]config.RateLimitRule
}

// New builds a Limiter over rules, typically config.Config.RateLimits.
func New(store kv.Store, rules map[string]config.RateLimitRule) *Limiter {
	return &Limiter{store: store, rules: rules}
}

// Result reports the outcome of a Check.
type Result struct {
	Limited    bool
	Remaining  int
	ResetAfter time.Duration
}

// Check records one attempt for (rule, identifier) and reports whether the
// caller has exceeded the rule's window. An unknown rule name is a
// programmer error at a call site, not a client-facing condition, so it is
// returned as a CodeSystemError rather than silently allowing the request.
func (l *Limiter) Check(ctx context.Context, rule, identifier string) (Result, error) {
	cfg, ok := l.rules[rule]
	if !ok {
		return Result{}, gatewayerr.Newf(gatewayerr.CodeSystemError, "no rate limit rule configured for %q", rule)
	}
	if identifier == "" {
		return Result{}, gatewayerr.Newf(gatewayerr.CodeValidationError, "missing rate limit identifier for rule %q", rule)
	}

	key := formatKey(cfg.KeyTemplate, cfg.IdentifierType, identifier)
	now := time.Now()
	nowSecs := float64(now.Unix())
	windowStart := nowSecs - cfg.Period.Seconds()

	if err := l.store.ZRemRangeByScore(ctx, key, 0, windowStart); err != nil {
		return Result{}, fmt.Errorf("rate limit cleanup: %w", err)
	}
	count, err := l.store.ZCard(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit count: %w", err)
	}
	member := fmt.Sprintf("%d-%d", now.UnixNano(), count)
	if err := l.store.ZAdd(ctx, key, nowSecs, member); err != nil {
		return Result{}, fmt.Errorf("rate limit record: %w", err)
	}
	if err := l.store.Expire(ctx, key, cfg.Period); err != nil {
		return Result{}, fmt.Errorf("rate limit expire: %w", err)
	}

	// count is the population before this attempt was added; the attempt
	// just recorded pushes it to count+1.
	total := count + 1
	remaining := int(cfg.Limit) - int(total)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Limited:    total > int64(cfg.Limit),
		Remaining:  remaining,
		ResetAfter: cfg.Period,
	}, nil
}

// Remaining reports the current quota for (rule, identifier) without
// recording a new attempt, used by status/introspection endpoints.
func (l *Limiter) Remaining(ctx context.Context, rule, identifier string) (Result, error) {
	cfg, ok := l.rules[rule]
	if !ok {
		return Result{}, gatewayerr.Newf(gatewayerr.CodeSystemError, "no rate limit rule configured for %q", rule)
	}
	if identifier == "" {
		return Result{}, gatewayerr.Newf(gatewayerr.CodeValidationError, "missing rate limit identifier for rule %q", rule)
	}

	key := formatKey(cfg.KeyTemplate, cfg.IdentifierType, identifier)
	now := time.Now()
	nowSecs := float64(now.Unix())
	windowStart := nowSecs - cfg.Period.Seconds()

	count, err := l.store.ZCount(ctx, key, windowStart, nowSecs)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit remaining: %w", err)
	}
	remaining := int(cfg.Limit) - int(count)
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := cfg.Period
	oldest, err := l.store.ZRange(ctx, key, 0, 0)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit oldest entry: %w", err)
	}
	if len(oldest) > 0 {
		// Members are "<unixnano>-<count>" (see Check), not the score
		// ZAdd recorded them under; recover the attempt's timestamp from
		// the member itself rather than misreading it as the score.
		if nanos, ok := memberTimestampNanos(oldest[0]); ok {
			oldestScore := float64(nanos) / float64(time.Second)
			if d := time.Duration((oldestScore+cfg.Period.Seconds())-nowSecs) * time.Second; d > 0 {
				resetAfter = d
			}
		}
	}

	return Result{Remaining: remaining, ResetAfter: resetAfter}, nil
}

// formatKey substitutes the identifier into a rule's KeyTemplate, e.g.
// "rate_limit:webhook_ip:{ip}" -> "rate_limit:webhook_ip:203.0.113.7".
func formatKey(template string, idType config.IdentifierType, identifier string) string {
	placeholder := "{" + string(idType) + "}"
	return strings.ReplaceAll(template, placeholder, identifier)
}

// memberTimestampNanos extracts the UnixNano prefix from a "<unixnano>-<n>"
// sorted-set member, as written by Check.
func memberTimestampNanos(member string) (int64, bool) {
	prefix, _, found := strings.Cut(member, "-")
	if !found {
		return 0, false
	}
	nanos, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, false
	}
	return nanos, true
}
