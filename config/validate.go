package config

import (
	"fmt"
	"time"
)

// Validate checks each configuration section in turn and returns the first
// violation it finds, so a gateway with missing channel numbers or a
// missing API key does not start.
func Validate(cfg *Config) error {
	if err := validateCore(cfg); err != nil {
		return fmt.Errorf("core config validation failed: %w", err)
	}
	if err := validateLoadBalancer(&cfg.LoadBalancer); err != nil {
		return fmt.Errorf("load_balancer config validation failed: %w", err)
	}
	if err := validateKV(&cfg.KV); err != nil {
		return fmt.Errorf("kv config validation failed: %w", err)
	}
	if err := validateRateLimits(cfg.RateLimits); err != nil {
		return fmt.Errorf("rate_limits config validation failed: %w", err)
	}
	if err := validateTTL(&cfg.TTL); err != nil {
		return fmt.Errorf("ttl config validation failed: %w", err)
	}
	if err := validateWorkqueue(&cfg.Workqueue); err != nil {
		return fmt.Errorf("workqueue config validation failed: %w", err)
	}
	if err := validateServer(&cfg.Server); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}
	return nil
}

func validateCore(cfg *Config) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}
	if cfg.TransportAuthToken == "" {
		return fmt.Errorf("transport_auth_token cannot be empty")
	}
	if len(cfg.Numbers) == 0 {
		return fmt.Errorf("numbers cannot be empty")
	}
	if cfg.MaxOTPAttempts <= 0 {
		return fmt.Errorf("max_otp_attempts must be positive")
	}
	return nil
}

func validateLoadBalancer(lb *LoadBalancer) error {
	if lb.MaxMessagesPerSecond <= 0 {
		return fmt.Errorf("max_messages_per_second must be positive")
	}
	if lb.HighThreshold <= 0 || lb.HighThreshold >= 1 {
		return fmt.Errorf("high_threshold must be in (0, 1)")
	}
	if lb.AlertThreshold <= lb.HighThreshold || lb.AlertThreshold >= 1 {
		return fmt.Errorf("alert_threshold must be in (high_threshold, 1)")
	}
	if lb.StatsWindow <= 0 {
		return fmt.Errorf("stats_window must be positive")
	}
	return nil
}

func validateKV(kv *KV) error {
	if kv.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if kv.Port <= 0 || kv.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if kv.DB < 0 {
		return fmt.Errorf("db cannot be negative")
	}
	return nil
}

func validateRateLimits(rules map[string]RateLimitRule) error {
	for name, rule := range rules {
		if rule.Limit <= 0 {
			return fmt.Errorf("rule %q: limit must be positive", name)
		}
		if rule.Period <= 0 {
			return fmt.Errorf("rule %q: period must be positive", name)
		}
		if rule.KeyTemplate == "" {
			return fmt.Errorf("rule %q: key_template cannot be empty", name)
		}
	}
	return nil
}

func validateTTL(ttl *TTL) error {
	for name, d := range map[string]time.Duration{
		"idempotency":        ttl.Idempotency,
		"sequence":           ttl.Sequence,
		"lock":               ttl.Lock,
		"otp":                ttl.Otp,
		"cooldown":           ttl.Cooldown,
		"conversation_cache": ttl.ConversationCache,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

func validateWorkqueue(wq *Workqueue) error {
	if wq.HighConcurrency <= 0 || wq.DefaultConcurrency <= 0 || wq.LowConcurrency <= 0 {
		return fmt.Errorf("queue concurrencies must be positive")
	}
	if wq.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	return nil
}

func validateServer(s *Server) error {
	if s.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if s.ShutdownGracefulTimeout <= 0 {
		return fmt.Errorf("shutdown_graceful_timeout must be positive")
	}
	return nil
}
