package config

import (
	"testing"
	"time"
)

func envMap(overrides map[string]string) func(string) string {
	return func(key string) string {
		return overrides[key]
	}
}

func baseEnv(overrides map[string]string) map[string]string {
	env := map[string]string{
		"API_KEY":              "test-api-key",
		"TRANSPORT_AUTH_TOKEN": "test-transport-token",
		"NUMBERS":              "+15550001111,+15550002222",
	}
	for k, v := range overrides {
		env[k] = v
	}
	return env
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(envMap(baseEnv(nil)))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LoadBalancer.MaxMessagesPerSecond != 70 {
		t.Errorf("MaxMessagesPerSecond = %d, want 70", cfg.LoadBalancer.MaxMessagesPerSecond)
	}
	if cfg.LoadBalancer.HighThreshold != 0.7 {
		t.Errorf("HighThreshold = %v, want 0.7", cfg.LoadBalancer.HighThreshold)
	}
	if cfg.LoadBalancer.AlertThreshold != 0.9 {
		t.Errorf("AlertThreshold = %v, want 0.9", cfg.LoadBalancer.AlertThreshold)
	}
	if cfg.LoadBalancer.StatsWindow != 60*time.Second {
		t.Errorf("StatsWindow = %v, want 60s", cfg.LoadBalancer.StatsWindow)
	}
	if cfg.MaxOTPAttempts != 3 {
		t.Errorf("MaxOTPAttempts = %d, want 3", cfg.MaxOTPAttempts)
	}
	if cfg.TTL.Lock != 10*time.Second {
		t.Errorf("TTL.Lock = %v, want 10s", cfg.TTL.Lock)
	}
	if len(cfg.Numbers) != 2 {
		t.Errorf("Numbers = %v, want 2 entries", cfg.Numbers)
	}
	if rule, ok := cfg.RateLimits["check_phone"]; !ok || rule.Limit != 5 {
		t.Errorf("RateLimits[check_phone] = %+v, want Limit 5", rule)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	cfg, err := Load(envMap(baseEnv(map[string]string{
		"MAX_MESSAGES_PER_SECOND":      "120",
		"HIGH_THRESHOLD":               "0.5",
		"RATE_LIMIT_CHECK_PHONE_LIMIT": "9",
		"KV_HOST":                      "redis.internal",
		"KV_PORT":                      "6380",
	})))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LoadBalancer.MaxMessagesPerSecond != 120 {
		t.Errorf("MaxMessagesPerSecond = %d, want 120", cfg.LoadBalancer.MaxMessagesPerSecond)
	}
	if cfg.LoadBalancer.HighThreshold != 0.5 {
		t.Errorf("HighThreshold = %v, want 0.5", cfg.LoadBalancer.HighThreshold)
	}
	if cfg.RateLimits["check_phone"].Limit != 9 {
		t.Errorf("RateLimits[check_phone].Limit = %d, want 9", cfg.RateLimits["check_phone"].Limit)
	}
	if cfg.KV.Host != "redis.internal" || cfg.KV.Port != 6380 {
		t.Errorf("KV = %+v, want redis.internal:6380", cfg.KV)
	}
}

func TestLoad_MissingRequiredFieldsFailsValidation(t *testing.T) {
	testCases := []struct {
		name    string
		remove  string
	}{
		{"missing api key", "API_KEY"},
		{"missing transport token", "TRANSPORT_AUTH_TOKEN"},
		{"missing numbers", "NUMBERS"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := baseEnv(nil)
			delete(env, tc.remove)
			if _, err := Load(envMap(env)); err == nil {
				t.Fatalf("expected Load to fail validation without %s", tc.remove)
			}
		})
	}
}

func TestValidate_RejectsBadThresholds(t *testing.T) {
	cfg, err := Load(envMap(baseEnv(nil)))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	cfg.LoadBalancer.AlertThreshold = cfg.LoadBalancer.HighThreshold
	if err := Validate(cfg); err == nil {
		t.Fatal("expected Validate to reject alert_threshold <= high_threshold")
	}
}

func TestProvider_GetUpdate(t *testing.T) {
	cfg, err := Load(envMap(baseEnv(nil)))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	p := NewProvider(cfg)
	if got := p.Get(); got != cfg {
		t.Fatalf("Get() returned a different config than stored")
	}

	updated, err := Load(envMap(baseEnv(map[string]string{"MAX_MESSAGES_PER_SECOND": "200"})))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	p.Update(updated)
	if p.Get().LoadBalancer.MaxMessagesPerSecond != 200 {
		t.Errorf("Update did not take effect")
	}
}

func TestReload(t *testing.T) {
	cfg, err := Load(envMap(baseEnv(nil)))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	p := NewProvider(cfg)
	logger := testLogger()

	t.Setenv("API_KEY", "test-api-key")
	t.Setenv("TRANSPORT_AUTH_TOKEN", "test-transport-token")
	t.Setenv("NUMBERS", "+15550009999")
	t.Setenv("MAX_MESSAGES_PER_SECOND", "55")

	reload := Reload(p, logger)
	if err := reload(); err != nil {
		t.Fatalf("Reload returned error: %v", err)
	}
	if p.Get().LoadBalancer.MaxMessagesPerSecond != 55 {
		t.Errorf("expected reloaded config to reflect env, got %d", p.Get().LoadBalancer.MaxMessagesPerSecond)
	}
}
