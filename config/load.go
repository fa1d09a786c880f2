package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed default.toml
var defaultConfigToml []byte

// tomlRateLimit mirrors RateLimitRule but with a Duration wrapper so
// go-toml/v2 can decode the "60s"-style period strings in default.toml.
type tomlRateLimit struct {
	Limit          int            `toml:"limit"`
	Period         Duration       `toml:"period"`
	IdentifierType IdentifierType `toml:"identifier_type"`
	KeyTemplate    string         `toml:"key_template"`
}

// tomlDefaults mirrors the subset of Config that default.toml supplies.
type tomlDefaults struct {
	LoadBalancer struct {
		MaxMessagesPerSecond int      `toml:"max_messages_per_second"`
		HighThreshold        float64  `toml:"high_threshold"`
		AlertThreshold       float64  `toml:"alert_threshold"`
		StatsWindow          Duration `toml:"stats_window"`
	} `toml:"load_balancer"`
	TTL struct {
		Idempotency       Duration `toml:"idempotency"`
		Sequence          Duration `toml:"sequence"`
		Lock              Duration `toml:"lock"`
		Otp               Duration `toml:"otp"`
		Cooldown          Duration `toml:"cooldown"`
		ConversationCache Duration `toml:"conversation_cache"`
	} `toml:"ttl"`
	Workqueue struct {
		HighConcurrency    int `toml:"high_concurrency"`
		DefaultConcurrency int `toml:"default_concurrency"`
		LowConcurrency     int `toml:"low_concurrency"`
		MaxRetries         int `toml:"max_retries"`
	} `toml:"workqueue"`
	Server struct {
		Addr                    string   `toml:"addr"`
		ShutdownGracefulTimeout Duration `toml:"shutdown_graceful_timeout"`
		ReadTimeout             Duration `toml:"read_timeout"`
		ReadHeaderTimeout       Duration `toml:"read_header_timeout"`
		WriteTimeout            Duration `toml:"write_timeout"`
		IdleTimeout             Duration `toml:"idle_timeout"`
		ClientIpProxyHeader     string   `toml:"client_ip_proxy_header"`
	} `toml:"server"`
	Smtp struct {
		Host        string `toml:"host"`
		Port        int    `toml:"port"`
		LocalName   string `toml:"local_name"`
		AuthMethod  string `toml:"auth_method"`
		UseTLS      bool   `toml:"use_tls"`
		UseStartTLS bool   `toml:"use_start_tls"`
	} `toml:"smtp"`
	MaxOTPAttempts int                      `toml:"max_otp_attempts"`
	RateLimits     map[string]tomlRateLimit `toml:"rate_limits"`
	Budgets        struct {
		KVConnect Duration `toml:"kv_connect"`
		KVRead    Duration `toml:"kv_read"`
		Backend   Duration `toml:"backend"`
		Identity  Duration `toml:"identity"`
		Email     Duration `toml:"email"`
		Transport Duration `toml:"transport"`
	} `toml:"budgets"`
}

// Load reads default.toml for non-secret defaults, then layers the process
// environment on top per the environment configuration table, and returns a
// validated Config. get defaults to os.Getenv when nil.
func Load(get func(string) string) (*Config, error) {
	if get == nil {
		get = os.Getenv
	}

	var defaults tomlDefaults
	if err := toml.Unmarshal(defaultConfigToml, &defaults); err != nil {
		return nil, fmt.Errorf("decode embedded default config: %w", err)
	}

	cfg := &Config{
		APIKey:              get("API_KEY"),
		TransportAccountSID: get("TRANSPORT_ACCOUNT_SID"),
		TransportAuthToken:  get("TRANSPORT_AUTH_TOKEN"),
		Numbers:            splitCSV(get("NUMBERS")),
		LoadBalancer: LoadBalancer{
			MaxMessagesPerSecond: intOrDefault(get("MAX_MESSAGES_PER_SECOND"), defaults.LoadBalancer.MaxMessagesPerSecond),
			HighThreshold:        floatOrDefault(get("HIGH_THRESHOLD"), defaults.LoadBalancer.HighThreshold),
			AlertThreshold:       floatOrDefault(get("ALERT_THRESHOLD"), defaults.LoadBalancer.AlertThreshold),
			StatsWindow:          durationOrDefault(get("STATS_WINDOW"), defaults.LoadBalancer.StatsWindow.Duration),
		},
		KV: KV{
			Host:     orDefault(get("KV_HOST"), "localhost"),
			Port:     intOrDefault(get("KV_PORT"), 6379),
			DB:       intOrDefault(get("KV_DB"), 0),
			Password: get("KV_PASSWORD"),
		},
		Backend: Backend{
			URL: get("BACKEND_URL"),
			Key: get("BACKEND_KEY"),
		},
		Identity: Identity{
			URL:      get("IDENTITY_URL"),
			Realm:    get("IDENTITY_REALM"),
			ClientID: orDefault(get("IDENTITY_CLIENT_ID"), "admin-cli"),
			User:     get("IDENTITY_USER"),
			Pass:     get("IDENTITY_PASS"),
		},
		Email: Email{
			APIKey: get("EMAIL_API_KEY"),
			From:   get("EMAIL_FROM"),
		},
		Smtp: Smtp{
			Host:        defaults.Smtp.Host,
			Port:        defaults.Smtp.Port,
			Username:    orDefault(get("SMTP_USERNAME"), get("EMAIL_FROM")),
			Password:    get("EMAIL_API_KEY"),
			From:        get("EMAIL_FROM"),
			LocalName:   defaults.Smtp.LocalName,
			AuthMethod:  orDefault(get("SMTP_AUTH_METHOD"), defaults.Smtp.AuthMethod),
			UseTLS:      defaults.Smtp.UseTLS,
			UseStartTLS: defaults.Smtp.UseStartTLS,
		},
		AlertWebhookURL: get("ALERT_WEBHOOK_URL"),
		MaxOTPAttempts:  intOrDefault(get("MAX_OTP_ATTEMPTS"), defaults.MaxOTPAttempts),
		TTL: TTL{
			Idempotency:       defaults.TTL.Idempotency.Duration,
			Sequence:          defaults.TTL.Sequence.Duration,
			Lock:              defaults.TTL.Lock.Duration,
			Otp:               defaults.TTL.Otp.Duration,
			Cooldown:          defaults.TTL.Cooldown.Duration,
			ConversationCache: defaults.TTL.ConversationCache.Duration,
		},
		Workqueue: Workqueue{
			HighConcurrency:    defaults.Workqueue.HighConcurrency,
			DefaultConcurrency: defaults.Workqueue.DefaultConcurrency,
			LowConcurrency:     defaults.Workqueue.LowConcurrency,
			MaxRetries:         defaults.Workqueue.MaxRetries,
		},
		Server: Server{
			Addr:                    defaults.Server.Addr,
			ShutdownGracefulTimeout: defaults.Server.ShutdownGracefulTimeout.Duration,
			ReadTimeout:             defaults.Server.ReadTimeout.Duration,
			ReadHeaderTimeout:       defaults.Server.ReadHeaderTimeout.Duration,
			WriteTimeout:            defaults.Server.WriteTimeout.Duration,
			IdleTimeout:             defaults.Server.IdleTimeout.Duration,
			ClientIpProxyHeader:     defaults.Server.ClientIpProxyHeader,
		},
		Budgets: Budgets{
			KVConnect: defaults.Budgets.KVConnect.Duration,
			KVRead:    defaults.Budgets.KVRead.Duration,
			Backend:   defaults.Budgets.Backend.Duration,
			Identity:  defaults.Budgets.Identity.Duration,
			Email:     defaults.Budgets.Email.Duration,
			Transport: defaults.Budgets.Transport.Duration,
		},
	}

	cfg.RateLimits = make(map[string]RateLimitRule, len(defaults.RateLimits))
	for name, rule := range defaults.RateLimits {
		cfg.RateLimits[name] = RateLimitRule{
			Limit:          rule.Limit,
			Period:         rule.Period.Duration,
			IdentifierType: rule.IdentifierType,
			KeyTemplate:    rule.KeyTemplate,
		}
	}
	// RATE_LIMIT_<rule>_LIMIT / RATE_LIMIT_<rule>_PERIOD env overrides, per
	// the rate-limit quad convention.
	for name, rule := range cfg.RateLimits {
		envName := strings.ToUpper(name)
		if v := get("RATE_LIMIT_" + envName + "_LIMIT"); v != "" {
			rule.Limit = intOrDefault(v, rule.Limit)
		}
		if v := get("RATE_LIMIT_" + envName + "_PERIOD"); v != "" {
			rule.Period = durationOrDefault(v, rule.Period)
		}
		cfg.RateLimits[name] = rule
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func intOrDefault(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func floatOrDefault(v string, fallback float64) float64 {
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func durationOrDefault(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
