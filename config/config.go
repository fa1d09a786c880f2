// Package config loads, validates, and hot-swaps the gateway's
// configuration. Non-secret defaults (timeouts, retry counts, queue
// concurrency) live in the embedded default.toml; everything environment-
// specific or secret is read from the process environment and layered on
// top, per the environment configuration table in the external interfaces
// section of the design.
package config

import "time"

// IdentifierType names what a rate-limit rule keys its bucket on.
type IdentifierType string

const (
	IdentifierIP    IdentifierType = "ip"
	IdentifierPhone IdentifierType = "phone"
	IdentifierEmail IdentifierType = "email"
)

// RateLimitRule is the rich schema every rate-limited operation is
// expressed in: a window, a cap, what the caller is identified by, and the
// KV key template the limiter formats with that identifier.
type RateLimitRule struct {
	Limit          int
	Period         time.Duration
	IdentifierType IdentifierType
	KeyTemplate    string
}

// LoadBalancer controls channel-number selection and overload alerting.
type LoadBalancer struct {
	MaxMessagesPerSecond int
	HighThreshold        float64
	AlertThreshold       float64
	StatsWindow          time.Duration
}

// KV is the shared Redis-compatible store connection.
type KV struct {
	Host     string
	Port     int
	DB       int
	Password string
}

// Backend is the opaque conversation backend collaborator.
type Backend struct {
	URL string
	Key string
}

// Identity is the opaque identity store collaborator.
type Identity struct {
	URL      string
	Realm    string
	ClientID string
	User     string
	Pass     string
}

// Email carries the credentials the email adapter authenticates with.
type Email struct {
	APIKey string
	From   string
}

// Smtp configures the SMTP relay mailyak sends through. Host/Port/AuthMethod
// come from defaults; Username is SMTP_USERNAME, falling back to
// Email.From, and Password is always Email.APIKey.
type Smtp struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	LocalName   string
	AuthMethod  string // "plain", "login", "cram-md5", or "none"
	UseTLS      bool   // use explicit TLS instead of STARTTLS
	UseStartTLS bool
}

// TTL collects every expiry used across the KV layout.
type TTL struct {
	Idempotency       time.Duration
	Sequence          time.Duration
	Lock              time.Duration
	Otp               time.Duration
	Cooldown          time.Duration
	ConversationCache time.Duration
}

// Budgets bounds how long each suspension point may block before a
// TIMEOUT is raised locally rather than left to hang.
type Budgets struct {
	KVConnect time.Duration
	KVRead    time.Duration
	Backend   time.Duration
	Identity  time.Duration
	Email     time.Duration
	Transport time.Duration
}

// Workqueue sizes the worker pool per priority queue.
type Workqueue struct {
	HighConcurrency    int
	DefaultConcurrency int
	LowConcurrency     int
	MaxRetries         int
}

// Server mirrors the teacher's HTTP listener settings.
type Server struct {
	Addr                    string
	ShutdownGracefulTimeout time.Duration
	ReadTimeout             time.Duration
	ReadHeaderTimeout       time.Duration
	WriteTimeout            time.Duration
	IdleTimeout             time.Duration
	ClientIpProxyHeader     string
}

// Config is the full, validated gateway configuration.
type Config struct {
	APIKey              string
	TransportAccountSID string
	TransportAuthToken  string
	Numbers             []string
	LoadBalancer        LoadBalancer
	KV                  KV
	Backend             Backend
	Identity            Identity
	Email               Email
	Smtp                Smtp
	AlertWebhookURL     string
	MaxOTPAttempts      int
	RateLimits          map[string]RateLimitRule
	TTL                 TTL
	Server              Server
	Workqueue           Workqueue
	Budgets             Budgets
}
