// Package audit defines the append-only record types and sink contract
// every CORE component writes through. AuditSink is an opaque
// out-of-scope collaborator (no migrations or schema ownership live
// here); audit/postgres is a thin conforming client over it.
package audit

import "context"

// RequestLog is written for every inbound webhook request that passes the
// duplicate check, with status 202; a request whose enqueue then fails
// gets a second RequestLog with status 500.
type RequestLog struct {
	MessageID   string
	Sender      string
	Recipient   string
	Body        string
	MediaCount  int
	StatusCode  int
	ReceivedAt  string
}

// MessageLog is written once a worker job completes processing a
// message, successfully or not.
type MessageLog struct {
	MessageID        string
	Sender           string
	Recipient        string
	Body             string
	ReplyText        string
	ConversationID   string
	ProcessingTimeMs int64
}

// ErrorLog captures a failure at any stage, tagged with the operation
// that produced it.
type ErrorLog struct {
	Operation string
	Code      string
	Message   string
	Context   map[string]any
}

// LoadBalancerLog is written once per signup redirect.
type LoadBalancerLog struct {
	ClientIP       string
	UserAgent      string
	Referrer       string
	AssignedNumber string
	CurrentLoads   map[string]float64
}

// NumberLoadStat is written whenever a channel number's dispatch rate
// crosses the high-water audit threshold (0.8 * MaxMps).
type NumberLoadStat struct {
	PhoneNumber       string
	MessagesPerSecond float64
}

// Sink is the append-only audit log every CORE component writes
// through. Implementations must not block the caller on anything but
// the write itself — callers are expected to fire these off the hot
// path where the spec allows it (e.g. request logging happens inline,
// load balancer stats do not gate the redirect).
type Sink interface {
	LogRequest(ctx context.Context, row RequestLog) error
	LogMessage(ctx context.Context, row MessageLog) error
	LogError(ctx context.Context, row ErrorLog) error
	LogLoadBalancerRedirect(ctx context.Context, row LoadBalancerLog) error
	LogNumberLoadStat(ctx context.Context, row NumberLoadStat) error
}

// NilSink discards every row. Used where a deployment runs without the
// relational audit store wired up.
type NilSink struct{}

func (NilSink) LogRequest(context.Context, RequestLog) error                 { return nil }
func (NilSink) LogMessage(context.Context, MessageLog) error                 { return nil }
func (NilSink) LogError(context.Context, ErrorLog) error                     { return nil }
func (NilSink) LogLoadBalancerRedirect(context.Context, LoadBalancerLog) error { return nil }
func (NilSink) LogNumberLoadStat(context.Context, NumberLoadStat) error      { return nil }
