// Package postgres is a thin github.com/jackc/pgx/v5-backed audit.Sink.
// It owns no schema and runs no migrations — the five tables it writes
// to (request_logs, message_logs, error_logs, load_balancer_logs,
// number_load_stats) are provisioned outside this module, per spec.md's
// treatment of the relational audit store as an opaque collaborator.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/convobridge/gateway/audit"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pool is the subset of *pgxpool.Pool this package depends on, narrowed
// so tests can substitute a fake without a live Postgres instance.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Sink implements audit.Sink over a pgx connection pool.
type Sink struct {
	pool pool
}

// New wraps an already-connected pgxpool.Pool.
func New(p *pgxpool.Pool) *Sink {
	return &Sink{pool: p}
}

// NewForPool wraps anything satisfying the narrow Exec contract this
// package depends on, letting tests substitute a fake in place of a
// live Postgres connection.
func NewForPool(p pool) *Sink {
	return &Sink{pool: p}
}

// Connect dials Postgres using a standard libpq-style DSN.
func Connect(ctx context.Context, dsn string) (*Sink, error) {
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit/postgres: connect: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("audit/postgres: ping: %w", err)
	}
	return New(p), nil
}

func (s *Sink) LogRequest(ctx context.Context, row audit.RequestLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO request_logs
			(message_id, sender, recipient, body, media_count, status_code, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		row.MessageID, row.Sender, row.Recipient, row.Body, row.MediaCount, row.StatusCode, row.ReceivedAt)
	return wrap("log request", err)
}

func (s *Sink) LogMessage(ctx context.Context, row audit.MessageLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO message_logs
			(message_id, sender, recipient, body, reply_text, conversation_id, processing_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		row.MessageID, row.Sender, row.Recipient, row.Body, row.ReplyText, row.ConversationID, row.ProcessingTimeMs)
	return wrap("log message", err)
}

func (s *Sink) LogError(ctx context.Context, row audit.ErrorLog) error {
	contextJSON, err := json.Marshal(row.Context)
	if err != nil {
		return wrap("log error", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO error_logs (operation, code, message, context)
		VALUES ($1, $2, $3, $4)`,
		row.Operation, row.Code, row.Message, contextJSON)
	return wrap("log error", err)
}

func (s *Sink) LogLoadBalancerRedirect(ctx context.Context, row audit.LoadBalancerLog) error {
	loads, err := json.Marshal(row.CurrentLoads)
	if err != nil {
		return wrap("log load balancer redirect", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO load_balancer_logs
			(client_ip, user_agent, referrer, assigned_number, current_loads)
		VALUES ($1, $2, $3, $4, $5)`,
		row.ClientIP, row.UserAgent, row.Referrer, row.AssignedNumber, loads)
	return wrap("log load balancer redirect", err)
}

func (s *Sink) LogNumberLoadStat(ctx context.Context, row audit.NumberLoadStat) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO number_load_stats (phone_number, messages_per_second)
		VALUES ($1, $2)`,
		row.PhoneNumber, row.MessagesPerSecond)
	return wrap("log number load stat", err)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("audit/postgres: %s: %w", op, err)
}
