package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/convobridge/gateway/audit"
	"github.com/convobridge/gateway/audit/postgres"
	"github.com/jackc/pgx/v5/pgconn"
)

type recordedExec struct {
	sql  string
	args []any
}

type fakePool struct {
	execs []recordedExec
	err   error
}

func (f *fakePool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, recordedExec{sql: sql, args: args})
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestSink_LogRequest(t *testing.T) {
	fp := &fakePool{}
	sink := postgres.NewForPool(fp)

	err := sink.LogRequest(context.Background(), audit.RequestLog{
		MessageID:  "SM123",
		Sender:     "+15550100",
		Recipient:  "+15550199",
		Body:       "hello",
		MediaCount: 0,
		StatusCode: 200,
		ReceivedAt: "2026-08-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("LogRequest: %v", err)
	}
	if len(fp.execs) != 1 {
		t.Fatalf("execs = %d, want 1", len(fp.execs))
	}
	if fp.execs[0].args[0] != "SM123" {
		t.Fatalf("first arg = %v, want message id", fp.execs[0].args[0])
	}
}

func TestSink_LogError_EncodesContextAsJSON(t *testing.T) {
	fp := &fakePool{}
	sink := postgres.NewForPool(fp)

	err := sink.LogError(context.Background(), audit.ErrorLog{
		Operation: "worker.process_message",
		Code:      "BACKEND_ERROR",
		Message:   "upstream timed out",
		Context:   map[string]any{"message_id": "SM123"},
	})
	if err != nil {
		t.Fatalf("LogError: %v", err)
	}
	raw, ok := fp.execs[0].args[3].([]byte)
	if !ok {
		t.Fatalf("context arg type = %T, want []byte", fp.execs[0].args[3])
	}
	if string(raw) == "" {
		t.Fatal("context JSON is empty")
	}
}

func TestSink_PropagatesExecError(t *testing.T) {
	wantErr := errors.New("connection refused")
	fp := &fakePool{err: wantErr}
	sink := postgres.NewForPool(fp)

	err := sink.LogNumberLoadStat(context.Background(), audit.NumberLoadStat{
		PhoneNumber:       "+15550100",
		MessagesPerSecond: 65,
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapping %v", err, wantErr)
	}
}

var _ audit.Sink = (*postgres.Sink)(nil)
