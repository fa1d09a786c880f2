package sequence_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/convobridge/gateway/config"
	"github.com/convobridge/gateway/gatewayerr"
	kvredis "github.com/convobridge/gateway/kv/redis"
	"github.com/convobridge/gateway/sequence"
	goredis "github.com/redis/go-redis/v9"
)

func newManager(t *testing.T) (*sequence.Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := kvredis.NewFromClient(rdb)
	ttl := config.TTL{Sequence: time.Hour, Lock: 10 * time.Second}
	return sequence.New(store, ttl), mr
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestManager_Start(t *testing.T) {
	m, _ := newManager(t)
	ctx := t.Context()

	if err := m.Start(ctx, "+15550100"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	status, err := m.Status(ctx, "+15550100")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.CurrentStep != sequence.StepCheckPhone {
		t.Fatalf("CurrentStep = %q, want %q", status.CurrentStep, sequence.StepCheckPhone)
	}
}

func TestManager_ValidateStep_FreshIdentifierOnlyAllowsCheckPhone(t *testing.T) {
	m, _ := newManager(t)
	ctx := t.Context()

	if err := m.ValidateStep(ctx, "+15550100", sequence.StepCheckEmail); err == nil {
		t.Fatal("expected SEQUENCE_VIOLATION for a fresh identifier")
	} else if ge, ok := gatewayerr.As(err); !ok || ge.Code != gatewayerr.CodeSequenceViolation {
		t.Fatalf("err = %v, want CodeSequenceViolation", err)
	}

	if err := m.ValidateStep(ctx, "+15550100", sequence.StepCheckPhone); err != nil {
		t.Fatalf("ValidateStep(check_phone) on fresh identifier: %v", err)
	}
	status, err := m.Status(ctx, "+15550100")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.CurrentStep != sequence.StepCheckPhone {
		t.Fatal("ValidateStep(check_phone) on a fresh identifier should implicitly start the sequence")
	}
}

func TestManager_ValidateStep_EnforcesOrder(t *testing.T) {
	m, _ := newManager(t)
	ctx := t.Context()

	if err := m.Start(ctx, "+15550100"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := m.ValidateStep(ctx, "+15550100", sequence.StepCreateAccount); err == nil {
		t.Fatal("expected INVALID_STEP_TRANSITION skipping check_email")
	} else if ge, ok := gatewayerr.As(err); !ok || ge.Code != gatewayerr.CodeInvalidTransition {
		t.Fatalf("err = %v, want CodeInvalidTransition", err)
	}

	if err := m.ValidateStep(ctx, "+15550100", sequence.StepCheckEmail); err != nil {
		t.Fatalf("ValidateStep(check_email) after check_phone: %v", err)
	}
}

func TestManager_StoreStepData_ValidatesSchema(t *testing.T) {
	m, _ := newManager(t)
	ctx := t.Context()

	if err := m.Start(ctx, "+15550100"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	bad := mustJSON(t, map[string]any{"phone_number": ""})
	if err := m.StoreStepData(ctx, "+15550100", sequence.StepCheckPhone, bad); err == nil {
		t.Fatal("expected validation error for missing required fields")
	}

	good := mustJSON(t, sequence.PhoneCheckData{
		PhoneNumber: "+15550100",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
	if err := m.StoreStepData(ctx, "+15550100", sequence.StepCheckPhone, good); err != nil {
		t.Fatalf("StoreStepData: %v", err)
	}

	stored, err := m.GetStepData(ctx, "+15550100", sequence.StepCheckPhone)
	if err != nil {
		t.Fatalf("GetStepData: %v", err)
	}
	var got sequence.PhoneCheckData
	if err := json.Unmarshal(stored, &got); err != nil {
		t.Fatalf("unmarshal stored data: %v", err)
	}
	if got.PhoneNumber != "+15550100" {
		t.Fatalf("PhoneNumber = %q, want %q", got.PhoneNumber, "+15550100")
	}
}

func TestManager_GetStepData_MissingStepNotFound(t *testing.T) {
	m, _ := newManager(t)
	ctx := t.Context()

	if err := m.Start(ctx, "+15550100"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err := m.GetStepData(ctx, "+15550100", sequence.StepCheckEmail)
	if ge, ok := gatewayerr.As(err); !ok || ge.Code != gatewayerr.CodeDataNotFound {
		t.Fatalf("err = %v, want CodeDataNotFound", err)
	}
}

func TestManager_UpdateStep(t *testing.T) {
	m, _ := newManager(t)
	ctx := t.Context()

	if err := m.Start(ctx, "+15550100"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.UpdateStep(ctx, "+15550100", sequence.StepCheckEmail); err != nil {
		t.Fatalf("UpdateStep: %v", err)
	}
	status, err := m.Status(ctx, "+15550100")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.CurrentStep != sequence.StepCheckEmail {
		t.Fatalf("CurrentStep = %q, want %q", status.CurrentStep, sequence.StepCheckEmail)
	}
}

func TestManager_Clear(t *testing.T) {
	m, _ := newManager(t)
	ctx := t.Context()

	if err := m.Start(ctx, "+15550100"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Clear(ctx, "+15550100"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	status, err := m.Status(ctx, "+15550100")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.CurrentStep != "" || status.HasData {
		t.Fatalf("Status after Clear = %+v, want empty", status)
	}
}

func TestManager_CleanupExpired_RemovesOrphanedData(t *testing.T) {
	m, mr := newManager(t)
	ctx := t.Context()

	if err := m.Start(ctx, "+15550100"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Simulate the primary sequence key expiring (or a crash between the
	// two writes) while sequence_data survives.
	mr.Del("sequence:+15550100")

	cleaned, err := m.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if cleaned != 1 {
		t.Fatalf("cleaned = %d, want 1", cleaned)
	}
	if mr.Exists("sequence_data:+15550100") {
		t.Fatal("sequence_data left behind after cleanup")
	}
}

func TestManager_CleanupExpired_LeavesHealthySequencesAlone(t *testing.T) {
	m, _ := newManager(t)
	ctx := t.Context()

	if err := m.Start(ctx, "+15550100"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cleaned, err := m.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if cleaned != 0 {
		t.Fatalf("cleaned = %d, want 0", cleaned)
	}
	status, err := m.Status(ctx, "+15550100")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.CurrentStep != sequence.StepCheckPhone {
		t.Fatal("a healthy sequence must survive CleanupExpired")
	}
}

func TestManager_ConcurrentStoreStepData_Serialized(t *testing.T) {
	m, _ := newManager(t)
	ctx := t.Context()

	if err := m.Start(ctx, "+15550100"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan error, 2)
	write := func(email string) {
		payload := mustJSON(t, sequence.EmailCheckData{
			Email:       email,
			PhoneNumber: "+15550100",
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		})
		done <- m.StoreStepData(ctx, "+15550100", sequence.StepCheckEmail, payload)
	}

	go write("a@example.com")
	go write("b@example.com")

	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("StoreStepData: %v", err)
		}
	}

	stored, err := m.GetStepData(ctx, "+15550100", sequence.StepCheckEmail)
	if err != nil {
		t.Fatalf("GetStepData: %v", err)
	}
	var got sequence.EmailCheckData
	if err := json.Unmarshal(stored, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Email != "a@example.com" && got.Email != "b@example.com" {
		t.Fatalf("final email = %q, want one of the two concurrent writers' values", got.Email)
	}
}
