// Package sequence enforces the registration workflow as a strictly
// linear state machine keyed by a stable identifier (the phone number
// starting the flow). Every mutating operation is serialized by a
// distributed lock and committed through an optimistic transaction, so
// two concurrent requests for the same identifier can never corrupt its
// state.
package sequence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/convobridge/gateway/config"
	"github.com/convobridge/gateway/gatewayerr"
	"github.com/convobridge/gateway/kv"
	"github.com/go-playground/validator/v10"
)

// Step names a stage of the registration flow.
type Step string

const (
	StepCheckPhone    Step = "check_phone"
	StepCheckEmail    Step = "check_email"
	StepCreateAccount Step = "create_account"
	StepSendEmailOTP  Step = "send_email_otp"
	StepVerifyEmail   Step = "verify_email"
)

// requiredPrevious maps each non-initial step to the step that must
// precede it. The absent entry for StepCheckPhone marks it as the only
// step allowed when no sequence exists yet.
var requiredPrevious = map[Step]Step{
	StepCheckEmail:    StepCheckPhone,
	StepCreateAccount: StepCheckEmail,
	StepSendEmailOTP:  StepCreateAccount,
	StepVerifyEmail:   StepSendEmailOTP,
}

// PhoneCheckData is the payload schema for StepCheckPhone.
type PhoneCheckData struct {
	PhoneNumber        string `json:"phone_number" validate:"required,e164"`
	VerificationStatus bool   `json:"verification_status"`
	Timestamp          string `json:"timestamp" validate:"required"`
}

// EmailCheckData is the payload schema for StepCheckEmail.
type EmailCheckData struct {
	Email              string `json:"email" validate:"required,email"`
	PhoneNumber        string `json:"phone_number" validate:"required,e164"`
	VerificationStatus bool   `json:"verification_status"`
	Timestamp          string `json:"timestamp" validate:"required"`
}

// AccountCreationData is the payload schema for StepCreateAccount.
type AccountCreationData struct {
	PhoneNumber string `json:"phone_number" validate:"required,e164"`
	Email       string `json:"email" validate:"required,email"`
	FirstName   string `json:"first_name" validate:"required"`
	LastName    string `json:"last_name" validate:"required"`
	Gender      string `json:"gender" validate:"required"`
	Country     string `json:"country" validate:"required"`
	Timestamp   string `json:"timestamp" validate:"required"`
}

// EmailVerificationData is the payload schema for StepVerifyEmail.
type EmailVerificationData struct {
	Email       string `json:"email" validate:"required,email"`
	OTPAttempts int    `json:"otp_attempts"`
	Verified    bool   `json:"verified"`
	Timestamp   string `json:"timestamp" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// stepPayload decodes and validates raw into the schema registered for
// step, returning it re-encoded as the canonical json.RawMessage stored
// in SequenceData.
func stepPayload(step Step, raw json.RawMessage) (json.RawMessage, error) {
	var target any
	switch step {
	case StepCheckPhone:
		target = &PhoneCheckData{}
	case StepCheckEmail:
		target = &EmailCheckData{}
	case StepCreateAccount:
		target = &AccountCreationData{}
	case StepVerifyEmail:
		target = &EmailVerificationData{}
	default:
		// StepSendEmailOTP carries no step-specific payload schema.
		return raw, nil
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.CodeInvalidData, err)
	}
	if err := validate.Struct(target); err != nil {
		return nil, gatewayerr.Newf(gatewayerr.CodeInvalidData, "invalid data for step %s: %v", step, err)
	}
	encoded, err := json.Marshal(target)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.CodeSystemError, err)
	}
	return encoded, nil
}

// sequenceData is the envelope stored at sequence_data:{id}.
type sequenceData struct {
	StartedAt   string                     `json:"started_at,omitempty"`
	LastUpdated string                     `json:"last_updated,omitempty"`
	LastError   string                     `json:"last_error,omitempty"`
	Steps       map[Step]json.RawMessage   `json:"steps,omitempty"`
}

// Status is the caller-facing view returned by Manager.Status.
type Status struct {
	CurrentStep    Step
	HasData        bool
	LastUpdated    string
	CompletedSteps []Step
	HasErrors      bool
}

// Manager drives the registration state machine over a kv.Store.
type Manager struct {
	store      kv.Store
	ttl        time.Duration
	lockTTL    time.Duration
	maxRetries int
}

// New builds a Manager. ttl is the registration-session TTL
// (config.TTL.Sequence); lockTTL bounds how long the per-identifier
// distributed lock is held (config.TTL.Lock).
func New(store kv.Store, cfg config.TTL) *Manager {
	return &Manager{
		store:      store,
		ttl:        cfg.Sequence,
		lockTTL:    cfg.Lock,
		maxRetries: 3,
	}
}

func sequenceKey(id string) string { return "sequence:" + id }
func dataKey(id string) string     { return "sequence_data:" + id }
func lockName(id string) string    { return "sequence:" + id }

// Start atomically sets the current step to StepCheckPhone and seeds
// SequenceData with started_at, refreshing the TTL if a sequence for id
// already exists.
func (m *Manager) Start(ctx context.Context, id string) error {
	return m.withLock(ctx, id, func() error {
		opt := kv.NewOptimistic(m.store)
		now := time.Now().UTC().Format(time.RFC3339)

		if err := opt.Update(ctx, sequenceKey(id), func(string, bool) (string, time.Duration, error) {
			return string(StepCheckPhone), m.ttl, nil
		}); err != nil {
			return toSequenceErr(err)
		}

		err := opt.Update(ctx, dataKey(id), func(current string, found bool) (string, time.Duration, error) {
			data := sequenceData{Steps: map[Step]json.RawMessage{}}
			if found {
				_ = json.Unmarshal([]byte(current), &data)
				if data.Steps == nil {
					data.Steps = map[Step]json.RawMessage{}
				}
			}
			if data.StartedAt == "" {
				data.StartedAt = now
			}
			encoded, err := json.Marshal(data)
			if err != nil {
				return "", 0, err
			}
			return string(encoded), m.ttl, nil
		})
		return toSequenceErr(err)
	})
}

// ValidateStep enforces the linear ordering: if no sequence exists yet,
// only StepCheckPhone is allowed (and it implicitly starts one);
// otherwise the current step must equal the step required immediately
// before the requested one.
func (m *Manager) ValidateStep(ctx context.Context, id string, step Step) error {
	current, found, err := m.currentStep(ctx, id)
	if err != nil {
		return err
	}

	if !found {
		if step != StepCheckPhone {
			return gatewayerr.New(gatewayerr.CodeSequenceViolation).
				WithContext(map[string]any{"step": step})
		}
		return m.Start(ctx, id)
	}

	required, ok := requiredPrevious[step]
	if ok && current != required {
		return gatewayerr.Newf(gatewayerr.CodeInvalidTransition, "%s must follow %s, got %s", step, required, current).
			WithContext(map[string]any{"step": step, "current": current, "required": required})
	}
	return nil
}

// StoreStepData validates payload against step's schema and merges it
// into SequenceData, atomically against concurrent writers.
func (m *Manager) StoreStepData(ctx context.Context, id string, step Step, payload json.RawMessage) error {
	validated, err := stepPayload(step, payload)
	if err != nil {
		return err
	}

	return m.withLock(ctx, id, func() error {
		opt := kv.NewOptimistic(m.store)
		now := time.Now().UTC().Format(time.RFC3339)

		err := opt.Update(ctx, dataKey(id), func(current string, found bool) (string, time.Duration, error) {
			data := sequenceData{Steps: map[Step]json.RawMessage{}}
			if found {
				if err := json.Unmarshal([]byte(current), &data); err != nil {
					return "", 0, gatewayerr.Wrap(gatewayerr.CodeDataMismatch, err)
				}
				if data.Steps == nil {
					data.Steps = map[Step]json.RawMessage{}
				}
			}
			data.Steps[step] = validated
			data.LastUpdated = now

			encoded, err := json.Marshal(data)
			if err != nil {
				return "", 0, err
			}
			return string(encoded), m.ttl, nil
		})
		return toSequenceErr(err)
	})
}

// UpdateStep sets the current step and refreshes its TTL.
func (m *Manager) UpdateStep(ctx context.Context, id string, step Step) error {
	return m.withLock(ctx, id, func() error {
		opt := kv.NewOptimistic(m.store)
		err := opt.Update(ctx, sequenceKey(id), func(string, bool) (string, time.Duration, error) {
			return string(step), m.ttl, nil
		})
		return toSequenceErr(err)
	})
}

// GetStepData returns the full stored blob for id, or a single step's
// payload when step is non-empty. Read-only: does not take the lock.
func (m *Manager) GetStepData(ctx context.Context, id string, step Step) (json.RawMessage, error) {
	raw, err := m.store.Get(ctx, dataKey(id))
	if err != nil {
		if err == kv.ErrNotFound {
			return nil, gatewayerr.New(gatewayerr.CodeDataNotFound)
		}
		return nil, err
	}

	var data sequenceData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		// Torn read tolerance: best-effort only, treat as not found
		// rather than surfacing a parse error to the caller.
		return nil, gatewayerr.New(gatewayerr.CodeDataNotFound)
	}

	if step == "" {
		return json.Marshal(data)
	}
	payload, ok := data.Steps[step]
	if !ok {
		return nil, gatewayerr.New(gatewayerr.CodeDataNotFound)
	}
	return payload, nil
}

// Clear removes the sequence, its data, and any outstanding lock for id.
func (m *Manager) Clear(ctx context.Context, id string) error {
	return m.store.Del(ctx, sequenceKey(id), dataKey(id), "lock:"+lockName(id))
}

// Status returns a summary of id's registration progress.
func (m *Manager) Status(ctx context.Context, id string) (Status, error) {
	current, found, err := m.currentStep(ctx, id)
	if err != nil {
		return Status{}, err
	}

	raw, err := m.store.Get(ctx, dataKey(id))
	var data sequenceData
	hasData := false
	if err == nil {
		hasData = true
		_ = json.Unmarshal([]byte(raw), &data)
	} else if err != kv.ErrNotFound {
		return Status{}, err
	}

	var completed []Step
	for _, step := range []Step{StepCheckPhone, StepCheckEmail, StepCreateAccount, StepSendEmailOTP, StepVerifyEmail} {
		if _, ok := data.Steps[step]; ok {
			completed = append(completed, step)
		}
	}

	var cur Step
	if found {
		cur = current
	}

	return Status{
		CurrentStep:    cur,
		HasData:        hasData,
		LastUpdated:    data.LastUpdated,
		CompletedSteps: completed,
		HasErrors:      data.LastError != "",
	}, nil
}

// CleanupExpired scans sequence_data keys and removes any whose primary
// sequence key has already expired — the window where a crash or a TTL
// mismatch between the two keys leaves data orphaned under an identifier
// whose state machine no longer exists. Returns the number of
// identifiers cleaned up.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	const pattern = "sequence_data:*"
	var cursor uint64
	cleaned := 0

	for {
		keys, next, err := m.store.Scan(ctx, cursor, pattern, 100)
		if err != nil {
			return cleaned, gatewayerr.Wrap(gatewayerr.CodeKVError, err)
		}

		for _, key := range keys {
			id, ok := strings.CutPrefix(key, "sequence_data:")
			if !ok {
				continue
			}
			exists, err := m.store.Exists(ctx, sequenceKey(id))
			if err != nil {
				continue
			}
			if !exists {
				if err := m.Clear(ctx, id); err == nil {
					cleaned++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return cleaned, nil
}

func (m *Manager) currentStep(ctx context.Context, id string) (Step, bool, error) {
	v, err := m.store.Get(ctx, sequenceKey(id))
	if err != nil {
		if err == kv.ErrNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	return Step(v), true, nil
}

// withLock serializes fn against concurrent callers for the same
// identifier, retrying acquisition with backoff up to maxRetries before
// failing with CodeLockFailed.
func (m *Manager) withLock(ctx context.Context, id string, fn func() error) error {
	lock := kv.NewLock(m.store, lockName(id), m.lockTTL)

	var acquired bool
	var err error
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		acquired, err = lock.Acquire(ctx)
		if err != nil {
			return gatewayerr.Wrap(gatewayerr.CodeKVError, err)
		}
		if acquired {
			break
		}
		select {
		case <-ctx.Done():
			return gatewayerr.Wrap(gatewayerr.CodeTimeout, ctx.Err())
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}
	if !acquired {
		return gatewayerr.New(gatewayerr.CodeLockFailed).WithContext(map[string]any{"id": id})
	}
	defer lock.Release(ctx)

	return fn()
}

func toSequenceErr(err error) error {
	if err == nil {
		return nil
	}
	if err == kv.ErrConcurrentModification {
		return gatewayerr.Wrap(gatewayerr.CodeConcurrentMod, err)
	}
	if _, ok := gatewayerr.As(err); ok {
		return err
	}
	return fmt.Errorf("sequence: %w", err)
}
