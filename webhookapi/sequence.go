package webhookapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/convobridge/gateway/email"
	"github.com/convobridge/gateway/gatewayerr"
	"github.com/convobridge/gateway/kv"
	"github.com/convobridge/gateway/sequence"
	"github.com/convobridge/gateway/transport"
)

// emailSequenceKey indexes which registration sequence an email address
// belongs to. /verify_email's request schema carries only {email, otp} —
// no phone number — so this is how its handler recovers the sequence
// identifier (the phone number) that every other step carries explicitly.
// Populated once check_email links an address to a phone; TTL mirrors the
// sequence's own so the index never outlives the sequence it points at.
func emailSequenceKey(email string) string { return "auth:email_sequence:" + email }

func now() string { return time.Now().UTC().Format(time.RFC3339) }

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return gatewayerr.New(gatewayerr.CodeInvalidData)
	}
	return nil
}

type checkPhoneRequest struct {
	PhoneNumber string `json:"phone_number"`
}

// handleCheckPhone is step 1: validate the phone number's shape, start
// (or resume) the registration sequence, and report whether it already
// belongs to a known user.
func (a *API) handleCheckPhone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req checkPhoneRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "check_phone", err)
		return
	}

	phone, err := transport.FormatNumber(req.PhoneNumber, false)
	if err != nil {
		writeError(w, "check_phone", err)
		return
	}

	if !a.checkRateLimit(ctx, w, "check_phone", phone) {
		return
	}

	if err := a.seq.ValidateStep(ctx, phone, sequence.StepCheckPhone); err != nil {
		writeError(w, "check_phone", err)
		return
	}

	user, err := a.identity.GetUserByPhone(ctx, phone)
	if err != nil {
		writeError(w, "check_phone", gatewayerr.Wrap(gatewayerr.CodeIdentityError, err))
		return
	}
	registered := user != nil

	payload, err := json.Marshal(sequence.PhoneCheckData{
		PhoneNumber:        phone,
		VerificationStatus: registered,
		Timestamp:          now(),
	})
	if err != nil {
		writeError(w, "check_phone", gatewayerr.Wrap(gatewayerr.CodeSystemError, err))
		return
	}
	if err := a.seq.StoreStepData(ctx, phone, sequence.StepCheckPhone, payload); err != nil {
		writeError(w, "check_phone", err)
		return
	}
	if err := a.seq.UpdateStep(ctx, phone, sequence.StepCheckPhone); err != nil {
		writeError(w, "check_phone", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"next_action": "check_email",
		"data": map[string]any{
			"phone_number":        phone,
			"already_registered": registered,
		},
	})
}

type checkEmailRequest struct {
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email"`
}

// handleCheckEmail is step 2: the phone number must match the one
// recorded at check_phone, the email must be well-formed, and the
// sequence must currently be sitting at StepCheckPhone.
func (a *API) handleCheckEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req checkEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "check_email", err)
		return
	}

	phone, err := transport.FormatNumber(req.PhoneNumber, false)
	if err != nil {
		writeError(w, "check_email", err)
		return
	}
	if !email.ValidFormat(req.Email) {
		writeError(w, "check_email", gatewayerr.New(gatewayerr.CodeInvalidEmail))
		return
	}

	if !a.checkRateLimit(ctx, w, "check_email", phone) {
		return
	}

	if err := a.seq.ValidateStep(ctx, phone, sequence.StepCheckEmail); err != nil {
		writeError(w, "check_email", err)
		return
	}

	prevRaw, err := a.seq.GetStepData(ctx, phone, sequence.StepCheckPhone)
	if err != nil {
		writeError(w, "check_email", err)
		return
	}
	var prev sequence.PhoneCheckData
	if err := json.Unmarshal(prevRaw, &prev); err != nil || prev.PhoneNumber != phone {
		writeError(w, "check_email", gatewayerr.New(gatewayerr.CodeDataMismatch))
		return
	}

	existing, err := a.identity.GetUserByEmail(ctx, req.Email)
	if err != nil {
		writeError(w, "check_email", gatewayerr.Wrap(gatewayerr.CodeIdentityError, err))
		return
	}
	taken := existing != nil

	payload, err := json.Marshal(sequence.EmailCheckData{
		Email:              req.Email,
		PhoneNumber:        phone,
		VerificationStatus: taken,
		Timestamp:          now(),
	})
	if err != nil {
		writeError(w, "check_email", gatewayerr.Wrap(gatewayerr.CodeSystemError, err))
		return
	}
	if err := a.seq.StoreStepData(ctx, phone, sequence.StepCheckEmail, payload); err != nil {
		writeError(w, "check_email", err)
		return
	}
	if err := a.seq.UpdateStep(ctx, phone, sequence.StepCheckEmail); err != nil {
		writeError(w, "check_email", err)
		return
	}
	if err := a.store.Set(ctx, emailSequenceKey(req.Email), phone, a.cfgProvider.Get().TTL.Sequence); err != nil {
		writeError(w, "check_email", gatewayerr.Wrap(gatewayerr.CodeKVError, err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"next_action": "create_account",
		"data": map[string]any{
			"email":               req.Email,
			"already_registered": taken,
		},
	})
}

type createAccountRequest struct {
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Gender      string `json:"gender"`
	Country     string `json:"country"`
}

// handleCreateAccount is step 3: create the account with the identity
// authority once every required field is present.
func (a *API) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "create_account", err)
		return
	}
	if req.PhoneNumber == "" || req.Email == "" || req.FirstName == "" || req.LastName == "" || req.Gender == "" || req.Country == "" {
		writeError(w, "create_account", gatewayerr.New(gatewayerr.CodeInvalidData))
		return
	}

	phone, err := transport.FormatNumber(req.PhoneNumber, false)
	if err != nil {
		writeError(w, "create_account", err)
		return
	}
	if !email.ValidFormat(req.Email) {
		writeError(w, "create_account", gatewayerr.New(gatewayerr.CodeInvalidEmail))
		return
	}

	if err := a.seq.ValidateStep(ctx, phone, sequence.StepCreateAccount); err != nil {
		writeError(w, "create_account", err)
		return
	}

	user, err := a.identity.CreateUserWithPhone(ctx, phone, map[string]any{
		"first_name": req.FirstName,
		"last_name":  req.LastName,
		"gender":     req.Gender,
		"country":    req.Country,
		"email":      req.Email,
	})
	if err != nil {
		writeError(w, "create_account", gatewayerr.Wrap(gatewayerr.CodeIdentityError, err))
		return
	}

	payload, err := json.Marshal(sequence.AccountCreationData{
		PhoneNumber: phone,
		Email:       req.Email,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Gender:      req.Gender,
		Country:     req.Country,
		Timestamp:   now(),
	})
	if err != nil {
		writeError(w, "create_account", gatewayerr.Wrap(gatewayerr.CodeSystemError, err))
		return
	}
	if err := a.seq.StoreStepData(ctx, phone, sequence.StepCreateAccount, payload); err != nil {
		writeError(w, "create_account", err)
		return
	}
	if err := a.seq.UpdateStep(ctx, phone, sequence.StepCreateAccount); err != nil {
		writeError(w, "create_account", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     user.ID,
		"next_action": "send_email_otp",
	})
}

type sendEmailOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email"`
}

// handleSendEmailOTP is step 4: generate and deliver a one-time code to
// the address being verified.
func (a *API) handleSendEmailOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sendEmailOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "send_email_otp", err)
		return
	}

	phone, err := transport.FormatNumber(req.PhoneNumber, false)
	if err != nil {
		writeError(w, "send_email_otp", err)
		return
	}

	if !a.checkRateLimit(ctx, w, "send_email_otp", req.Email) {
		return
	}

	if err := a.seq.ValidateStep(ctx, phone, sequence.StepSendEmailOTP); err != nil {
		writeError(w, "send_email_otp", err)
		return
	}

	otp := a.otp.Generate()
	if err := a.otp.Store(ctx, req.Email, otp); err != nil {
		writeError(w, "send_email_otp", err)
		return
	}
	if err := a.emailSvc.SendOTP(ctx, req.Email, otp); err != nil {
		writeError(w, "send_email_otp", err)
		return
	}

	if err := a.seq.StoreStepData(ctx, phone, sequence.StepSendEmailOTP, json.RawMessage(`{}`)); err != nil {
		writeError(w, "send_email_otp", err)
		return
	}
	if err := a.seq.UpdateStep(ctx, phone, sequence.StepSendEmailOTP); err != nil {
		writeError(w, "send_email_otp", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"next_action": "verify_email",
	})
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// handleVerifyEmail is step 5: check the one-time code, mark the
// account's email verified, and close out the sequence's final step.
func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req verifyEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "verify_email", err)
		return
	}
	if req.Email == "" || req.OTP == "" {
		writeError(w, "verify_email", gatewayerr.New(gatewayerr.CodeInvalidData))
		return
	}

	if !a.checkRateLimit(ctx, w, "verify_email", req.Email) {
		return
	}

	phone, err := a.store.Get(ctx, emailSequenceKey(req.Email))
	if err != nil {
		if err == kv.ErrNotFound {
			writeError(w, "verify_email", gatewayerr.New(gatewayerr.CodeSequenceNotFound))
			return
		}
		writeError(w, "verify_email", gatewayerr.Wrap(gatewayerr.CodeKVError, err))
		return
	}

	if err := a.seq.ValidateStep(ctx, phone, sequence.StepVerifyEmail); err != nil {
		writeError(w, "verify_email", err)
		return
	}

	if err := a.otp.Verify(ctx, req.Email, req.OTP); err != nil {
		writeError(w, "verify_email", err)
		return
	}

	user, err := a.identity.GetUserByEmail(ctx, req.Email)
	if err != nil {
		writeError(w, "verify_email", gatewayerr.Wrap(gatewayerr.CodeIdentityError, err))
		return
	}
	if user == nil {
		writeError(w, "verify_email", gatewayerr.New(gatewayerr.CodeDataNotFound))
		return
	}
	if err := a.identity.MarkEmailVerified(ctx, user.ID); err != nil {
		writeError(w, "verify_email", gatewayerr.Wrap(gatewayerr.CodeIdentityError, err))
		return
	}

	payload, err := json.Marshal(sequence.EmailVerificationData{
		Email:     req.Email,
		Verified:  true,
		Timestamp: now(),
	})
	if err != nil {
		writeError(w, "verify_email", gatewayerr.Wrap(gatewayerr.CodeSystemError, err))
		return
	}
	if err := a.seq.StoreStepData(ctx, phone, sequence.StepVerifyEmail, payload); err != nil {
		writeError(w, "verify_email", err)
		return
	}
	if err := a.seq.UpdateStep(ctx, phone, sequence.StepVerifyEmail); err != nil {
		writeError(w, "verify_email", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"verified": true})
}
