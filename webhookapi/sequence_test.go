package webhookapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func postJSON(t *testing.T, h *harness, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "test-api-key")
	rec := httptest.NewRecorder()
	newTestMux(h).ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

func TestRegistrationSequence_HappyPath(t *testing.T) {
	h := newHarness(t)
	const phone = "+15550123456"
	const addr = "new-user@example.com"

	checkPhone := postJSON(t, h, "/check_phone", map[string]string{"phone_number": phone})
	if checkPhone.Code != http.StatusOK {
		t.Fatalf("check_phone status = %d, body = %s", checkPhone.Code, checkPhone.Body.String())
	}
	if decodeBody(t, checkPhone)["next_action"] != "check_email" {
		t.Fatalf("check_phone next_action = %+v", decodeBody(t, checkPhone))
	}

	checkEmail := postJSON(t, h, "/check_email", map[string]string{"phone_number": phone, "email": addr})
	if checkEmail.Code != http.StatusOK {
		t.Fatalf("check_email status = %d, body = %s", checkEmail.Code, checkEmail.Body.String())
	}
	if decodeBody(t, checkEmail)["next_action"] != "create_account" {
		t.Fatalf("check_email next_action = %+v", decodeBody(t, checkEmail))
	}

	createAccount := postJSON(t, h, "/create_account", map[string]string{
		"phone_number": phone, "email": addr, "first_name": "Ada", "last_name": "Lovelace",
		"gender": "f", "country": "UK",
	})
	if createAccount.Code != http.StatusOK {
		t.Fatalf("create_account status = %d, body = %s", createAccount.Code, createAccount.Body.String())
	}
	created := decodeBody(t, createAccount)
	if created["next_action"] != "send_email_otp" {
		t.Fatalf("create_account next_action = %+v", created)
	}
	if created["user_id"] == "" || created["user_id"] == nil {
		t.Fatalf("create_account missing user_id: %+v", created)
	}

	sendOTP := postJSON(t, h, "/send_email_otp", map[string]string{"phone_number": phone, "email": addr})
	if sendOTP.Code != http.StatusOK {
		t.Fatalf("send_email_otp status = %d, body = %s", sendOTP.Code, sendOTP.Body.String())
	}
	if h.sender.lastTo != addr || h.sender.lastOTP == "" {
		t.Fatalf("expected an OTP email to have been sent to %s, got lastTo=%q lastOTP=%q", addr, h.sender.lastTo, h.sender.lastOTP)
	}

	verify := postJSON(t, h, "/verify_email", map[string]string{"email": addr, "otp": h.sender.lastOTP})
	if verify.Code != http.StatusOK {
		t.Fatalf("verify_email status = %d, body = %s", verify.Code, verify.Body.String())
	}
	if decodeBody(t, verify)["verified"] != true {
		t.Fatalf("verify_email response = %+v", decodeBody(t, verify))
	}
}

func TestCheckPhone_RejectsMalformedNumber(t *testing.T) {
	h := newHarness(t)
	rec := postJSON(t, h, "/check_phone", map[string]string{"phone_number": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["error_code"] != "INVALID_PHONE" {
		t.Fatalf("error_code = %+v", decodeBody(t, rec))
	}
}

func TestCheckEmail_RejectsMalformedAddress(t *testing.T) {
	h := newHarness(t)
	const phone = "+15550123457"
	postJSON(t, h, "/check_phone", map[string]string{"phone_number": phone})

	rec := postJSON(t, h, "/check_email", map[string]string{"phone_number": phone, "email": "not-an-email"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["error_code"] != "INVALID_EMAIL" {
		t.Fatalf("error_code = %+v", decodeBody(t, rec))
	}
}

func TestCheckEmail_RejectsSequenceViolationOutOfOrder(t *testing.T) {
	h := newHarness(t)
	// check_email before check_phone: the sequence has never been started.
	rec := postJSON(t, h, "/check_email", map[string]string{"phone_number": "+15550199999", "email": "x@example.com"})
	if rec.Code == http.StatusOK {
		t.Fatalf("expected an error when skipping check_phone, got 200: %s", rec.Body.String())
	}
}

func TestVerifyEmail_RejectsWrongOTP(t *testing.T) {
	h := newHarness(t)
	const phone = "+15550123458"
	const addr = "wrong-otp@example.com"

	postJSON(t, h, "/check_phone", map[string]string{"phone_number": phone})
	postJSON(t, h, "/check_email", map[string]string{"phone_number": phone, "email": addr})
	postJSON(t, h, "/create_account", map[string]string{
		"phone_number": phone, "email": addr, "first_name": "A", "last_name": "B", "gender": "f", "country": "UK",
	})
	postJSON(t, h, "/send_email_otp", map[string]string{"phone_number": phone, "email": addr})

	rec := postJSON(t, h, "/verify_email", map[string]string{"email": addr, "otp": "000000"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["error_code"] != "INVALID_OTP" {
		t.Fatalf("error_code = %+v", decodeBody(t, rec))
	}
}

func TestSendEmailOTP_ReportsEmailErrorWhenDeliveryFails(t *testing.T) {
	h := newHarness(t)
	const phone = "+15550123459"
	const addr = "delivery-fails@example.com"

	postJSON(t, h, "/check_phone", map[string]string{"phone_number": phone})
	postJSON(t, h, "/check_email", map[string]string{"phone_number": phone, "email": addr})
	postJSON(t, h, "/create_account", map[string]string{
		"phone_number": phone, "email": addr, "first_name": "A", "last_name": "B", "gender": "f", "country": "UK",
	})

	h.sender.err = errSendFailed
	rec := postJSON(t, h, "/send_email_otp", map[string]string{"phone_number": phone, "email": addr})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502, body = %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["error_code"] != "EMAIL_ERROR" {
		t.Fatalf("error_code = %+v", decodeBody(t, rec))
	}
}

func TestVerifyEmail_UnknownEmailReturnsSequenceNotFound(t *testing.T) {
	h := newHarness(t)
	rec := postJSON(t, h, "/verify_email", map[string]string{"email": "never-started@example.com", "otp": "123456"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["error_code"] != "SEQUENCE_NOT_FOUND" {
		t.Fatalf("error_code = %+v", decodeBody(t, rec))
	}
}
