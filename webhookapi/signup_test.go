package webhookapi_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleSignup_RedirectsToChannelNumber(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/signup", nil)
	rec := httptest.NewRecorder()
	newTestMux(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc == "" {
		t.Fatalf("expected a redirect Location header")
	}
}

func TestHandleSignup_ServiceUnavailableWhenNoNumbersConfigured(t *testing.T) {
	h := newHarnessWithNumbers(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/signup", nil)
	rec := httptest.NewRecorder()
	newTestMux(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
