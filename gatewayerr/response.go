package gatewayerr

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// securityHeaders are applied to every JSON response the gateway writes.
var securityHeaders = map[string]string{
	"Content-Type":           "application/json; charset=utf-8",
	"X-Content-Type-Options": "nosniff",
	"Cache-Control":          "no-store, no-cache, must-revalidate",
	"X-Frame-Options":        "DENY",
}

func setHeaders(w http.ResponseWriter, headers map[string]string) {
	for k, v := range headers {
		w.Header()[k] = []string{v}
	}
}

// errorContext is the {timestamp, operation, details?} block every failure
// response carries alongside the top-level error fields.
type errorContext struct {
	Timestamp time.Time      `json:"timestamp"`
	Operation string         `json:"operation"`
	Details   map[string]any `json:"details,omitempty"`
}

// envelope is the fixed {status:"failed", ...} shape.
type envelope struct {
	Status      string        `json:"status"`
	Message     string        `json:"message"`
	ErrorCode   Code          `json:"error_code"`
	RetryAfter  *float64      `json:"retry_after,omitempty"`
	ErrorContext errorContext `json:"error_context"`
}

// WriteError writes err as the standard failure envelope and logs it with
// its full context, the way every SequenceException is logged in the
// design notes.
func WriteError(w http.ResponseWriter, logger *slog.Logger, operation string, err error) {
	ge, ok := As(err)
	if !ok {
		ge = Wrap(CodeSystemError, err)
	}

	logger.Error("operation_failed",
		"operation", operation,
		"error_code", ge.Code,
		"error", ge.Error(),
		"context", ge.Context)

	var retryAfter *float64
	if ge.RetryAfter != nil {
		seconds := ge.RetryAfter.Seconds()
		retryAfter = &seconds
	}

	resp := envelope{
		Status:     "failed",
		Message:    ge.Message,
		ErrorCode:  ge.Code,
		RetryAfter: retryAfter,
		ErrorContext: errorContext{
			Timestamp: time.Now().UTC(),
			Operation: operation,
			Details:   ge.Context,
		},
	}

	setHeaders(w, securityHeaders)
	w.WriteHeader(ge.HTTPStatus())
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteJSON writes a successful JSON response with the standard headers.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	setHeaders(w, securityHeaders)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
