package webhookapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/convobridge/gateway/gatewayerr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// errorContext mirrors the error_context object every failure response
// carries: when it happened, what operation produced it, and whatever
// diagnostic details the underlying gatewayerr.Error attached.
type errorContext struct {
	Timestamp string         `json:"timestamp"`
	Operation string         `json:"operation"`
	Details   map[string]any `json:"details,omitempty"`
}

type errorEnvelope struct {
	Status       string       `json:"status"`
	Message      string       `json:"message"`
	ErrorCode    string       `json:"error_code"`
	RetryAfter   *float64     `json:"retry_after,omitempty"`
	ErrorContext errorContext `json:"error_context"`
}

// writeError maps err onto the fixed failure envelope and its
// corresponding HTTP status. Any error that isn't already a
// *gatewayerr.Error is wrapped as SYSTEM_ERROR rather than leaking an
// unclassified message to the caller.
func writeError(w http.ResponseWriter, operation string, err error) {
	ge, ok := gatewayerr.As(err)
	if !ok {
		ge = gatewayerr.Wrap(gatewayerr.CodeSystemError, err)
	}

	env := errorEnvelope{
		Status:    "failed",
		Message:   ge.Message,
		ErrorCode: string(ge.Code),
		ErrorContext: errorContext{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Operation: operation,
			Details:   ge.Context,
		},
	}
	if ge.RetryAfter != nil {
		secs := ge.RetryAfter.Seconds()
		env.RetryAfter = &secs
	}
	writeJSON(w, ge.HTTPStatus(), env)
}

// writeForbidden is used by the two checks the error-kind table doesn't
// cover: a bad vendor signature and a missing/wrong API key.
func writeForbidden(w http.ResponseWriter, operation, message string) {
	writeJSON(w, http.StatusForbidden, errorEnvelope{
		Status:    "failed",
		Message:   message,
		ErrorCode: "FORBIDDEN",
		ErrorContext: errorContext{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Operation: operation,
		},
	})
}
