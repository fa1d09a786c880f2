// Package transport defines the upstream instant-messaging transport
// contract: sending outbound messages and verifying that an inbound
// webhook request genuinely originated from the transport provider.
package transport

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/convobridge/gateway/gatewayerr"
)

// MessagingTransport sends outbound messages over the upstream
// network. Implementations own their own vendor auth and formatting.
type MessagingTransport interface {
	// SendMessage sends body to "to" from the gateway's channel number
	// "from" and returns the transport's message identifier.
	SendMessage(ctx context.Context, from, to, body string) (messageSID string, err error)
	// SendMedia sends body to "to" from "from" with one attached media
	// URL. Implementations that don't support attachments may fall back
	// to SendMessage, dropping the media.
	SendMedia(ctx context.Context, from, to, body, mediaURL string) (messageSID string, err error)
}

var digitsPattern = regexp.MustCompile(`[^\d+]`)

// FormatNumber cleans a phone number to digits-and-leading-plus and,
// when addPrefix is true, prepends the transport's channel prefix
// (e.g. "whatsapp:").
func FormatNumber(raw string, addPrefix bool) (string, error) {
	if raw == "" {
		return "", gatewayerr.New(gatewayerr.CodeInvalidPhone)
	}
	cleaned := digitsPattern.ReplaceAllString(strings.TrimSpace(raw), "")
	if !strings.HasPrefix(cleaned, "+") {
		cleaned = "+" + cleaned
	}
	digitsOnly := strings.TrimPrefix(cleaned, "+")
	if len(digitsOnly) < 10 || len(digitsOnly) > 15 {
		return "", gatewayerr.New(gatewayerr.CodeInvalidPhone)
	}
	if addPrefix {
		return "whatsapp:" + cleaned, nil
	}
	return cleaned, nil
}

// SignatureVerifier validates that an inbound webhook POST carries a
// valid vendor signature, replicating Twilio's X-Twilio-Signature
// scheme: HMAC-SHA1 over the request URL with its POST parameters
// (sorted by key, concatenated as key+value) appended, base64-encoded.
type SignatureVerifier struct {
	authToken string
}

// NewSignatureVerifier builds a verifier keyed by the transport's shared
// auth token (config.TransportAuthToken).
func NewSignatureVerifier(authToken string) *SignatureVerifier {
	return &SignatureVerifier{authToken: authToken}
}

// Verify reports whether signature is valid for requestURL and the
// given POST form parameters.
func (v *SignatureVerifier) Verify(requestURL string, params url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	expected := v.sign(requestURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (v *SignatureVerifier) sign(requestURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(requestURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(v.authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyRequest is the http.Request-level convenience the webhook
// ingress handler calls: it reads the signature header, parses the form
// body (without consuming it for downstream handlers — callers must
// have already buffered r.Body), and verifies.
func VerifyRequest(v *SignatureVerifier, r *http.Request, fullURL string, form url.Values) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	return v.Verify(fullURL, form, signature)
}
