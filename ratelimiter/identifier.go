package ratelimiter

import (
	"net"
	"net/http"
	"strings"

	"github.com/convobridge/gateway/config"
)

// Identifier extracts the value a rule of idType keys its window on from an
// inbound request: the caller's IP, or a phone/email carried in the request
// body or query string. clientIPHeader is the trusted proxy header (e.g.
// X-Forwarded-For) configured for this deployment; empty means trust
// r.RemoteAddr only.
func Identifier(r *http.Request, idType config.IdentifierType, phone, email, clientIPHeader string) (string, bool) {
	switch idType {
	case config.IdentifierIP:
		return clientIP(r, clientIPHeader), true
	case config.IdentifierPhone:
		if phone == "" {
			phone = r.URL.Query().Get("phone_number")
		}
		return phone, phone != ""
	case config.IdentifierEmail:
		if email == "" {
			email = r.URL.Query().Get("email")
		}
		return email, email != ""
	default:
		return "", false
	}
}

func clientIP(r *http.Request, clientIPHeader string) string {
	if clientIPHeader != "" {
		if v := r.Header.Get(clientIPHeader); v != "" {
			parts := strings.Split(v, ",")
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
