package webhookapi

import "net/http"

// handleSignup picks a channel number via the load balancer and
// redirects the caller straight into a chat with it.
func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ip := clientIP(r, a.cfgProvider.Get().Server.ClientIpProxyHeader)
	if !a.checkRateLimit(ctx, w, "signup", ip) {
		return
	}

	result, err := a.lb.Signup(ctx, ip, r.UserAgent(), r.Referer())
	if err != nil {
		// LoadBalancer.Pick only ever returns an error when no channel
		// numbers are configured; every other failure mode falls back to
		// a time-seeded pick rather than erroring. Surface that as
		// service-unavailable rather than the SYSTEM_ERROR default of 500.
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":     "failed",
			"message":    "no channel numbers are available right now",
			"error_code": "SYSTEM_ERROR",
		})
		return
	}

	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}
