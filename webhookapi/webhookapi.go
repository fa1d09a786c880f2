// Package webhookapi is the gateway's public HTTP surface: the vendor
// webhook ingress, the signup redirect, health/stats introspection, the
// five-step registration sequence, and the user lookup endpoint. Every
// handler here is a thin adapter that parses one request, drives the
// CORE components (sequence, loadbalancer, ratelimiter, identity,
// email, conversation/worker), and maps the result onto the fixed JSON
// envelope the rest of this package's files build on top of
// respond.go, grounded on the teacher's core package's one-handler-
// per-file layout (core/handler_auth_*.go) and its route table
// (restinpieces_routes.go).
package webhookapi

import (
	"log/slog"
	"net/http"

	"github.com/convobridge/gateway/audit"
	"github.com/convobridge/gateway/config"
	"github.com/convobridge/gateway/email"
	"github.com/convobridge/gateway/identity"
	"github.com/convobridge/gateway/kv"
	"github.com/convobridge/gateway/loadbalancer"
	"github.com/convobridge/gateway/ratelimiter"
	"github.com/convobridge/gateway/router"
	"github.com/convobridge/gateway/sequence"
	"github.com/convobridge/gateway/transport"
	"github.com/convobridge/gateway/workqueue"
)

// API holds every collaborator the public HTTP handlers depend on.
type API struct {
	cfgProvider *config.Provider
	store       kv.Store
	limiter     *ratelimiter.Limiter
	seq         *sequence.Manager
	lb          *loadbalancer.LoadBalancer
	identity    identity.Store
	otp         *identity.OTPManager
	emailSvc    *email.Service
	verifier    *transport.SignatureVerifier
	queue       *workqueue.Queue
	sink        audit.Sink
	logger      *slog.Logger
}

// New builds an API. sink and logger default to a no-op sink and
// slog.Default when nil.
func New(
	cfgProvider *config.Provider,
	store kv.Store,
	limiter *ratelimiter.Limiter,
	seq *sequence.Manager,
	lb *loadbalancer.LoadBalancer,
	identityStore identity.Store,
	otp *identity.OTPManager,
	emailSvc *email.Service,
	verifier *transport.SignatureVerifier,
	queue *workqueue.Queue,
	sink audit.Sink,
	logger *slog.Logger,
) *API {
	if sink == nil {
		sink = audit.NilSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		cfgProvider: cfgProvider,
		store:       store,
		limiter:     limiter,
		seq:         seq,
		lb:          lb,
		identity:    identityStore,
		otp:         otp,
		emailSvc:    emailSvc,
		verifier:    verifier,
		queue:       queue,
		sink:        sink,
		logger:      logger,
	}
}

// RegisterRoutes wires every endpoint onto mux. /webhook, /signup,
// /health and /metrics are reachable without an API key (the vendor
// signature, and the public nature of a redirect/healthcheck/scrape
// endpoint, are their own gate);
// every other endpoint requires X-API-Key.
func (a *API) RegisterRoutes(mux router.Mux) {
	public := func(h http.HandlerFunc) http.Handler {
		return router.NewChain(h).WithMiddleware(requestIDMiddleware, a.accessLogMiddleware).Handler()
	}
	protected := func(h http.HandlerFunc) http.Handler {
		return router.NewChain(h).WithMiddleware(requestIDMiddleware, a.accessLogMiddleware, a.apiKeyMiddleware).Handler()
	}

	mux.Handle(http.MethodPost, "/webhook", public(a.handleWebhook))
	mux.Handle(http.MethodGet, "/signup", public(a.handleSignup))
	mux.Handle(http.MethodGet, "/health", public(a.handleHealth))
	mux.Handle(http.MethodGet, "/metrics", public(handleMetrics))
	mux.Handle(http.MethodGet, "/stats/load", protected(a.handleStatsLoad))
	mux.Handle(http.MethodPost, "/check_phone", protected(a.handleCheckPhone))
	mux.Handle(http.MethodPost, "/check_email", protected(a.handleCheckEmail))
	mux.Handle(http.MethodPost, "/create_account", protected(a.handleCreateAccount))
	mux.Handle(http.MethodPost, "/send_email_otp", protected(a.handleSendEmailOTP))
	mux.Handle(http.MethodPost, "/verify_email", protected(a.handleVerifyEmail))
	mux.Handle(http.MethodPost, "/get_user_info", protected(a.handleGetUserInfo))
}
