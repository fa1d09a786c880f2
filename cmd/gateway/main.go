// Command gateway is the conversational messaging gateway's composition
// root: it wires every package under this module into one HTTP process
// and runs it under server.Server's signal/shutdown handling, grounded
// on the teacher's cmd/restinpieces/main.go wiring style.
package main

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/convobridge/gateway/audit"
	"github.com/convobridge/gateway/cache/ristretto"
	"github.com/convobridge/gateway/config"
	"github.com/convobridge/gateway/conversation"
	"github.com/convobridge/gateway/conversation/httpbackend"
	"github.com/convobridge/gateway/email"
	"github.com/convobridge/gateway/identity"
	"github.com/convobridge/gateway/identity/keycloak"
	"github.com/convobridge/gateway/kv/redis"
	"github.com/convobridge/gateway/loadbalancer"
	"github.com/convobridge/gateway/mail"
	"github.com/convobridge/gateway/notify"
	"github.com/convobridge/gateway/notify/discord"
	"github.com/convobridge/gateway/notify/slack"
	"github.com/convobridge/gateway/ratelimiter"
	"github.com/convobridge/gateway/router/httprouter"
	"github.com/convobridge/gateway/sequence"
	"github.com/convobridge/gateway/server"
	"github.com/convobridge/gateway/transport"
	"github.com/convobridge/gateway/transport/twilio"
	"github.com/convobridge/gateway/webhookapi"
	"github.com/convobridge/gateway/worker"
	"github.com/convobridge/gateway/workqueue"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load(nil)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	configProvider := config.NewProvider(cfg)

	store := redis.New(cfg.KV)

	limiter := ratelimiter.New(store, cfg.RateLimits)
	seq := sequence.New(store, cfg.TTL)

	notifier := buildNotifier(cfg.AlertWebhookURL, logger)
	lb := loadbalancer.New(store, audit.NilSink{}, notifier, logger, cfg.Numbers, cfg.LoadBalancer, cfg.TTL.Cooldown)

	userCache, err := ristretto.New[*identity.User]("small")
	if err != nil {
		logger.Error("failed to build identity cache", "error", err)
		os.Exit(1)
	}
	keycloakClient := keycloak.New(cfg.Identity.URL, cfg.Identity.Realm, cfg.Identity.ClientID, cfg.Identity.User, cfg.Identity.Pass, http.DefaultClient)
	identityStore := identity.NewCachedStore(keycloakClient, userCache, cfg.TTL.ConversationCache)

	otpManager := identity.NewOTPManager(store, cfg.TTL.Otp, cfg.MaxOTPAttempts)
	mailer := mail.New(cfg.Smtp)
	emailSvc := email.New(mailer, email.NewRateLimiter(store, time.Minute, int64(cfg.MaxOTPAttempts)))

	verifier := transport.NewSignatureVerifier(cfg.TransportAuthToken)
	twilioClient := twilio.New(cfg.TransportAccountSID, cfg.TransportAuthToken, http.DefaultClient)

	queue := workqueue.New(store)

	backend := httpbackend.New(cfg.Backend.URL, cfg.Backend.Key, cfg.Budgets.Backend)
	mediator := conversation.New(backend, store, cfg.TTL.ConversationCache, cfg.TTL.Lock)

	processHandler := worker.New(mediator, lb, twilioClient, audit.NilSink{}, logger, http.DefaultClient, cfg.Budgets)
	pool := workqueue.NewPool(queue, map[string]workqueue.Handler{
		worker.JobTypeProcessMessage: processHandler,
	}, cfg.Workqueue, logger)

	api := webhookapi.New(configProvider, store, limiter, seq, lb, identityStore, otpManager, emailSvc, verifier, queue, audit.NilSink{}, logger)
	mux := httprouter.New()
	api.RegisterRoutes(mux)

	srv := server.NewServer(configProvider, mux, logger)
	srv.AddDaemon(newWorkqueuePoolDaemon(pool, logger))
	srv.AddDaemon(newSequenceCleanupDaemon(seq, cfg.TTL.Sequence, logger))
	srv.SetReloader(config.Reload(configProvider, logger))

	srv.Run()
}

// buildNotifier picks a notify.Notifier by sniffing the webhook URL's
// host, so operators only need to set one ALERT_WEBHOOK_URL regardless
// of which chat vendor they point it at. An empty or unrecognized URL
// falls back to notify.NilNotifier rather than failing startup over an
// optional alerting channel.
func buildNotifier(webhookURL string, logger *slog.Logger) notify.Notifier {
	switch {
	case webhookURL == "":
		return notify.NewNilNotifier()
	case strings.Contains(webhookURL, "hooks.slack.com"):
		n, err := slack.New(slack.Options{WebhookURL: webhookURL}, logger)
		if err != nil {
			logger.Warn("failed to build slack notifier, alerts disabled", "error", err)
			return notify.NewNilNotifier()
		}
		return n
	case strings.Contains(webhookURL, "discord.com"):
		n, err := discord.New(discord.Options{WebhookURL: webhookURL}, logger)
		if err != nil {
			logger.Warn("failed to build discord notifier, alerts disabled", "error", err)
			return notify.NewNilNotifier()
		}
		return n
	default:
		logger.Warn("unrecognized ALERT_WEBHOOK_URL host, alerts disabled", "url", webhookURL)
		return notify.NewNilNotifier()
	}
}
