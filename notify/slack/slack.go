// Package slack sends gateway alerts to a Slack incoming webhook,
// mirroring notify/discord's shape so the two can sit side by side
// behind notify.MultiNotifier.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"github.com/convobridge/gateway/notify"
)

// Options configures the Notifier.
type Options struct {
	WebhookURL   string
	APIRateLimit rate.Limit
	APIBurst     int
	SendTimeout  time.Duration
}

// Notifier implements notify.Notifier over a Slack incoming webhook. Send
// is non-blocking: it rate-limits inline and dispatches the actual HTTP
// call from a goroutine, the same shape notify/discord.Notifier uses.
type Notifier struct {
	opts           Options
	logger         *slog.Logger
	apiRateLimiter *rate.Limiter
}

// New builds a Notifier posting to opts.WebhookURL.
func New(opts Options, logger *slog.Logger) (*Notifier, error) {
	if opts.WebhookURL == "" {
		return nil, fmt.Errorf("slack: WebhookURL is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("slack: logger is required")
	}

	if opts.APIRateLimit == 0 {
		opts.APIRateLimit = rate.Every(2 * time.Second)
	}
	if opts.APIBurst <= 0 {
		opts.APIBurst = 5
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}

	return &Notifier{
		opts:           opts,
		logger:         logger,
		apiRateLimiter: rate.NewLimiter(opts.APIRateLimit, opts.APIBurst),
	}, nil
}

func formatMessage(n notify.Notification) *slack.WebhookMessage {
	text := fmt.Sprintf("[%s] from *%s*:\n>%s", n.Type.String(), n.Source, n.Message)

	var fields []slack.AttachmentField
	if len(n.Fields) > 0 {
		keys := make([]string, 0, len(n.Fields))
		for k := range n.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := n.Fields[k]
			if v == nil {
				continue
			}
			fields = append(fields, slack.AttachmentField{
				Title: k,
				Value: fmt.Sprintf("%v", v),
				Short: true,
			})
		}
	}

	msg := &slack.WebhookMessage{Text: text}
	if len(fields) > 0 {
		msg.Attachments = []slack.Attachment{{Fields: fields}}
	}
	return msg
}

// Send acquires a rate-limit token and, if granted, posts the formatted
// notification to the configured webhook from a background goroutine.
// Errors during the HTTP post are logged, not returned, matching
// notify/discord.Notifier's fire-and-forget contract.
func (n *Notifier) Send(_ context.Context, notification notify.Notification) error {
	if !n.apiRateLimiter.Allow() {
		n.logger.Warn("slack: API rate limit reached, dropping notification",
			"source", notification.Source, "message", notification.Message)
		return nil
	}

	go func(notif notify.Notification) {
		sendCtx, cancel := context.WithTimeout(context.Background(), n.opts.SendTimeout)
		defer cancel()

		msg := formatMessage(notif)
		if err := slack.PostWebhookContext(sendCtx, n.opts.WebhookURL, msg); err != nil {
			n.logger.Error("slack: failed to post to webhook",
				"source", notif.Source, "message", notif.Message, "error", err)
			return
		}
		n.logger.Log(sendCtx, slog.LevelDebug, "slack: sent notification",
			"source", notif.Source, "message", notif.Message)
	}(notification)

	return nil
}
