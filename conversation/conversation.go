// Package conversation is a thin mediator in front of the downstream
// conversational AI backend: it normalizes the sender identity, caches
// conversation IDs, serializes concurrent lookups for the same sender,
// sanitizes message bodies, and maps backend failures onto the
// gateway's error taxonomy.
package conversation

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/convobridge/gateway/gatewayerr"
	"github.com/convobridge/gateway/kv"
)

// Reply is what the downstream backend returned for one turn.
type Reply struct {
	Message               string
	ConversationID        string
	NeedsAuthVerification bool
	RequiredOperation     string
	OperationData         map[string]any
}

// Backend is the downstream conversational AI service. Implementations
// own their own transport, auth, and retry policy; conversation.Mediator
// only needs a sender/message/conversation-id in, a Reply out.
type Backend interface {
	// Conversations returns the most recent conversation ID for user, or
	// "" if none exists yet.
	Conversations(ctx context.Context, user string) (string, error)
	// SendMessage posts one turn and returns the backend's reply.
	SendMessage(ctx context.Context, user, message, conversationID string) (Reply, error)
}

var phonePattern = regexp.MustCompile(`^\+?\d{10,15}$`)

// Mediator is the facade worker.Handler talks to instead of calling
// Backend directly.
type Mediator struct {
	backend  Backend
	store    kv.Store
	cacheTTL time.Duration
	lockTTL  time.Duration
}

// New builds a Mediator. cacheTTL governs how long a resolved
// conversation ID is cached per sender (the KV layout fixes this at one
// hour); lockTTL bounds how long the per-sender lock guarding a cache
// miss may be held.
func New(backend Backend, store kv.Store, cacheTTL, lockTTL time.Duration) *Mediator {
	return &Mediator{backend: backend, store: store, cacheTTL: cacheTTL, lockTTL: lockTTL}
}

// NormalizeSender strips a transport prefix (e.g. "whatsapp:") and
// validates the remaining digits against the E.164-ish shape the
// backend requires.
func NormalizeSender(raw string) (string, error) {
	sender := raw
	if idx := strings.Index(sender, ":"); idx != -1 {
		sender = sender[idx+1:]
	}
	sender = strings.TrimSpace(sender)
	if !phonePattern.MatchString(sender) {
		return "", gatewayerr.New(gatewayerr.CodeInvalidPhone)
	}
	if !strings.HasPrefix(sender, "+") {
		sender = "+" + sender
	}
	return sender, nil
}

// Sanitize keeps message bodies safe to forward: strips non-printable
// characters, keeps printable runes plus a small punctuation whitelist,
// and truncates to 4096 bytes.
func Sanitize(message string) string {
	if message == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range message {
		if !unicode.IsPrint(r) {
			continue
		}
		b.WriteRune(r)
	}
	sanitized := b.String()
	const maxLen = 4096
	if len(sanitized) > maxLen {
		sanitized = sanitized[:maxLen]
	}
	return sanitized
}

func convCacheKey(sender string) string {
	return "dify_chat:conv:" + sender
}

// conversationID resolves the cached or freshly-looked-up conversation
// ID for sender, serializing concurrent misses behind a per-sender lock
// so two simultaneous messages from the same sender don't each open a
// new backend conversation.
func (m *Mediator) conversationID(ctx context.Context, sender string) (string, error) {
	key := convCacheKey(sender)
	if cached, err := m.store.Get(ctx, key); err == nil {
		return cached, nil
	} else if err != kv.ErrNotFound {
		return "", gatewayerr.Wrap(gatewayerr.CodeKVError, err)
	}

	lock := kv.NewLock(m.store, "dify_conv:"+sender, m.lockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return "", gatewayerr.Wrap(gatewayerr.CodeKVError, err)
	}
	if !acquired {
		// Another request is already resolving this sender's conversation;
		// wait briefly then trust its cache write rather than racing it.
		time.Sleep(50 * time.Millisecond)
		if cached, err := m.store.Get(ctx, key); err == nil {
			return cached, nil
		}
		return "", nil
	}
	defer lock.Release(ctx)

	// Re-check after acquiring the lock in case the prior holder already
	// populated the cache.
	if cached, err := m.store.Get(ctx, key); err == nil {
		return cached, nil
	}

	convID, err := m.backend.Conversations(ctx, sender)
	if err != nil {
		return "", gatewayerr.Wrap(gatewayerr.CodeBackendError, err)
	}
	if convID == "" {
		return "", nil
	}
	if err := m.store.Set(ctx, key, convID, m.cacheTTL); err != nil {
		return "", gatewayerr.Wrap(gatewayerr.CodeKVError, err)
	}
	return convID, nil
}

// Send normalizes sender, sanitizes message, resolves the conversation
// ID (from cache or the backend), and forwards the turn.
func (m *Mediator) Send(ctx context.Context, rawSender, message string) (Reply, error) {
	sender, err := NormalizeSender(rawSender)
	if err != nil {
		return Reply{}, err
	}
	sanitized := Sanitize(message)
	if sanitized == "" {
		return Reply{}, gatewayerr.New(gatewayerr.CodeInvalidData).WithContext(map[string]any{"reason": "empty message after sanitization"})
	}

	convID, err := m.conversationID(ctx, sender)
	if err != nil {
		return Reply{}, err
	}

	reply, err := m.backend.SendMessage(ctx, sender, sanitized, convID)
	if err != nil {
		return Reply{}, gatewayerr.Wrap(gatewayerr.CodeBackendError, err)
	}

	if reply.ConversationID != "" && reply.ConversationID != convID {
		m.store.Set(ctx, convCacheKey(sender), reply.ConversationID, m.cacheTTL)
	}
	return reply, nil
}
