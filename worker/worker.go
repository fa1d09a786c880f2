// Package worker drains the high-priority workqueue lane to carry one
// inbound message round-trip to completion: resolve or create a
// conversation thread, get a reply from the backend, pick an outbound
// channel number, validate any image attachments the reply carries, and
// send. Grounded on the teacher's background-job shape (queue/executor
// before it was dropped for workqueue) and on app/worker/tasks.py's
// process_message / tasks/celery_tasks.py's process_message task.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/convobridge/gateway/audit"
	"github.com/convobridge/gateway/config"
	"github.com/convobridge/gateway/conversation"
	"github.com/convobridge/gateway/gatewayerr"
	"github.com/convobridge/gateway/loadbalancer"
	"github.com/convobridge/gateway/transport"
	"github.com/convobridge/gateway/workqueue"
)

// JobTypeProcessMessage is the workqueue job type this package's
// Handler consumes.
const JobTypeProcessMessage = "process_message"

// Payload is the workqueue.Job.Payload shape for JobTypeProcessMessage,
// built by the webhook ingress handler from one inbound message.
type Payload struct {
	MessageID   string `json:"message_id"`
	Sender      string `json:"sender"`
	Recipient   string `json:"recipient"`
	Body        string `json:"body"`
	RequestLogID string `json:"request_log_id,omitempty"`
}

// imageURLPattern matches the bare .jpg/.jpeg image URLs a reply's text
// may carry, mirroring the ingress-side extraction the backend's replies
// are scanned for before a media send is attempted.
var imageURLPattern = regexp.MustCompile(`https?://\S+\.jpe?g\b`)

// Handler drives process_message jobs to completion.
type Handler struct {
	mediator   *conversation.Mediator
	lb         *loadbalancer.LoadBalancer
	transport  transport.MessagingTransport
	sink       audit.Sink
	logger     *slog.Logger
	httpClient *http.Client

	backendBudget   time.Duration
	transportBudget time.Duration
	mediaTimeout    time.Duration
}

// New builds a Handler. httpClient is used only to HEAD-validate
// candidate image URLs before a media send is attempted; pass nil to use
// http.DefaultClient. budgets bounds the backend round-trip and the
// transport send, per the gateway's suspension-point budgets.
func New(mediator *conversation.Mediator, lb *loadbalancer.LoadBalancer, mt transport.MessagingTransport, sink audit.Sink, logger *slog.Logger, httpClient *http.Client, budgets config.Budgets) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = audit.NilSink{}
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Handler{
		mediator:        mediator,
		lb:              lb,
		transport:       mt,
		sink:            sink,
		logger:          logger,
		httpClient:      httpClient,
		backendBudget:   budgets.Backend,
		transportBudget: budgets.Transport,
		mediaTimeout:    5 * time.Second,
	}
}

// Handle implements workqueue.Handler for JobTypeProcessMessage.
func (h *Handler) Handle(ctx context.Context, job workqueue.Job) error {
	var payload Payload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return gatewayerr.Wrap(gatewayerr.CodeSystemError, err)
	}

	start := time.Now()
	backendCtx, cancel := withBudget(ctx, h.backendBudget)
	defer cancel()
	reply, err := h.mediator.Send(backendCtx, payload.Sender, payload.Body)
	if err != nil {
		h.logError(ctx, "conversation_send", payload, err)
		return err
	}

	number, _, err := h.lb.Pick(ctx)
	if err != nil {
		h.logError(ctx, "loadbalancer_pick", payload, err)
		return err
	}

	cleanedText, mediaURL := h.resolveMedia(ctx, reply.Message)

	sid, sendErr := h.dispatch(ctx, number, payload.Sender, cleanedText, mediaURL)
	if sendErr != nil && mediaURL != "" && cleanedText != "" {
		// media sends can fail on vendor-side transcoding even after our
		// own HEAD check passed; fall back to text-only once before
		// surfacing the error for retry.
		h.logger.Warn("worker: media send failed, retrying text-only", "job_id", job.ID, "error", sendErr)
		sid, sendErr = h.dispatch(ctx, number, payload.Sender, cleanedText, "")
	}
	if sendErr != nil {
		h.logError(ctx, "transport_send", payload, sendErr)
		return sendErr
	}

	if err := h.lb.RecordDispatch(ctx, number); err != nil {
		h.logger.Warn("worker: failed to record dispatch", "number", number, "error", err)
	}

	if err := h.sink.LogMessage(ctx, audit.MessageLog{
		MessageID:        payload.MessageID,
		Sender:           payload.Sender,
		Recipient:        payload.Recipient,
		Body:             payload.Body,
		ReplyText:        reply.Message,
		ConversationID:   reply.ConversationID,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}); err != nil {
		h.logger.Warn("worker: failed to log message", "message_id", payload.MessageID, "error", err)
	}

	h.logger.Info("worker: processed message", "message_id", payload.MessageID, "sender", payload.Sender, "response_sid", sid)
	return nil
}

// dispatch sends body (with an optional media attachment) from number to
// sender, using the media-aware transport method only when mediaURL is
// set so a plain MessagingTransport stays a one-liner in the common case.
func (h *Handler) dispatch(ctx context.Context, number, sender, body, mediaURL string) (string, error) {
	ctx, cancel := withBudget(ctx, h.transportBudget)
	defer cancel()
	if mediaURL == "" {
		sid, err := h.transport.SendMessage(ctx, number, sender, body)
		if err != nil {
			return "", gatewayerr.Wrap(gatewayerr.CodeTransportError, err)
		}
		return sid, nil
	}
	sid, err := h.transport.SendMedia(ctx, number, sender, body, mediaURL)
	if err != nil {
		return "", gatewayerr.Wrap(gatewayerr.CodeTransportError, err)
	}
	return sid, nil
}

// resolveMedia extracts every image URL from answer and HEAD-validates
// each in turn, returning the first that passes. The reply text is always
// returned unchanged: MessagingTransport sends the body and any media
// attachment as separate fields, so there is nothing to strip.
func (h *Handler) resolveMedia(ctx context.Context, answer string) (text string, mediaURL string) {
	for _, candidate := range imageURLPattern.FindAllString(answer, -1) {
		if h.headOK(ctx, candidate) {
			return answer, candidate
		}
	}
	return answer, ""
}

func (h *Handler) headOK(ctx context.Context, url string) bool {
	headCtx, cancel := context.WithTimeout(ctx, h.mediaTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(headCtx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 300
}

func (h *Handler) logError(ctx context.Context, operation string, payload Payload, err error) {
	code := "UNKNOWN"
	if ge, ok := gatewayerr.As(err); ok {
		code = string(ge.Code)
	}
	if logErr := h.sink.LogError(ctx, audit.ErrorLog{
		Operation: operation,
		Code:      code,
		Message:   err.Error(),
		Context: map[string]any{
			"message_id": payload.MessageID,
			"sender":     payload.Sender,
		},
	}); logErr != nil {
		h.logger.Error("worker: failed to log error", "operation", operation, "error", logErr)
	}
	h.logger.Error("worker: job failed", "operation", operation, "message_id", payload.MessageID, "error", err)
}

// withBudget bounds ctx by d when d is positive, otherwise returns ctx
// unchanged (used in tests that don't configure budgets).
func withBudget(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

var _ workqueue.Handler = (*Handler)(nil)

// EnqueueProcessMessage is the producer-side helper the webhook ingress
// handler calls to schedule a job on the high-priority lane. It returns
// the generated job ID so the caller can report it as the webhook
// response's task_id.
func EnqueueProcessMessage(ctx context.Context, q *workqueue.Queue, payload Payload) (string, error) {
	id := workqueue.NewJobID()
	if err := q.EnqueueWithID(ctx, id, workqueue.High, JobTypeProcessMessage, payload); err != nil {
		return "", err
	}
	return id, nil
}
