package webhookapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/convobridge/gateway/audit"
	"github.com/convobridge/gateway/gatewayerr"
	"github.com/convobridge/gateway/transport"
	"github.com/convobridge/gateway/worker"
)

// handleWebhook is the vendor webhook ingress: verify the signature,
// dedupe by message SID, rate limit by caller IP, persist the request
// log, and hand the message off to the worker's high-priority lane.
// Grounded on app/webhooks/message_webhook.py's webhook view.
func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		writeError(w, "webhook_ingress", gatewayerr.New(gatewayerr.CodeInvalidData))
		return
	}

	if !transport.VerifyRequest(a.verifier, r, requestURL(r), r.PostForm) {
		writeForbidden(w, "webhook_signature", "invalid transport signature")
		return
	}

	ip := clientIP(r, a.cfgProvider.Get().Server.ClientIpProxyHeader)
	if !a.checkRateLimit(ctx, w, "webhook_ip", ip) {
		return
	}

	messageID := r.PostForm.Get("MessageSid")
	sender := r.PostForm.Get("From")
	recipient := r.PostForm.Get("To")
	body := r.PostForm.Get("Body")
	numMedia, _ := strconv.Atoi(r.PostForm.Get("NumMedia"))

	cacheKey := "message:sid:" + messageID
	acquired, err := a.store.SetNX(ctx, cacheKey, "1", a.cfgProvider.Get().TTL.Idempotency)
	if err != nil {
		writeError(w, "webhook_idempotency", gatewayerr.Wrap(gatewayerr.CodeKVError, err))
		return
	}
	if !acquired {
		writeJSON(w, http.StatusOK, map[string]string{"status": "success", "detail": "Duplicate message"})
		return
	}

	receivedAt := time.Now().UTC().Format(time.RFC3339)
	logRequest := func(status int) {
		if err := a.sink.LogRequest(ctx, audit.RequestLog{
			MessageID:  messageID,
			Sender:     sender,
			Recipient:  recipient,
			Body:       body,
			MediaCount: numMedia,
			StatusCode: status,
			ReceivedAt: receivedAt,
		}); err != nil {
			a.logger.Warn("webhookapi: failed to log request", "message_id", messageID, "error", err)
		}
	}
	logRequest(http.StatusAccepted)

	taskID, err := worker.EnqueueProcessMessage(ctx, a.queue, worker.Payload{
		MessageID: messageID,
		Sender:    sender,
		Recipient: recipient,
		Body:      body,
	})
	if err != nil {
		logRequest(http.StatusInternalServerError)
		if logErr := a.sink.LogError(ctx, audit.ErrorLog{
			Operation: "webhook_enqueue",
			Code:      string(gatewayerr.CodeSystemError),
			Message:   err.Error(),
			Context:   map[string]any{"message_id": messageID},
		}); logErr != nil {
			a.logger.Error("webhookapi: failed to log enqueue error", "error", logErr)
		}
		writeError(w, "webhook_enqueue", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "task_id": taskID})
}

// requestURL reconstructs the absolute URL the vendor's signature was
// computed against. The gateway is expected to sit directly behind TLS
// termination that forwards the original scheme; when r.TLS is nil this
// assumes plain HTTP, matching local/dev deployments.
func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
