// Package httpbackend is the HTTP-based conversation.Backend adapter for
// the downstream conversational AI service: it posts chat turns and
// looks up existing conversations over a JSON REST API, retrying
// transient failures with exponential backoff.
package httpbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/convobridge/gateway/conversation"
)

// Client implements conversation.Backend over the downstream chat API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries uint64
}

// New builds a Client. baseURL and apiKey come from config.Backend;
// timeout bounds every single attempt, not the whole retried call.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 3,
	}
}

type conversationsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Conversations returns the most recent conversation ID the backend has
// on file for user, or "" if it has none.
func (c *Client) Conversations(ctx context.Context, user string) (string, error) {
	var result conversationsResponse
	err := c.doWithRetry(ctx, http.MethodGet, "/conversations?user="+user, nil, &result)
	if err != nil {
		return "", err
	}
	if len(result.Data) == 0 {
		return "", nil
	}
	return result.Data[0].ID, nil
}

type chatRequest struct {
	Query          string         `json:"query"`
	User           string         `json:"user"`
	ConversationID string         `json:"conversation_id"`
	ResponseMode   string         `json:"response_mode"`
	Inputs         map[string]any `json:"inputs"`
}

type chatResponse struct {
	Answer                string         `json:"answer"`
	ConversationID        string         `json:"conversation_id"`
	NeedsAuthVerification bool           `json:"needs_auth_verification"`
	RequiredOperation     string         `json:"required_operation"`
	OperationData         map[string]any `json:"operation_data"`
}

// SendMessage posts one chat turn and returns the backend's reply.
func (c *Client) SendMessage(ctx context.Context, user, message, conversationID string) (conversation.Reply, error) {
	body := chatRequest{
		Query:          message,
		User:           user,
		ConversationID: conversationID,
		ResponseMode:   "blocking",
		Inputs:         map[string]any{},
	}

	var result chatResponse
	if err := c.doWithRetry(ctx, http.MethodPost, "/chat-messages", body, &result); err != nil {
		return conversation.Reply{}, err
	}

	return conversation.Reply{
		Message:               result.Answer,
		ConversationID:        result.ConversationID,
		NeedsAuthVerification: result.NeedsAuthVerification,
		RequiredOperation:     result.RequiredOperation,
		OperationData:         result.OperationData,
	}, nil
}

// doWithRetry issues one HTTP request, retrying transient failures
// (network errors, 5xx) up to maxRetries times with exponential
// backoff. A 4xx response is not retried.
func (c *Client) doWithRetry(ctx context.Context, method, path string, reqBody any, out any) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries)
	policy = backoff.WithContext(policy, ctx)

	return backoff.Retry(func() error {
		err := c.do(ctx, method, path, reqBody, out)
		if err == nil {
			return nil
		}
		if permErr, ok := err.(*permanentError); ok {
			return backoff.Permanent(permErr.cause)
		}
		return err
	}, policy)
}

// permanentError wraps a failure doWithRetry should not retry (a 4xx
// response from the backend).
type permanentError struct{ cause error }

func (p *permanentError) Error() string { return p.cause.Error() }

func (c *Client) do(ctx context.Context, method, path string, reqBody any, out any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return &permanentError{cause: err}
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return &permanentError{cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("httpbackend: %s %s: %d: %s", method, path, resp.StatusCode, respBody)
	}
	if resp.StatusCode >= 400 {
		return &permanentError{cause: fmt.Errorf("httpbackend: %s %s: %d: %s", method, path, resp.StatusCode, respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &permanentError{cause: err}
		}
	}
	return nil
}

// HealthCheck reports whether the backend is reachable.
func (c *Client) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

var _ conversation.Backend = (*Client)(nil)
