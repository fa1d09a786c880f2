// Package twilio is the concrete MessagingTransport adapter for a
// Twilio-shaped messaging API, grounded on the vendor REST message-send
// endpoint rather than the vendor SDK.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/convobridge/gateway/gatewayerr"
	"github.com/convobridge/gateway/transport"
)

const apiBase = "https://api.twilio.com/2010-04-01"

// Client sends outbound messages through the vendor's Messages REST
// resource using HTTP basic auth (account SID / auth token).
type Client struct {
	accountSID string
	authToken  string
	httpClient *http.Client
	baseURL    string
}

// New builds a Client authenticated with the transport account's SID
// and auth token.
func New(accountSID, authToken string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{accountSID: accountSID, authToken: authToken, httpClient: httpClient, baseURL: apiBase}
}

// NewWithBaseURL builds a Client against a non-default API base, for
// tests and regional endpoints.
func NewWithBaseURL(accountSID, authToken, baseURL string, httpClient *http.Client) *Client {
	c := New(accountSID, authToken, httpClient)
	c.baseURL = baseURL
	return c
}

type sendResponse struct {
	SID          string `json:"sid"`
	ErrorMessage string `json:"error_message"`
	ErrorCode    int    `json:"error_code"`
}

// SendMessage posts body from "from" to "to" and returns the vendor's
// message SID.
func (c *Client) SendMessage(ctx context.Context, from, to, body string) (string, error) {
	return c.send(ctx, from, to, body, "")
}

// SendMedia posts body plus a single MediaUrl attachment from "from" to
// "to" and returns the vendor's message SID.
func (c *Client) SendMedia(ctx context.Context, from, to, body, mediaURL string) (string, error) {
	return c.send(ctx, from, to, body, mediaURL)
}

func (c *Client) send(ctx context.Context, from, to, body, mediaURL string) (string, error) {
	toFormatted, err := transport.FormatNumber(to, true)
	if err != nil {
		return "", err
	}
	fromFormatted, err := transport.FormatNumber(from, true)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("To", toFormatted)
	form.Set("From", fromFormatted)
	form.Set("Body", body)
	if mediaURL != "" {
		form.Set("MediaUrl", mediaURL)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", gatewayerr.Wrap(gatewayerr.CodeTransportError, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", gatewayerr.Wrap(gatewayerr.CodeTransportError, err)
	}
	defer resp.Body.Close()

	var decoded sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", gatewayerr.Wrap(gatewayerr.CodeTransportError, err)
	}

	if resp.StatusCode >= 300 {
		return "", gatewayerr.Newf(gatewayerr.CodeTransportError, "transport rejected message: %s (code %d)", decoded.ErrorMessage, decoded.ErrorCode)
	}
	return decoded.SID, nil
}

var _ transport.MessagingTransport = (*Client)(nil)
