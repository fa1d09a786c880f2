// Package keycloak adapts identity.Store to the Keycloak Admin REST API,
// grounded on keycloak_utils.py's admin client and
// ECitizenAuthService/KeycloakTokenManager's token caching.
package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/convobridge/gateway/gatewayerr"
	"github.com/convobridge/gateway/identity"
)

// Client is a identity.Store backed by a Keycloak realm's admin API. It
// owns its own admin access token, refreshing it ahead of expiry the way
// KeycloakTokenManager.get_valid_token does (minus the distributed lock —
// a process-local mutex is enough here, since a duplicate refresh just
// wastes one extra token request rather than corrupting shared state).
type Client struct {
	baseURL    string
	realm      string
	httpClient *http.Client

	oauthConfig *oauth2.Config
	adminUser   string
	adminPass   string

	mu    sync.Mutex
	token *oauth2.Token
}

// New builds a Client. baseURL is the Keycloak server root (e.g.
// https://auth.example.com), realm is the target realm for user
// operations, and clientID/adminUser/adminPass authenticate an admin
// session against the master realm via the resource-owner-password grant
// — the Go equivalent of the source's grant_type: "password" token call.
func New(baseURL, realm, clientID, adminUser, adminPass string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    baseURL,
		realm:      realm,
		httpClient: httpClient,
		adminUser:  adminUser,
		adminPass:  adminPass,
		oauthConfig: &oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{
				TokenURL: baseURL + "/realms/master/protocol/openid-connect/token",
			},
		},
	}
}

// validToken returns a cached admin token with at least 30s left on its
// lifetime, refreshing it otherwise.
func (c *Client) validToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != nil && c.token.Expiry.After(time.Now().Add(30*time.Second)) {
		return c.token.AccessToken, nil
	}

	tok, err := c.oauthConfig.PasswordCredentialsToken(ctx, c.adminUser, c.adminPass)
	if err != nil {
		return "", gatewayerr.Wrap(gatewayerr.CodeIdentityError, err)
	}
	c.token = tok
	return tok.AccessToken, nil
}

// keycloakUser is the subset of the admin API's user representation the
// gateway reads or writes.
type keycloakUser struct {
	ID              string         `json:"id,omitempty"`
	Username        string         `json:"username,omitempty"`
	Email           string         `json:"email,omitempty"`
	FirstName       string         `json:"firstName,omitempty"`
	LastName        string         `json:"lastName,omitempty"`
	Enabled         bool           `json:"enabled"`
	EmailVerified   bool           `json:"emailVerified"`
	Attributes      map[string]any `json:"attributes,omitempty"`
	RequiredActions []string       `json:"requiredActions"`
}

func (u *keycloakUser) toIdentityUser() *identity.User {
	phone := ""
	if raw, ok := u.Attributes["phoneNumber"]; ok {
		if vals, ok := raw.([]any); ok && len(vals) > 0 {
			if s, ok := vals[0].(string); ok {
				phone = s
			}
		}
	}
	return &identity.User{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		Phone:      phone,
		Enabled:    u.Enabled,
		Attributes: u.Attributes,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	token, err := c.validToken(ctx)
	if err != nil {
		return err
	}

	reqURL := fmt.Sprintf("%s/admin/realms/%s%s", c.baseURL, c.realm, path)
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var bodyReader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return gatewayerr.Wrap(gatewayerr.CodeIdentityError, err)
		}
		bodyReader = bytes.NewReader(encoded)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.CodeIdentityError, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.CodeNetworkError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return gatewayerr.Newf(gatewayerr.CodeIdentityError, "keycloak admin API %s %s returned %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetUserByEmail mirrors keycloak_utils.get_user: an exact-match email
// search, returning the first hit.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (*identity.User, error) {
	var users []keycloakUser
	if err := c.do(ctx, http.MethodGet, "/users", url.Values{"email": {email}}, nil, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return users[0].toIdentityUser(), nil
}

// GetUserByPhone mirrors keycloak_utils.get_user_by_phone, which searches
// the free-text attribute index with Keycloak's "q" search parameter
// rather than a dedicated phone field.
func (c *Client) GetUserByPhone(ctx context.Context, phone string) (*identity.User, error) {
	var users []keycloakUser
	q := url.Values{"q": {"phoneNumber:" + phone}}
	if err := c.do(ctx, http.MethodGet, "/users", q, nil, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return users[0].toIdentityUser(), nil
}

// CreateUserWithPhone mirrors register_user_with_keycloak: the new user
// starts disabled and unverified until the registration sequence's
// email-verification step completes.
func (c *Client) CreateUserWithPhone(ctx context.Context, phone string, attributes map[string]any) (*identity.User, error) {
	merged := make(map[string]any, len(attributes)+1)
	for k, v := range attributes {
		merged[k] = v
	}
	merged["phoneNumber"] = []string{phone}

	payload := keycloakUser{
		Username:        phone,
		Enabled:         false,
		EmailVerified:   false,
		Attributes:      merged,
		RequiredActions: []string{},
	}
	if email, ok := attributes["email"].(string); ok {
		payload.Email = email
	}

	if err := c.do(ctx, http.MethodPost, "/users", nil, payload, nil); err != nil {
		return nil, err
	}
	return c.GetUserByPhone(ctx, phone)
}

// MarkEmailVerified mirrors keycloak_utils.enable: flips a user to
// enabled and email-verified once the OTP step succeeds.
func (c *Client) MarkEmailVerified(ctx context.Context, userID string) error {
	patch := map[string]any{
		"enabled":         true,
		"emailVerified":   true,
		"requiredActions": []string{},
	}
	return c.do(ctx, http.MethodPut, "/users/"+userID, nil, patch, nil)
}

var _ identity.Store = (*Client)(nil)
