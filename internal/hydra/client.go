// Package hydra is the HTTP client for the Token Service, the OAuth2/OIDC
// authorization server. It covers the admin challenge API (login/consent
// handshakes), token introspection and revocation. Code exchange and
// refresh live in the tokens package on top of golang.org/x/oauth2.
package hydra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/merchantdash/auth-front/internal/config"
)

// LoginRequest is the pending login handshake identified by a login_challenge.
type LoginRequest struct {
	Challenge      string   `json:"challenge"`
	Skip           bool     `json:"skip"`
	Subject        string   `json:"subject"`
	RequestedScope []string `json:"requested_scope"`
	RequestURL     string   `json:"request_url"`
	Client         struct {
		ClientID string `json:"client_id"`
	} `json:"client"`
}

// ConsentRequest is the pending consent handshake identified by a consent_challenge.
type ConsentRequest struct {
	Challenge                    string   `json:"challenge"`
	Skip                         bool     `json:"skip"`
	Subject                      string   `json:"subject"`
	RequestedScope               []string `json:"requested_scope"`
	RequestedAccessTokenAudience []string `json:"requested_access_token_audience"`
	Client                       struct {
		ClientID string `json:"client_id"`
	} `json:"client"`
}

// AcceptLogin informs the Token Service of the resolved subject.
type AcceptLogin struct {
	Subject     string         `json:"subject"`
	Remember    bool           `json:"remember"`
	RememberFor int            `json:"remember_for"`
	Context     map[string]any `json:"context,omitempty"`
}

// AcceptConsent grants scopes and audience for a consent request.
type AcceptConsent struct {
	GrantScope               []string       `json:"grant_scope"`
	GrantAccessTokenAudience []string       `json:"grant_access_token_audience"`
	Remember                 bool           `json:"remember"`
	RememberFor              int            `json:"remember_for"`
	Session                  ConsentSession `json:"session"`
}

// ConsentSession carries claims into the issued tokens.
type ConsentSession struct {
	IDToken     map[string]any `json:"id_token,omitempty"`
	AccessToken map[string]any `json:"access_token,omitempty"`
}

// Introspection is the token introspection result (RFC 7662).
type Introspection struct {
	Active   bool   `json:"active"`
	Subject  string `json:"sub"`
	Scope    string `json:"scope"`
	ClientID string `json:"client_id"`
	Expiry   int64  `json:"exp"`
}

// Client calls the Token Service admin and revocation endpoints.
type Client struct {
	adminURL     string
	publicURL    string
	clientID     string
	clientSecret string
	http         *http.Client
}

// New creates a Token Service client from config.
func New(cfg config.HydraConfig) *Client {
	return &Client{
		adminURL:     strings.TrimRight(cfg.AdminURL, "/"),
		publicURL:    strings.TrimRight(cfg.PublicURL, "/"),
		clientID:     string(cfg.ClientID),
		clientSecret: string(cfg.ClientSecret),
		http:         &http.Client{Timeout: cfg.Timeout.Std()},
	}
}

// GetLoginRequest fetches the pending login request for a challenge.
func (c *Client) GetLoginRequest(ctx context.Context, challenge string) (*LoginRequest, error) {
	var lr LoginRequest
	if err := c.getJSON(ctx, "/admin/oauth2/auth/requests/login", "login_challenge", challenge, &lr); err != nil {
		return nil, fmt.Errorf("failed to fetch login request: %w", err)
	}
	return &lr, nil
}

// AcceptLoginRequest accepts a login challenge and returns the redirect
// target that resumes the authorization flow.
func (c *Client) AcceptLoginRequest(ctx context.Context, challenge string, accept AcceptLogin) (string, error) {
	redirect, err := c.putJSON(ctx, "/admin/oauth2/auth/requests/login/accept", "login_challenge", challenge, accept)
	if err != nil {
		return "", fmt.Errorf("failed to accept login request: %w", err)
	}
	return redirect, nil
}

// GetConsentRequest fetches the pending consent request for a challenge.
func (c *Client) GetConsentRequest(ctx context.Context, challenge string) (*ConsentRequest, error) {
	var cr ConsentRequest
	if err := c.getJSON(ctx, "/admin/oauth2/auth/requests/consent", "consent_challenge", challenge, &cr); err != nil {
		return nil, fmt.Errorf("failed to fetch consent request: %w", err)
	}
	return &cr, nil
}

// AcceptConsentRequest accepts a consent challenge and returns the
// redirect target that resumes the authorization flow.
func (c *Client) AcceptConsentRequest(ctx context.Context, challenge string, accept AcceptConsent) (string, error) {
	redirect, err := c.putJSON(ctx, "/admin/oauth2/auth/requests/consent/accept", "consent_challenge", challenge, accept)
	if err != nil {
		return "", fmt.Errorf("failed to accept consent request: %w", err)
	}
	return redirect, nil
}

// Introspect checks whether an access token is active.
func (c *Client) Introspect(ctx context.Context, token string) (*Introspection, error) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.adminURL+"/admin/oauth2/introspect", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("introspection returned status %d: %s", resp.StatusCode, body)
	}

	var result Introspection
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode introspection response: %w", err)
	}
	return &result, nil
}

// Revoke invalidates a token at the Token Service (RFC 7009). Callers
// treat failures as best-effort on logout.
func (c *Client) Revoke(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.publicURL+"/oauth2/revoke", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("revocation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("revocation returned status %d: %s", resp.StatusCode, body)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path, challengeParam, challenge string, out any) error {
	u := fmt.Sprintf("%s%s?%s=%s", c.adminURL, path, challengeParam, url.QueryEscape(challenge))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) putJSON(ctx context.Context, path, challengeParam, challenge string, body any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	u := fmt.Sprintf("%s%s?%s=%s", c.adminURL, path, challengeParam, url.QueryEscape(challenge))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, respBody)
	}

	var result struct {
		RedirectTo string `json:"redirect_to"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if result.RedirectTo == "" {
		return "", fmt.Errorf("response missing redirect_to")
	}
	return result.RedirectTo, nil
}
