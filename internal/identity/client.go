// Package identity is the HTTP client for the Identity Service, the
// session provider that owns user identities and browser sessions.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/merchantdash/auth-front/internal/config"
	"github.com/merchantdash/auth-front/internal/user"
)

// ErrNoSession indicates the inbound cookies carry no active identity session.
var ErrNoSession = errors.New("no active identity session")

// Traits are the identity attributes owned by the Identity Service.
type Traits struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
	GivenName     string `json:"givenName"`
	FamilyName    string `json:"familyName"`
	Avatar        string `json:"avatar"`
}

// Identity is the identity record referenced by a session.
type Identity struct {
	ID             string `json:"id"`
	Traits         Traits `json:"traits"`
	MetadataPublic struct {
		Roles []string `json:"roles"`
	} `json:"metadata_public"`
}

// Session is the whoami response for an active browser session.
type Session struct {
	ID       string   `json:"id"`
	Active   bool     `json:"active"`
	Identity Identity `json:"identity"`
}

// User projects the session identity onto the broker's user record.
func (s *Session) User() user.User {
	roles := s.Identity.MetadataPublic.Roles
	if roles == nil {
		roles = []string{}
	}
	return user.User{
		ID:            s.Identity.ID,
		Email:         s.Identity.Traits.Email,
		EmailVerified: s.Identity.Traits.EmailVerified,
		FirstName:     s.Identity.Traits.GivenName,
		LastName:      s.Identity.Traits.FamilyName,
		Avatar:        s.Identity.Traits.Avatar,
		Roles:         roles,
	}
}

// Client calls the Identity Service public API.
type Client struct {
	baseURL           string
	loginURL          string
	sessionCookieName string
	http              *http.Client
}

// New creates an Identity Service client from config.
func New(cfg config.IdentityConfig) *Client {
	return &Client{
		baseURL:           cfg.PublicURL,
		loginURL:          cfg.LoginURL,
		sessionCookieName: cfg.SessionCookieName,
		http:              &http.Client{Timeout: cfg.Timeout.Std()},
	}
}

// SessionCookieName returns the cookie name that marks an identity session.
func (c *Client) SessionCookieName() string {
	return c.sessionCookieName
}

// WhoAmI checks the inbound cookie header against the Identity Service.
// The cookie header must be forwarded byte-for-byte: cookie scoping is
// domain and path sensitive, so reassembling it can drop the session.
func (c *Client) WhoAmI(ctx context.Context, cookieHeader string) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sessions/whoami", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build whoami request: %w", err)
	}
	req.Header.Set("Cookie", cookieHeader)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whoami request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrNoSession
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("whoami returned status %d: %s", resp.StatusCode, body)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode whoami response: %w", err)
	}
	if !session.Active || session.Identity.ID == "" {
		return nil, ErrNoSession
	}

	return &session, nil
}

// LoginRedirectURL builds the hosted login page URL, propagating returnTo
// so the in-flight authorization can resume after the user signs in.
func (c *Client) LoginRedirectURL(returnTo string) string {
	u, err := url.Parse(c.loginURL)
	if err != nil {
		return c.loginURL
	}
	q := u.Query()
	q.Set("return_to", returnTo)
	u.RawQuery = q.Encode()
	return u.String()
}

// Logout destroys the identity session referenced by the inbound cookies.
// Callers treat failures as best-effort: local cookie deletion must never
// be blocked by a remote outage.
func (c *Client) Logout(ctx context.Context, cookieHeader string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/self-service/logout", nil)
	if err != nil {
		return fmt.Errorf("failed to build logout request: %w", err)
	}
	req.Header.Set("Cookie", cookieHeader)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusUnauthorized {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("logout returned status %d: %s", resp.StatusCode, body)
	}
	return nil
}

// Recover asks the Identity Service to send a password recovery email.
func (c *Client) Recover(ctx context.Context, email string) error {
	return c.postJSON(ctx, "/self-service/recovery", "", map[string]string{"email": email})
}

// ResendVerification asks the Identity Service to re-send the address
// verification email.
func (c *Client) ResendVerification(ctx context.Context, email string) error {
	return c.postJSON(ctx, "/self-service/verification", "", map[string]string{"email": email})
}

// SetTwoFactor toggles the second factor on the identity referenced by
// the inbound session cookies.
func (c *Client) SetTwoFactor(ctx context.Context, cookieHeader string, enabled bool) error {
	return c.postJSON(ctx, "/self-service/settings/totp", cookieHeader, map[string]bool{"enabled": enabled})
}

func (c *Client) postJSON(ctx context.Context, path, cookieHeader string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cookieHeader != "" {
		req.Header.Set("Cookie", cookieHeader)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, respBody)
	}
	return nil
}
