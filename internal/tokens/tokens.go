// Package tokens manages the OAuth2 token pair lifecycle: code exchange,
// refresh and bearer userinfo lookups against the Token Service.
package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/merchantdash/auth-front/internal/config"
	"github.com/merchantdash/auth-front/internal/user"
	"golang.org/x/oauth2"
)

// Pair is the token pair issued by the Token Service.
type Pair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// ExchangeError indicates the token endpoint did not produce a usable
// access token.
type ExchangeError struct {
	Err error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed: %v", e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// Manager drives the token endpoints of the Token Service.
type Manager struct {
	conf        *oauth2.Config
	userInfoURL string
	timeout     time.Duration
}

// NewManager creates a token lifecycle manager from config.
func NewManager(cfg config.HydraConfig) *Manager {
	return &Manager{
		conf: &oauth2.Config{
			ClientID:     string(cfg.ClientID),
			ClientSecret: string(cfg.ClientSecret),
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.PublicURL + "/oauth2/auth",
				TokenURL: cfg.PublicURL + "/oauth2/token",
			},
		},
		userInfoURL: cfg.PublicURL + "/userinfo",
		timeout:     cfg.Timeout.Std(),
	}
}

// AuthCodeURL builds the authorization URL with the S256 challenge
// derived from verifier.
func (m *Manager) AuthCodeURL(state, verifier string) string {
	return m.conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)
}

// Exchange swaps an authorization code plus its PKCE verifier for a
// token pair.
func (m *Manager) Exchange(ctx context.Context, code, verifier, redirectURI string) (*Pair, error) {
	opts := []oauth2.AuthCodeOption{oauth2.VerifierOption(verifier)}
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}

	token, err := m.conf.Exchange(m.clientContext(ctx), code, opts...)
	if err != nil {
		return nil, &ExchangeError{Err: err}
	}
	if token.AccessToken == "" {
		return nil, &ExchangeError{Err: fmt.Errorf("response missing access_token")}
	}

	return pairFromToken(token), nil
}

// Refresh swaps a refresh token for a fresh pair. On failure the caller
// must drop both cookies: a failed refresh invalidates the whole pair.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*Pair, error) {
	source := m.conf.TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token refresh returned no access_token")
	}

	return pairFromToken(token), nil
}

// UserInfo fetches OIDC claims with the access token as bearer credential.
func (m *Manager) UserInfo(ctx context.Context, accessToken string) (*user.User, error) {
	client := oauth2.NewClient(m.clientContext(ctx),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build userinfo request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("userinfo returned status %d: %s", resp.StatusCode, body)
	}

	var claims struct {
		Sub           string   `json:"sub"`
		Email         string   `json:"email"`
		EmailVerified bool     `json:"email_verified"`
		GivenName     string   `json:"given_name"`
		FamilyName    string   `json:"family_name"`
		Picture       string   `json:"picture"`
		Roles         []string `json:"roles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo response: %w", err)
	}

	roles := claims.Roles
	if roles == nil {
		roles = []string{}
	}
	return &user.User{
		ID:            claims.Sub,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		FirstName:     claims.GivenName,
		LastName:      claims.FamilyName,
		Avatar:        claims.Picture,
		Roles:         roles,
	}, nil
}

// clientContext injects a bounded HTTP client so no token call outlives
// the configured upstream timeout.
func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: m.timeout})
}

func pairFromToken(token *oauth2.Token) *Pair {
	expiresIn := time.Duration(token.ExpiresIn) * time.Second
	if expiresIn <= 0 && !token.Expiry.IsZero() {
		expiresIn = time.Until(token.Expiry)
	}
	return &Pair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    expiresIn,
	}
}
