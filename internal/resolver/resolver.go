// Package resolver determines the authenticated identity of an inbound
// request by trying an ordered list of credential sources. The identity
// session is the primary trust anchor; the OAuth2 access token is the
// stateless fallback for API-style callers.
package resolver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/merchantdash/auth-front/internal/cookie"
	"github.com/merchantdash/auth-front/internal/hydra"
	"github.com/merchantdash/auth-front/internal/identity"
	"github.com/merchantdash/auth-front/internal/log"
	"github.com/merchantdash/auth-front/internal/metrics"
	"github.com/merchantdash/auth-front/internal/tokens"
	"github.com/merchantdash/auth-front/internal/user"
)

// Source is one way of proving who the caller is. TryResolve returns
// (nil, nil) when the request simply carries no credential of this kind.
type Source interface {
	Name() string
	TryResolve(ctx context.Context, r *http.Request) (*user.User, error)
}

// Resolver tries sources in fixed priority order, short-circuiting on
// the first success. A failing source is skipped, not fatal: one
// unreachable upstream must not lock out callers holding the other
// credential kind.
type Resolver struct {
	sources []Source
}

// New creates a resolver over the given sources, tried in order.
func New(sources ...Source) *Resolver {
	return &Resolver{sources: sources}
}

// Resolve returns the resolved user, or nil when the request is not
// authenticated. Unauthenticated is a normal outcome, not an error.
func (res *Resolver) Resolve(ctx context.Context, r *http.Request) *user.User {
	for _, source := range res.sources {
		u, err := source.TryResolve(ctx, r)
		if err != nil {
			log.LogWarnWithFields("resolver", "Credential source failed, trying next", map[string]any{
				"source": source.Name(),
				"error":  err.Error(),
			})
			continue
		}
		if u != nil {
			metrics.ResolvedSessions.WithLabelValues(source.Name()).Inc()
			return u
		}
	}
	return nil
}

// IdentitySource resolves via the Identity Service browser session.
type IdentitySource struct {
	client *identity.Client
}

// NewIdentitySource creates the identity-session credential source.
func NewIdentitySource(client *identity.Client) *IdentitySource {
	return &IdentitySource{client: client}
}

func (s *IdentitySource) Name() string {
	return "identity-session"
}

// TryResolve forwards the full inbound cookie header to the whoami
// endpoint when any cookie carries the session marker.
func (s *IdentitySource) TryResolve(ctx context.Context, r *http.Request) (*user.User, error) {
	cookieHeader := r.Header.Get("Cookie")
	if !strings.Contains(cookieHeader, s.client.SessionCookieName()) {
		return nil, nil
	}

	session, err := s.client.WhoAmI(ctx, cookieHeader)
	if errors.Is(err, identity.ErrNoSession) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	u := session.User()
	return &u, nil
}

// TokenSource resolves via the access token cookie: introspection at
// the Token Service followed by a bearer userinfo lookup.
type TokenSource struct {
	hydra  *hydra.Client
	tokens *tokens.Manager
}

// NewTokenSource creates the access-token credential source.
func NewTokenSource(hydraClient *hydra.Client, tokenManager *tokens.Manager) *TokenSource {
	return &TokenSource{hydra: hydraClient, tokens: tokenManager}
}

func (s *TokenSource) Name() string {
	return "access-token"
}

func (s *TokenSource) TryResolve(ctx context.Context, r *http.Request) (*user.User, error) {
	token := cookie.Get(r, cookie.AccessTokenCookie)
	if token == "" {
		return nil, nil
	}

	introspection, err := s.hydra.Introspect(ctx, token)
	if err != nil {
		return nil, err
	}
	if !introspection.Active {
		return nil, nil
	}

	return s.tokens.UserInfo(ctx, token)
}
