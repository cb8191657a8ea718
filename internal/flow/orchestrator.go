// Package flow drives the three-party authorization handshake between
// the browser, the Identity Service and the Token Service. Each handler
// entry point maps to one edge of an explicit state machine so the
// cookie invariants of every step can be checked independently.
package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/merchantdash/auth-front/internal/cookie"
	"github.com/merchantdash/auth-front/internal/hydra"
	"github.com/merchantdash/auth-front/internal/identity"
	"github.com/merchantdash/auth-front/internal/log"
	"github.com/merchantdash/auth-front/internal/pkce"
	"github.com/merchantdash/auth-front/internal/tokens"
	"github.com/merchantdash/auth-front/internal/user"
)

// ErrChallengeMismatch covers both state and verifier mismatches at the
// callback. Callers must surface it with generic detail only: revealing
// which check failed would give a CSRF oracle.
var ErrChallengeMismatch = errors.New("challenge verification failed")

// loginRememberSeconds bounds how long the Token Service remembers an
// accepted login before forcing the handshake again.
const loginRememberSeconds = 3600

// Orchestrator coordinates the authorization code flow.
type Orchestrator struct {
	identity *identity.Client
	hydra    *hydra.Client
	tokens   *tokens.Manager
}

// New creates an orchestrator over the two upstream clients and the
// token manager.
func New(identityClient *identity.Client, hydraClient *hydra.Client, tokenManager *tokens.Manager) *Orchestrator {
	return &Orchestrator{
		identity: identityClient,
		hydra:    hydraClient,
		tokens:   tokenManager,
	}
}

// Authorization is the outcome of Begin: the redirect target plus the
// ephemeral values the challenge cookie store must hold until callback.
type Authorization struct {
	AuthURL   string
	Challenge cookie.Challenge
}

// Begin mints a fresh PKCE pair and state token and builds the
// authorization URL. IDLE -> PENDING_AUTHORIZATION.
func (o *Orchestrator) Begin(returnTo string) (*Authorization, error) {
	if _, err := advance(StateIdle, StatePendingAuthorization); err != nil {
		return nil, err
	}

	verifier, err := pkce.GenerateVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate verifier: %w", err)
	}
	state, err := pkce.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	if returnTo == "" {
		returnTo = "/"
	}

	log.LogDebugWithFields("flow", "Authorization started", map[string]any{
		"returnTo": returnTo,
	})

	return &Authorization{
		AuthURL: o.tokens.AuthCodeURL(state, verifier),
		Challenge: cookie.Challenge{
			Verifier: verifier,
			State:    state,
			ReturnTo: returnTo,
		},
	}, nil
}

// LoginOutcome is the result of handling a login challenge: either a
// redirect back into the Token Service flow, or a detour to the hosted
// login page when no identity session exists yet.
type LoginOutcome struct {
	RedirectTo string
	NeedsLogin bool
}

// HandleLoginChallenge resolves the inbound identity session and accepts
// the login challenge, or sends the user to the hosted login page with
// the current URL as return target so the same challenge can resume.
// PENDING_AUTHORIZATION -> AWAITING_LOGIN_CHALLENGE.
func (o *Orchestrator) HandleLoginChallenge(ctx context.Context, challenge, cookieHeader, currentURL string) (*LoginOutcome, error) {
	if _, err := advance(StatePendingAuthorization, StateAwaitingLoginChallenge); err != nil {
		return nil, err
	}

	session, err := o.identity.WhoAmI(ctx, cookieHeader)
	if errors.Is(err, identity.ErrNoSession) {
		log.LogDebugWithFields("flow", "No identity session, deferring to hosted login", map[string]any{
			"challenge": challenge,
		})
		return &LoginOutcome{
			RedirectTo: o.identity.LoginRedirectURL(currentURL),
			NeedsLogin: true,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity session lookup failed: %w", err)
	}

	redirect, err := o.hydra.AcceptLoginRequest(ctx, challenge, hydra.AcceptLogin{
		Subject:     session.Identity.ID,
		Remember:    true,
		RememberFor: loginRememberSeconds,
		Context: map[string]any{
			"email":          session.Identity.Traits.Email,
			"email_verified": session.Identity.Traits.EmailVerified,
		},
	})
	if err != nil {
		return nil, err
	}

	log.LogInfoWithFields("flow", "Login challenge accepted", map[string]any{
		"subject": session.Identity.ID,
	})

	return &LoginOutcome{RedirectTo: redirect}, nil
}

// HandleConsentChallenge fetches the pending consent request and grants
// exactly the scopes that were requested, with the token audience limited
// to what the requesting client asked for.
// AWAITING_LOGIN_CHALLENGE -> AWAITING_CONSENT_CHALLENGE.
func (o *Orchestrator) HandleConsentChallenge(ctx context.Context, challenge string) (string, error) {
	if _, err := advance(StateAwaitingLoginChallenge, StateAwaitingConsentChallenge); err != nil {
		return "", err
	}

	consent, err := o.hydra.GetConsentRequest(ctx, challenge)
	if err != nil {
		return "", err
	}

	redirect, err := o.hydra.AcceptConsentRequest(ctx, challenge, hydra.AcceptConsent{
		GrantScope:               consent.RequestedScope,
		GrantAccessTokenAudience: consent.RequestedAccessTokenAudience,
		Remember:                 true,
		RememberFor:              loginRememberSeconds,
	})
	if err != nil {
		return "", err
	}

	log.LogInfoWithFields("flow", "Consent challenge accepted", map[string]any{
		"subject":      consent.Subject,
		"grantedScope": consent.RequestedScope,
	})

	return redirect, nil
}

// Callback is the client-submitted payload closing the flow.
type Callback struct {
	Code        string
	Verifier    string
	RedirectURI string
	State       string
}

// Result is the authenticated terminal state of a flow.
type Result struct {
	Pair     *tokens.Pair
	User     *user.User
	ReturnTo string
}

// Complete validates the callback against the stored challenge, exchanges
// the code and fetches the user. AWAITING_CODE -> EXCHANGING ->
// AUTHENTICATED. The caller owns clearing the challenge cookies; that
// must happen whether or not an error is returned.
func (o *Orchestrator) Complete(ctx context.Context, cb Callback, stored cookie.Challenge) (*Result, error) {
	state := StateAwaitingCode

	if stored.State == "" || stored.Verifier == "" {
		return nil, fmt.Errorf("%w: no challenge in flight", ErrChallengeMismatch)
	}
	if !pkce.Equal(cb.State, stored.State) {
		return nil, fmt.Errorf("%w: state mismatch", ErrChallengeMismatch)
	}
	if !pkce.Equal(cb.Verifier, stored.Verifier) {
		return nil, fmt.Errorf("%w: verifier mismatch", ErrChallengeMismatch)
	}

	state, err := advance(state, StateExchanging)
	if err != nil {
		return nil, err
	}

	pair, err := o.tokens.Exchange(ctx, cb.Code, cb.Verifier, cb.RedirectURI)
	if err != nil {
		return nil, err
	}

	resolved, err := o.tokens.UserInfo(ctx, pair.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user after exchange: %w", err)
	}

	if _, err := advance(state, StateAuthenticated); err != nil {
		return nil, err
	}

	returnTo := stored.ReturnTo
	if returnTo == "" {
		returnTo = "/"
	}

	log.LogInfoWithFields("flow", "Authorization flow completed", map[string]any{
		"subject":  resolved.ID,
		"returnTo": returnTo,
	})

	return &Result{
		Pair:     pair,
		User:     resolved,
		ReturnTo: returnTo,
	}, nil
}
