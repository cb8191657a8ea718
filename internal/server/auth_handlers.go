package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/merchantdash/auth-front/internal/cookie"
	"github.com/merchantdash/auth-front/internal/flow"
	"github.com/merchantdash/auth-front/internal/hydra"
	"github.com/merchantdash/auth-front/internal/identity"
	jsonwriter "github.com/merchantdash/auth-front/internal/json"
	"github.com/merchantdash/auth-front/internal/log"
	"github.com/merchantdash/auth-front/internal/metrics"
	"github.com/merchantdash/auth-front/internal/resolver"
	"github.com/merchantdash/auth-front/internal/tokens"
	"github.com/merchantdash/auth-front/internal/user"
)

// AuthHandlers provides the broker's OAuth and session HTTP handlers.
type AuthHandlers struct {
	orchestrator *flow.Orchestrator
	resolver     *resolver.Resolver
	identity     *identity.Client
	hydra        *hydra.Client
	tokens       *tokens.Manager
	baseURL      string
}

// NewAuthHandlers creates the handlers with their dependencies.
func NewAuthHandlers(
	orchestrator *flow.Orchestrator,
	sessionResolver *resolver.Resolver,
	identityClient *identity.Client,
	hydraClient *hydra.Client,
	tokenManager *tokens.Manager,
	baseURL string,
) *AuthHandlers {
	return &AuthHandlers{
		orchestrator: orchestrator,
		resolver:     sessionResolver,
		identity:     identityClient,
		hydra:        hydraClient,
		tokens:       tokenManager,
		baseURL:      strings.TrimRight(baseURL, "/"),
	}
}

// AuthorizeHandler starts the authorization code flow: mints the PKCE
// values, stores them in the challenge cookies and redirects to the
// Token Service.
func (h *AuthHandlers) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	returnTo := r.URL.Query().Get("return_to")
	if !isSafeReturnPath(returnTo) {
		returnTo = "/"
	}

	auth, err := h.orchestrator.Begin(returnTo)
	if err != nil {
		log.LogError("Failed to start authorization flow: %v", err)
		jsonwriter.WriteInternalServerError(w, "Failed to start authorization")
		return
	}

	cookie.SetChallenge(w, auth.Challenge)
	http.Redirect(w, r, auth.AuthURL, http.StatusFound)
}

// HydraLoginHandler handles the login challenge leg of the handshake.
func (h *AuthHandlers) HydraLoginHandler(w http.ResponseWriter, r *http.Request) {
	challenge := r.URL.Query().Get("login_challenge")
	if challenge == "" {
		jsonwriter.WriteBadRequest(w, "Missing login_challenge")
		return
	}

	currentURL := h.baseURL + r.URL.RequestURI()
	outcome, err := h.orchestrator.HandleLoginChallenge(r.Context(), challenge, r.Header.Get("Cookie"), currentURL)
	if err != nil {
		log.LogErrorWithFields("auth", "Login challenge failed", map[string]any{
			"error": err.Error(),
		})
		metrics.FlowOutcomes.WithLabelValues("upstream_error").Inc()
		cookie.ClearChallenge(w)
		jsonwriter.WriteInternalServerError(w, "Authorization failed")
		return
	}

	http.Redirect(w, r, outcome.RedirectTo, http.StatusFound)
}

// HydraConsentHandler handles the consent challenge leg of the handshake.
func (h *AuthHandlers) HydraConsentHandler(w http.ResponseWriter, r *http.Request) {
	challenge := r.URL.Query().Get("consent_challenge")
	if challenge == "" {
		jsonwriter.WriteBadRequest(w, "Missing consent_challenge")
		return
	}

	redirect, err := h.orchestrator.HandleConsentChallenge(r.Context(), challenge)
	if err != nil {
		log.LogErrorWithFields("auth", "Consent challenge failed", map[string]any{
			"error": err.Error(),
		})
		metrics.FlowOutcomes.WithLabelValues("upstream_error").Inc()
		cookie.ClearChallenge(w)
		jsonwriter.WriteInternalServerError(w, "Authorization failed")
		return
	}

	http.Redirect(w, r, redirect, http.StatusFound)
}

type callbackRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
	RedirectURI  string `json:"redirect_uri"`
	State        string `json:"state"`
}

type callbackResponse struct {
	Success      bool       `json:"success"`
	User         *user.User `json:"user"`
	ReturnTo     string     `json:"returnTo"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresIn    int        `json:"expires_in"`
}

// CallbackHandler closes the flow: the challenge cookies are consumed on
// every path, success and failure alike, so a challenge can never be
// replayed.
func (h *AuthHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	stored := cookie.TakeChallenge(w, r)

	var body callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonwriter.WriteBadRequest(w, "Invalid request body")
		return
	}
	if body.Code == "" || body.CodeVerifier == "" || body.State == "" {
		jsonwriter.WriteBadRequest(w, "Missing required fields")
		return
	}

	result, err := h.orchestrator.Complete(r.Context(), flow.Callback{
		Code:        body.Code,
		Verifier:    body.CodeVerifier,
		RedirectURI: body.RedirectURI,
		State:       body.State,
	}, stored)
	if err != nil {
		// The client only ever sees "invalid request" grade detail:
		// distinguishing the failed check would hand an oracle to a
		// CSRF attacker.
		if errors.Is(err, flow.ErrChallengeMismatch) {
			log.LogWarnWithFields("auth", "Callback challenge mismatch", map[string]any{
				"error": err.Error(),
			})
			metrics.FlowOutcomes.WithLabelValues("csrf_mismatch").Inc()
			jsonwriter.WriteBadRequest(w, "Invalid request")
			return
		}

		var exchangeErr *tokens.ExchangeError
		if errors.As(err, &exchangeErr) {
			log.LogErrorWithFields("auth", "Code exchange failed", map[string]any{
				"error": err.Error(),
			})
			metrics.FlowOutcomes.WithLabelValues("exchange_failed").Inc()
			jsonwriter.WriteInternalServerError(w, "Authentication failed")
			return
		}

		log.LogErrorWithFields("auth", "Callback failed", map[string]any{
			"error": err.Error(),
		})
		metrics.FlowOutcomes.WithLabelValues("upstream_error").Inc()
		jsonwriter.WriteInternalServerError(w, "Authentication failed")
		return
	}

	cookie.SetTokens(w, result.Pair.AccessToken, result.Pair.RefreshToken, result.Pair.ExpiresIn)
	metrics.FlowOutcomes.WithLabelValues("completed").Inc()

	_ = jsonwriter.Write(w, callbackResponse{
		Success:      true,
		User:         result.User,
		ReturnTo:     result.ReturnTo,
		AccessToken:  result.Pair.AccessToken,
		RefreshToken: result.Pair.RefreshToken,
		ExpiresIn:    int(result.Pair.ExpiresIn.Seconds()),
	})
}

// RefreshHandler rotates the token pair from the refresh token cookie.
// A missing refresh cookie is a soft miss, not an error: the caller may
// be on an identity-session-only login.
func (h *AuthHandlers) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	refreshToken := cookie.Get(r, cookie.RefreshTokenCookie)
	if refreshToken == "" {
		_ = jsonwriter.Write(w, map[string]any{
			"success": false,
			"message": "No refresh token available",
		})
		return
	}

	pair, err := h.tokens.Refresh(r.Context(), refreshToken)
	if err != nil {
		// A failed refresh invalidates the whole pair. Fail closed.
		log.LogWarnWithFields("auth", "Token refresh failed, clearing token cookies", map[string]any{
			"error": err.Error(),
		})
		cookie.ClearTokens(w)
		jsonwriter.WriteInternalServerError(w, "Token refresh failed")
		return
	}

	cookie.SetTokens(w, pair.AccessToken, pair.RefreshToken, pair.ExpiresIn)

	_ = jsonwriter.Write(w, map[string]any{
		"success":       true,
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_in":    int(pair.ExpiresIn.Seconds()),
	})
}

// OAuthMeHandler resolves the bearer token from the Authorization header.
func (h *AuthHandlers) OAuthMeHandler(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		jsonwriter.WriteUnauthorized(w, "Missing bearer token")
		return
	}

	resolved, err := h.tokens.UserInfo(r.Context(), token)
	if err != nil {
		log.LogDebugWithFields("auth", "Bearer token rejected", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteUnauthorized(w, "Invalid token")
		return
	}

	_ = jsonwriter.Write(w, map[string]any{
		"success": true,
		"user":    resolved,
	})
}

// MeHandler resolves the session from cookies. Not being authenticated
// is a normal outcome, never an error status.
func (h *AuthHandlers) MeHandler(w http.ResponseWriter, r *http.Request) {
	resolved := h.resolver.Resolve(r.Context(), r)

	_ = jsonwriter.Write(w, map[string]any{
		"success":         true,
		"user":            resolved,
		"isAuthenticated": resolved != nil,
	})
}

// LogoutHandler revokes upstream credentials best-effort and clears the
// token cookies unconditionally. Local logout never depends on a remote
// outage.
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if cookieHeader := r.Header.Get("Cookie"); cookieHeader != "" {
		if err := h.identity.Logout(ctx, cookieHeader); err != nil {
			log.LogWarnWithFields("auth", "Identity logout failed", map[string]any{
				"error": err.Error(),
			})
		}
	}

	for _, name := range []string{cookie.AccessTokenCookie, cookie.RefreshTokenCookie} {
		if token := cookie.Get(r, name); token != "" {
			if err := h.hydra.Revoke(ctx, token); err != nil {
				log.LogWarnWithFields("auth", "Token revocation failed", map[string]any{
					"cookie": name,
					"error":  err.Error(),
				})
			}
		}
	}

	cookie.ClearTokens(w)
	cookie.ClearChallenge(w)

	_ = jsonwriter.Write(w, map[string]any{"success": true})
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return auth[len(prefix):], true
}

// isSafeReturnPath accepts only app-relative paths so the return_to
// cookie can never drive an open redirect.
func isSafeReturnPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.HasPrefix(p, "/\\")
}
