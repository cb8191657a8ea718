package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/merchantdash/auth-front/internal/config"
	"github.com/merchantdash/auth-front/internal/cookie"
	"github.com/merchantdash/auth-front/internal/flow"
	"github.com/merchantdash/auth-front/internal/hydra"
	"github.com/merchantdash/auth-front/internal/identity"
	"github.com/merchantdash/auth-front/internal/pkce"
	"github.com/merchantdash/auth-front/internal/ratelimit"
	"github.com/merchantdash/auth-front/internal/resolver"
	"github.com/merchantdash/auth-front/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUpstreams simulates the Identity Service and the Token Service.
type fakeUpstreams struct {
	identity *httptest.Server
	hydra    *httptest.Server

	// identity behavior
	whoamiStatus  int
	whoamiBody    string
	accountStatus int

	// hydra behavior
	tokenStatus    int
	tokenBody      string
	tokenCalls     atomic.Int32
	introspectBody string
	userinfoBody   string
	revokeStatus   int
	revokeCalls    atomic.Int32
}

func newFakeUpstreams(t *testing.T) *fakeUpstreams {
	t.Helper()

	f := &fakeUpstreams{
		whoamiStatus:   http.StatusUnauthorized,
		accountStatus:  http.StatusOK,
		tokenStatus:    http.StatusOK,
		tokenBody:      `{"access_token":"at-1","refresh_token":"rt-1","token_type":"bearer","expires_in":1800}`,
		introspectBody: `{"active":true,"sub":"user-1"}`,
		userinfoBody:   `{"sub":"user-1","email":"jo@example.com","email_verified":true,"given_name":"Jo","family_name":"Doe"}`,
		revokeStatus:   http.StatusOK,
	}

	f.identity = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sessions/whoami":
			w.WriteHeader(f.whoamiStatus)
			if f.whoamiStatus == http.StatusOK {
				_, _ = w.Write([]byte(f.whoamiBody))
			}
		case "/self-service/logout", "/self-service/recovery", "/self-service/verification", "/self-service/settings/totp":
			w.WriteHeader(f.accountStatus)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.identity.Close)

	f.hydra = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin/oauth2/auth/requests/login":
			_, _ = w.Write([]byte(`{"challenge":"lc-1","requested_scope":["openid","offline"],"client":{"client_id":"dashboard"}}`))
		case "/admin/oauth2/auth/requests/login/accept":
			_, _ = w.Write([]byte(`{"redirect_to":"` + f.hydra.URL + `/oauth2/auth?resume=lc-1"}`))
		case "/admin/oauth2/auth/requests/consent":
			_, _ = w.Write([]byte(`{"challenge":"cc-1","subject":"user-1","requested_scope":["openid","offline"],"requested_access_token_audience":["dashboard"],"client":{"client_id":"dashboard"}}`))
		case "/admin/oauth2/auth/requests/consent/accept":
			_, _ = w.Write([]byte(`{"redirect_to":"` + f.hydra.URL + `/oauth2/auth?resume=cc-1"}`))
		case "/admin/oauth2/introspect":
			_, _ = w.Write([]byte(f.introspectBody))
		case "/oauth2/token":
			f.tokenCalls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.tokenStatus)
			_, _ = w.Write([]byte(f.tokenBody))
		case "/userinfo":
			_, _ = w.Write([]byte(f.userinfoBody))
		case "/oauth2/revoke":
			f.revokeCalls.Add(1)
			w.WriteHeader(f.revokeStatus)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.hydra.Close)

	return f
}

func newTestRouter(t *testing.T, f *fakeUpstreams) http.Handler {
	t.Helper()

	cfg := config.Config{
		Version: "v1",
		Server: config.ServerConfig{
			BaseURL: "https://dash.example.com",
			Addr:    ":0",
		},
		Identity: config.IdentityConfig{
			PublicURL:         f.identity.URL,
			LoginURL:          f.identity.URL + "/login",
			SessionCookieName: "ory_kratos_session",
			Timeout:           config.Duration(2 * time.Second),
		},
		Hydra: config.HydraConfig{
			PublicURL:    f.hydra.URL,
			AdminURL:     f.hydra.URL,
			ClientID:     "dashboard",
			ClientSecret: "secret",
			RedirectURI:  "https://dash.example.com/oauth/callback",
			Scopes:       []string{"openid", "offline"},
			Timeout:      config.Duration(2 * time.Second),
		},
		RateLimit: &config.RateLimitConfig{MaxAttempts: 3, Window: config.Duration(time.Minute)},
	}

	identityClient := identity.New(cfg.Identity)
	hydraClient := hydra.New(cfg.Hydra)
	tokenManager := tokens.NewManager(cfg.Hydra)
	orchestrator := flow.New(identityClient, hydraClient, tokenManager)
	sessionResolver := resolver.New(
		resolver.NewIdentitySource(identityClient),
		resolver.NewTokenSource(hydraClient, tokenManager),
	)
	handlers := NewAuthHandlers(orchestrator, sessionResolver, identityClient, hydraClient, tokenManager, cfg.Server.BaseURL)
	limiter := ratelimit.New(cfg.RateLimit.MaxAttempts, cfg.RateLimit.Window.Std())

	return NewRouter(handlers, limiter, cfg)
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestAuthorizeHandler(t *testing.T) {
	f := newFakeUpstreams(t)
	router := newTestRouter(t, f)

	t.Run("sets challenge cookies and redirects", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/authorize?return_to=/dashboard", nil))

		require.Equal(t, http.StatusFound, rec.Code)

		location, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		q := location.Query()
		assert.Equal(t, "code", q.Get("response_type"))
		assert.Equal(t, "S256", q.Get("code_challenge_method"))
		assert.Len(t, q.Get("code_challenge"), 43)
		assert.Len(t, q.Get("state"), 32)

		verifier := responseCookie(rec, cookie.VerifierCookie)
		state := responseCookie(rec, cookie.StateCookie)
		returnTo := responseCookie(rec, cookie.ReturnToCookie)
		require.NotNil(t, verifier)
		require.NotNil(t, state)
		require.NotNil(t, returnTo)

		assert.Equal(t, q.Get("state"), state.Value)
		assert.Equal(t, pkce.Challenge(verifier.Value), q.Get("code_challenge"))
		assert.Equal(t, "/dashboard", returnTo.Value)
		assert.Equal(t, 600, verifier.MaxAge)
	})

	t.Run("rejects absolute return_to", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/authorize?return_to=https://evil.example.com", nil))

		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/", responseCookie(rec, cookie.ReturnToCookie).Value)
	})
}

func TestHydraLoginHandler(t *testing.T) {
	t.Run("missing challenge is a 400", func(t *testing.T) {
		f := newFakeUpstreams(t)
		rec := httptest.NewRecorder()
		newTestRouter(t, f).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/hydra-login", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no session redirects to hosted login with return_to", func(t *testing.T) {
		f := newFakeUpstreams(t)
		rec := httptest.NewRecorder()
		newTestRouter(t, f).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/hydra-login?login_challenge=lc-1", nil))

		require.Equal(t, http.StatusFound, rec.Code)
		location := rec.Header().Get("Location")
		assert.Contains(t, location, f.identity.URL+"/login")
		assert.Contains(t, location, url.QueryEscape("https://dash.example.com/oauth/hydra-login?login_challenge=lc-1"))
	})

	t.Run("valid session accepts the challenge", func(t *testing.T) {
		f := newFakeUpstreams(t)
		f.whoamiStatus = http.StatusOK
		f.whoamiBody = `{"id":"s1","active":true,"identity":{"id":"user-1","traits":{"email":"jo@example.com","emailVerified":true}}}`

		r := httptest.NewRequest(http.MethodGet, "/oauth/hydra-login?login_challenge=lc-1", nil)
		r.Header.Set("Cookie", "ory_kratos_session=abc")
		rec := httptest.NewRecorder()
		newTestRouter(t, f).ServeHTTP(rec, r)

		require.Equal(t, http.StatusFound, rec.Code)
		assert.Contains(t, rec.Header().Get("Location"), "resume=lc-1")
	})
}

func TestHydraConsentHandler(t *testing.T) {
	f := newFakeUpstreams(t)
	router := newTestRouter(t, f)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/hydra-consent?consent_challenge=cc-1", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "resume=cc-1")
}

func postCallback(t *testing.T, router http.Handler, body callbackRequest, stored cookie.Challenge) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/oauth/callback", strings.NewReader(string(payload)))
	r.Header.Set("Content-Type", "application/json")
	if stored.Verifier != "" {
		r.AddCookie(&http.Cookie{Name: cookie.VerifierCookie, Value: stored.Verifier})
	}
	if stored.State != "" {
		r.AddCookie(&http.Cookie{Name: cookie.StateCookie, Value: stored.State})
	}
	if stored.ReturnTo != "" {
		r.AddCookie(&http.Cookie{Name: cookie.ReturnToCookie, Value: stored.ReturnTo})
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	return rec
}

func assertChallengeCleared(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	for _, name := range []string{cookie.VerifierCookie, cookie.StateCookie, cookie.ReturnToCookie} {
		c := responseCookie(rec, name)
		require.NotNil(t, c, "challenge cookie %s not cleared", name)
		assert.Equal(t, -1, c.MaxAge)
	}
}

func TestCallbackHandler(t *testing.T) {
	stored := cookie.Challenge{
		Verifier: "stored-verifier-stored-verifier-stored-verif",
		State:    "stored-state-stored-state-123456",
		ReturnTo: "/dashboard",
	}

	t.Run("state mismatch is a generic 400, cookies cleared, no exchange", func(t *testing.T) {
		f := newFakeUpstreams(t)
		router := newTestRouter(t, f)

		rec := postCallback(t, router, callbackRequest{
			Code:         "code-1",
			CodeVerifier: stored.Verifier,
			State:        "wrong-state",
		}, stored)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, int32(0), f.tokenCalls.Load())
		assertChallengeCleared(t, rec)

		var errResp struct {
			StatusCode int    `json:"statusCode"`
			Message    string `json:"message"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
		assert.Equal(t, http.StatusBadRequest, errResp.StatusCode)
		assert.NotContains(t, errResp.Message, "state")
		assert.NotContains(t, errResp.Message, "verifier")
	})

	t.Run("verifier mismatch aborts before exchange", func(t *testing.T) {
		f := newFakeUpstreams(t)
		router := newTestRouter(t, f)

		rec := postCallback(t, router, callbackRequest{
			Code:         "code-1",
			CodeVerifier: "wrong-verifier",
			State:        stored.State,
		}, stored)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, int32(0), f.tokenCalls.Load())
		assertChallengeCleared(t, rec)
	})

	t.Run("missing fields is a 400 and still clears cookies", func(t *testing.T) {
		f := newFakeUpstreams(t)
		rec := postCallback(t, newTestRouter(t, f), callbackRequest{}, stored)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assertChallengeCleared(t, rec)
	})

	t.Run("match exchanges and sets token cookies", func(t *testing.T) {
		f := newFakeUpstreams(t)
		router := newTestRouter(t, f)

		rec := postCallback(t, router, callbackRequest{
			Code:         "code-1",
			CodeVerifier: stored.Verifier,
			RedirectURI:  "https://dash.example.com/oauth/callback",
			State:        stored.State,
		}, stored)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp callbackResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "/dashboard", resp.ReturnTo)
		assert.Equal(t, "at-1", resp.AccessToken)
		assert.Equal(t, 1800, resp.ExpiresIn)
		require.NotNil(t, resp.User)
		assert.Equal(t, "jo@example.com", resp.User.Email)

		access := responseCookie(rec, cookie.AccessTokenCookie)
		require.NotNil(t, access)
		assert.Equal(t, 1800, access.MaxAge)
		refresh := responseCookie(rec, cookie.RefreshTokenCookie)
		require.NotNil(t, refresh)
		assert.Equal(t, "rt-1", refresh.Value)

		assertChallengeCleared(t, rec)
	})

	t.Run("exchange failure is a generic 500", func(t *testing.T) {
		f := newFakeUpstreams(t)
		f.tokenStatus = http.StatusBadRequest
		f.tokenBody = `{"error":"invalid_grant"}`
		router := newTestRouter(t, f)

		rec := postCallback(t, router, callbackRequest{
			Code:         "expired-code",
			CodeVerifier: stored.Verifier,
			State:        stored.State,
		}, stored)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assertChallengeCleared(t, rec)
		assert.NotContains(t, rec.Body.String(), "invalid_grant")
	})
}

func TestRefreshHandler(t *testing.T) {
	t.Run("no refresh cookie is a soft miss", func(t *testing.T) {
		f := newFakeUpstreams(t)
		rec := httptest.NewRecorder()
		newTestRouter(t, f).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/oauth/refresh", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, false, resp["success"])
		assert.NotEmpty(t, resp["message"])
		assert.Nil(t, responseCookie(rec, cookie.AccessTokenCookie))
		assert.Nil(t, responseCookie(rec, cookie.RefreshTokenCookie))
	})

	t.Run("upstream failure clears both token cookies", func(t *testing.T) {
		f := newFakeUpstreams(t)
		f.tokenStatus = http.StatusUnauthorized
		f.tokenBody = `{"error":"invalid_grant"}`

		r := httptest.NewRequest(http.MethodPost, "/oauth/refresh", nil)
		r.AddCookie(&http.Cookie{Name: cookie.RefreshTokenCookie, Value: "rt-dead"})
		rec := httptest.NewRecorder()
		newTestRouter(t, f).ServeHTTP(rec, r)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		for _, name := range []string{cookie.AccessTokenCookie, cookie.RefreshTokenCookie} {
			c := responseCookie(rec, name)
			require.NotNil(t, c, "token cookie %s not cleared", name)
			assert.Equal(t, -1, c.MaxAge)
		}
	})

	t.Run("success rotates the pair", func(t *testing.T) {
		f := newFakeUpstreams(t)
		f.tokenBody = `{"access_token":"at-new","refresh_token":"rt-new","token_type":"bearer","expires_in":3600}`

		r := httptest.NewRequest(http.MethodPost, "/oauth/refresh", nil)
		r.AddCookie(&http.Cookie{Name: cookie.RefreshTokenCookie, Value: "rt-old"})
		rec := httptest.NewRecorder()
		newTestRouter(t, f).ServeHTTP(rec, r)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["success"])
		assert.Equal(t, "at-new", resp["access_token"])
		assert.Equal(t, float64(3600), resp["expires_in"])

		assert.Equal(t, "at-new", responseCookie(rec, cookie.AccessTokenCookie).Value)
		assert.Equal(t, "rt-new", responseCookie(rec, cookie.RefreshTokenCookie).Value)
	})
}

func TestOAuthMeHandler(t *testing.T) {
	t.Run("missing bearer is a 401", func(t *testing.T) {
		f := newFakeUpstreams(t)
		rec := httptest.NewRecorder()
		newTestRouter(t, f).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/me", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid bearer resolves the user", func(t *testing.T) {
		f := newFakeUpstreams(t)
		r := httptest.NewRequest(http.MethodGet, "/oauth/me", nil)
		r.Header.Set("Authorization", "Bearer at-1")
		rec := httptest.NewRecorder()
		newTestRouter(t, f).ServeHTTP(rec, r)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "jo@example.com")
	})
}

func TestMeHandler(t *testing.T) {
	t.Run("unauthenticated is a 200", func(t *testing.T) {
		f := newFakeUpstreams(t)
		rec := httptest.NewRecorder()
		newTestRouter(t, f).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, false, resp["isAuthenticated"])
		assert.Nil(t, resp["user"])
	})

	t.Run("identity session resolves", func(t *testing.T) {
		f := newFakeUpstreams(t)
		f.whoamiStatus = http.StatusOK
		f.whoamiBody = `{"id":"s1","active":true,"identity":{"id":"user-1","traits":{"email":"jo@example.com"}}}`

		r := httptest.NewRequest(http.MethodGet, "/me", nil)
		r.Header.Set("Cookie", "ory_kratos_session=abc")
		rec := httptest.NewRecorder()
		newTestRouter(t, f).ServeHTTP(rec, r)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["isAuthenticated"])
	})
}

func TestLogoutHandler(t *testing.T) {
	t.Run("revokes tokens and clears cookies", func(t *testing.T) {
		f := newFakeUpstreams(t)
		r := httptest.NewRequest(http.MethodPost, "/logout", nil)
		r.AddCookie(&http.Cookie{Name: cookie.AccessTokenCookie, Value: "at-1"})
		r.AddCookie(&http.Cookie{Name: cookie.RefreshTokenCookie, Value: "rt-1"})
		rec := httptest.NewRecorder()
		newTestRouter(t, f).ServeHTTP(rec, r)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"success":true`)
		assert.Equal(t, int32(2), f.revokeCalls.Load())

		for _, name := range []string{cookie.AccessTokenCookie, cookie.RefreshTokenCookie} {
			c := responseCookie(rec, name)
			require.NotNil(t, c)
			assert.Equal(t, -1, c.MaxAge)
		}
	})

	t.Run("succeeds even when revocation fails", func(t *testing.T) {
		f := newFakeUpstreams(t)
		f.revokeStatus = http.StatusServiceUnavailable

		r := httptest.NewRequest(http.MethodPost, "/logout", nil)
		r.AddCookie(&http.Cookie{Name: cookie.AccessTokenCookie, Value: "at-1"})
		rec := httptest.NewRecorder()
		newTestRouter(t, f).ServeHTTP(rec, r)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"success":true`)
		assert.Equal(t, -1, responseCookie(rec, cookie.AccessTokenCookie).MaxAge)
	})
}

// TestAuthorizationFlowEndToEnd walks the whole handshake: authorize,
// login challenge, consent challenge, callback.
func TestAuthorizationFlowEndToEnd(t *testing.T) {
	f := newFakeUpstreams(t)
	f.whoamiStatus = http.StatusOK
	f.whoamiBody = `{"id":"s1","active":true,"identity":{"id":"user-1","traits":{"email":"jo@example.com","emailVerified":true}}}`
	router := newTestRouter(t, f)

	// 1. Start the flow
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/authorize?return_to=/dashboard", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "code", location.Query().Get("response_type"))
	require.Len(t, location.Query().Get("code_challenge"), 43)

	verifier := responseCookie(rec, cookie.VerifierCookie).Value
	state := responseCookie(rec, cookie.StateCookie).Value

	// 2. Token Service bounces back with a login challenge
	r := httptest.NewRequest(http.MethodGet, "/oauth/hydra-login?login_challenge=lc-1", nil)
	r.Header.Set("Cookie", "ory_kratos_session=abc")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Contains(t, rec.Header().Get("Location"), "resume=lc-1")

	// 3. Then with a consent challenge
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/hydra-consent?consent_challenge=cc-1", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	require.Contains(t, rec.Header().Get("Location"), "resume=cc-1")

	// 4. Final redirect delivers code + state; the SPA posts them back
	rec = postCallback(t, router, callbackRequest{
		Code:         "code-final",
		CodeVerifier: verifier,
		RedirectURI:  "https://dash.example.com/oauth/callback",
		State:        state,
	}, cookie.Challenge{Verifier: verifier, State: state, ReturnTo: "/dashboard"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp callbackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "/dashboard", resp.ReturnTo)
	require.NotNil(t, resp.User)
	assert.Equal(t, "user-1", resp.User.ID)

	access := responseCookie(rec, cookie.AccessTokenCookie)
	require.NotNil(t, access)
	assert.Equal(t, 1800, access.MaxAge)
	require.NotNil(t, responseCookie(rec, cookie.RefreshTokenCookie))
	assertChallengeCleared(t, rec)
}
