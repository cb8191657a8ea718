// Package cookie owns every cookie the broker writes: the three
// short-lived challenge cookies holding in-flight PKCE values, and the
// two token cookies carrying the OAuth2 token pair.
package cookie

import (
	"net/http"
	"time"

	"github.com/merchantdash/auth-front/internal/envutil"
	"github.com/merchantdash/auth-front/internal/log"
)

// Cookie names used by the broker
const (
	VerifierCookie     = "oauth2_code_verifier"
	StateCookie        = "oauth2_state"
	ReturnToCookie     = "oauth2_return_to"
	AccessTokenCookie  = "hydra_access_token"
	RefreshTokenCookie = "hydra_refresh_token"
)

const (
	// ChallengeTTL bounds how long an authorization attempt may stay in flight.
	ChallengeTTL = 10 * time.Minute

	// RefreshTokenTTL is the refresh token cookie lifetime.
	RefreshTokenTTL = 30 * 24 * time.Hour

	// DefaultAccessTokenTTL is used when the token response carries no expires_in.
	DefaultAccessTokenTTL = time.Hour
)

// Challenge holds the three ephemeral values needed to validate a callback.
type Challenge struct {
	Verifier string
	State    string
	ReturnTo string
}

// SetChallenge writes the three challenge cookies. This happens only at
// authorization start.
func SetChallenge(w http.ResponseWriter, c Challenge) {
	setStrict(w, VerifierCookie, c.Verifier, ChallengeTTL)
	setStrict(w, StateCookie, c.State, ChallengeTTL)
	setStrict(w, ReturnToCookie, c.ReturnTo, ChallengeTTL)

	log.LogDebugWithFields("cookie", "Challenge cookies set", map[string]any{
		"ttl": ChallengeTTL.String(),
	})
}

// TakeChallenge reads the challenge cookies from the request and clears
// them on the response. It must be called exactly once per callback, on
// success and failure alike, so a challenge can never be replayed.
func TakeChallenge(w http.ResponseWriter, r *http.Request) Challenge {
	c := Challenge{
		Verifier: Get(r, VerifierCookie),
		State:    Get(r, StateCookie),
		ReturnTo: Get(r, ReturnToCookie),
	}
	ClearChallenge(w)
	return c
}

// ClearChallenge removes all three challenge cookies.
func ClearChallenge(w http.ResponseWriter) {
	Clear(w, VerifierCookie)
	Clear(w, StateCookie)
	Clear(w, ReturnToCookie)
}

// SetTokens writes the token pair cookies. The access token cookie lives
// for expiresIn; the refresh token cookie, when present, gets the long TTL.
// Both are replaced together so the pair stays consistent.
func SetTokens(w http.ResponseWriter, accessToken, refreshToken string, expiresIn time.Duration) {
	if expiresIn <= 0 {
		expiresIn = DefaultAccessTokenTTL
	}
	setLax(w, AccessTokenCookie, accessToken, expiresIn)
	if refreshToken != "" {
		setLax(w, RefreshTokenCookie, refreshToken, RefreshTokenTTL)
	}

	log.LogDebugWithFields("cookie", "Token cookies set", map[string]any{
		"accessTTL":  expiresIn.String(),
		"hasRefresh": refreshToken != "",
	})
}

// ClearTokens removes both token cookies.
func ClearTokens(w http.ResponseWriter) {
	Clear(w, AccessTokenCookie)
	Clear(w, RefreshTokenCookie)
}

// Get retrieves a cookie value from the request, or "" when absent.
func Get(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// Clear removes a cookie by setting MaxAge to -1
func Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

func setStrict(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(maxAge.Seconds()),
	})
}

func setLax(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})
}
