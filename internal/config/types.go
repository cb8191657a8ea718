package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Secret is a string that redacts itself when printed. In config files a
// secret is written either as a literal (development only) or as an
// environment reference: {"$env": "VAR_NAME"}.
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// UnmarshalJSON resolves {"$env": "VAR_NAME"} references at load time.
func (s *Secret) UnmarshalJSON(data []byte) error {
	var literal string
	if err := json.Unmarshal(data, &literal); err == nil {
		*s = Secret(literal)
		return nil
	}

	var ref struct {
		Env string `json:"$env"`
	}
	if err := json.Unmarshal(data, &ref); err != nil {
		return fmt.Errorf("secret must be a string or {\"$env\": \"VAR_NAME\"}: %w", err)
	}
	if ref.Env == "" {
		return fmt.Errorf("secret reference is missing $env")
	}

	value, ok := os.LookupEnv(ref.Env)
	if !ok {
		return fmt.Errorf("environment variable %s is not set", ref.Env)
	}
	*s = Secret(value)
	return nil
}

// Duration wraps time.Duration with JSON string parsing ("5s", "10m").
type Duration time.Duration

// UnmarshalJSON parses a duration string
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON renders the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ServerConfig configures the broker's own HTTP listener.
type ServerConfig struct {
	BaseURL        string   `json:"baseURL"`
	Addr           string   `json:"addr"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

// IdentityConfig points at the Identity Service (session provider).
type IdentityConfig struct {
	// PublicURL is the session API base, e.g. https://identity.example.com
	PublicURL string `json:"publicURL"`

	// LoginURL is the hosted login page users are sent to when no
	// identity session exists.
	LoginURL string `json:"loginURL"`

	// SessionCookieName marks inbound requests that may carry an
	// identity session.
	SessionCookieName string `json:"sessionCookieName"`

	Timeout Duration `json:"timeout,omitempty"`
}

// HydraConfig points at the Token Service (OAuth2/OIDC authorization server).
type HydraConfig struct {
	PublicURL string `json:"publicURL"`
	AdminURL  string `json:"adminURL"`

	ClientID     Secret   `json:"clientId"`
	ClientSecret Secret   `json:"clientSecret"`
	RedirectURI  string   `json:"redirectUri"`
	Scopes       []string `json:"scopes,omitempty"`

	Timeout Duration `json:"timeout,omitempty"`
}

// RateLimitConfig bounds attempts against sensitive account endpoints.
type RateLimitConfig struct {
	MaxAttempts int      `json:"maxAttempts"`
	Window      Duration `json:"window"`
}

// MetricsConfig optionally guards /metrics with basic auth.
// PasswordHash is a bcrypt hash of the expected password.
type MetricsConfig struct {
	Username     string `json:"username,omitempty"`
	PasswordHash Secret `json:"passwordHash,omitempty"`
}

// Config is the full broker configuration.
type Config struct {
	Version   string           `json:"version"`
	Server    ServerConfig     `json:"server"`
	Identity  IdentityConfig   `json:"identity"`
	Hydra     HydraConfig      `json:"hydra"`
	RateLimit *RateLimitConfig `json:"rateLimit,omitempty"`
	Metrics   *MetricsConfig   `json:"metrics,omitempty"`
}
