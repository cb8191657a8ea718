package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const supportedVersion = "v1"

// defaultUpstreamTimeout applies when a service section omits its timeout.
// Upstream calls sit in the critical path of page loads, so the cap is short.
const defaultUpstreamTimeout = 5 * time.Second

// maxUpstreamTimeout rejects configs that would let a page load hang.
const maxUpstreamTimeout = 10 * time.Second

// Load reads and validates the config file. Env var references inside
// secrets are resolved during unmarshal.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	if config.Version != supportedVersion {
		return Config{}, fmt.Errorf("unsupported config version: %q", config.Version)
	}

	applyDefaults(&config)

	if err := Validate(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func applyDefaults(config *Config) {
	if config.Identity.Timeout == 0 {
		config.Identity.Timeout = Duration(defaultUpstreamTimeout)
	}
	if config.Hydra.Timeout == 0 {
		config.Hydra.Timeout = Duration(defaultUpstreamTimeout)
	}
	if config.Identity.SessionCookieName == "" {
		config.Identity.SessionCookieName = "ory_kratos_session"
	}
	if len(config.Hydra.Scopes) == 0 {
		config.Hydra.Scopes = []string{"openid", "offline", "email", "profile"}
	}
	if config.RateLimit == nil {
		config.RateLimit = &RateLimitConfig{
			MaxAttempts: 3,
			Window:      Duration(time.Minute),
		}
	}
}

// Validate checks the resolved configuration
func Validate(config *Config) error {
	if config.Server.BaseURL == "" {
		return fmt.Errorf("server.baseURL is required")
	}
	if _, err := url.Parse(config.Server.BaseURL); err != nil {
		return fmt.Errorf("server.baseURL is not a valid URL: %w", err)
	}
	if config.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	if err := requireURL("identity.publicURL", config.Identity.PublicURL); err != nil {
		return err
	}
	if err := requireURL("identity.loginURL", config.Identity.LoginURL); err != nil {
		return err
	}
	if err := requireURL("hydra.publicURL", config.Hydra.PublicURL); err != nil {
		return err
	}
	if err := requireURL("hydra.adminURL", config.Hydra.AdminURL); err != nil {
		return err
	}
	if err := requireURL("hydra.redirectUri", config.Hydra.RedirectURI); err != nil {
		return err
	}

	if config.Hydra.ClientID == "" {
		return fmt.Errorf("hydra.clientId is required")
	}
	if config.Hydra.ClientSecret == "" {
		return fmt.Errorf("hydra.clientSecret is required")
	}

	for _, timeout := range []Duration{config.Identity.Timeout, config.Hydra.Timeout} {
		if timeout.Std() <= 0 || timeout.Std() > maxUpstreamTimeout {
			return fmt.Errorf("upstream timeouts must be within (0s, %s]", maxUpstreamTimeout)
		}
	}

	if config.RateLimit != nil {
		if config.RateLimit.MaxAttempts <= 0 {
			return fmt.Errorf("rateLimit.maxAttempts must be positive")
		}
		if config.RateLimit.Window.Std() <= 0 {
			return fmt.Errorf("rateLimit.window must be positive")
		}
	}

	if config.Metrics != nil && config.Metrics.Username != "" {
		hash := string(config.Metrics.PasswordHash)
		if !strings.HasPrefix(hash, "$2") {
			return fmt.Errorf("metrics.passwordHash must be a bcrypt hash")
		}
	}

	return nil
}

func requireURL(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%s is not a valid URL: %q", field, value)
	}
	return nil
}
