package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/merchantdash/auth-front/internal/config"
	"github.com/merchantdash/auth-front/internal/metrics"
	"github.com/merchantdash/auth-front/internal/ratelimit"
)

// NewRouter wires all routes and middleware.
func NewRouter(handlers *AuthHandlers, limiter *ratelimit.Limiter, cfg config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(NewRequestIDMiddleware())
	r.Use(NewLoggerMiddleware())
	r.Use(NewMetricsMiddleware())
	r.Use(NewCORSMiddleware(cfg.Server.AllowedOrigins))

	r.Get("/health", HealthHandler)

	r.Get("/authorize", handlers.AuthorizeHandler)
	r.Get("/oauth/hydra-login", handlers.HydraLoginHandler)
	r.Get("/oauth/hydra-consent", handlers.HydraConsentHandler)
	r.Post("/oauth/callback", handlers.CallbackHandler)
	r.Post("/oauth/refresh", handlers.RefreshHandler)
	r.Get("/oauth/me", handlers.OAuthMeHandler)

	r.Get("/me", handlers.MeHandler)
	r.Post("/logout", handlers.LogoutHandler)

	// Sensitive account endpoints share one fixed-window budget per IP.
	r.Group(func(r chi.Router) {
		r.Use(NewRateLimitMiddleware(limiter))
		r.Post("/account/forgot-password", handlers.ForgotPasswordHandler)
		r.Post("/account/resend-verification", handlers.ResendVerificationHandler)
		r.Post("/account/2fa", handlers.TwoFactorHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(NewBasicAuthMiddleware(cfg.Metrics))
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	})

	return r
}

// HealthHandler answers liveness probes.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
