package server

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/merchantdash/auth-front/internal/config"
	jsonwriter "github.com/merchantdash/auth-front/internal/json"
	"github.com/merchantdash/auth-front/internal/log"
	"github.com/merchantdash/auth-front/internal/metrics"
	"github.com/merchantdash/auth-front/internal/ratelimit"
	"golang.org/x/crypto/bcrypt"
)

const requestIDHeader = "X-Request-Id"

// NewRequestIDMiddleware tags every request with an id for log correlation.
func NewRequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)
			next.ServeHTTP(w, r)
		})
	}
}

// responseWriterDelegator captures the status code for logging and metrics
type responseWriterDelegator struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriterDelegator {
	return &responseWriterDelegator{ResponseWriter: w, status: http.StatusOK}
}

func (r *responseWriterDelegator) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseWriterDelegator) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter for interface detection
func (r *responseWriterDelegator) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// NewLoggerMiddleware adds request/response logging
func NewLoggerMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			log.LogInfoWithFields("http", "Request handled", map[string]any{
				"method":    r.Method,
				"path":      r.URL.Path,
				"status":    wrapped.status,
				"duration":  time.Since(start).String(),
				"requestId": wrapped.Header().Get(requestIDHeader),
			})
		})
	}
}

// NewMetricsMiddleware records per-route request counters.
func NewMetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := wrapResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		})
	}
}

// NewCORSMiddleware adds CORS headers for the configured dashboard origins.
func NewCORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewRateLimitMiddleware throttles a route per caller IP using the
// fixed-window limiter. Denied requests get a 429 carrying the window
// reset time.
func NewRateLimitMiddleware(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := limiter.Attempt(clientIP(r))
			if !result.Allowed {
				metrics.RateLimited.Inc()
				log.LogWarnWithFields("ratelimit", "Request throttled", map[string]any{
					"path": r.URL.Path,
					"ip":   clientIP(r),
				})
				jsonwriter.WriteErrorData(w, http.StatusTooManyRequests,
					"Too Many Requests", "Too many attempts, try again later",
					map[string]any{"resetTime": result.ResetTime.UTC().Format(time.RFC3339)})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewBasicAuthMiddleware guards a route with basic auth against a bcrypt
// password hash from config.
func NewBasicAuthMiddleware(cfg *config.MetricsConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg == nil || cfg.Username == "" {
				next.ServeHTTP(w, r)
				return
			}

			username, password, ok := r.BasicAuth()
			if !ok || username != cfg.Username ||
				bcrypt.CompareHashAndPassword([]byte(cfg.PasswordHash), []byte(password)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
				jsonwriter.WriteUnauthorized(w, "Authentication required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the caller identifier for rate limiting: the first
// X-Forwarded-For hop when present, otherwise the remote address.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.IndexByte(forwarded, ','); idx >= 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return strings.TrimSpace(forwarded)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
