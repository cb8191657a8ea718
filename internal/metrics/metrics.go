// Package metrics exposes Prometheus counters for the broker's
// authentication flows and upstream calls.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FlowOutcomes counts authorization flows by terminal outcome
	// (completed, csrf_mismatch, exchange_failed, upstream_error).
	FlowOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth_front",
		Name:      "flow_outcomes_total",
		Help:      "Authorization code flow terminal outcomes.",
	}, []string{"outcome"})

	// ResolvedSessions counts successful resolutions by credential source.
	ResolvedSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth_front",
		Name:      "resolved_sessions_total",
		Help:      "Successful session resolutions by credential source.",
	}, []string{"source"})

	// RateLimited counts rejected attempts against throttled endpoints.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "auth_front",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the fixed-window rate limiter.",
	})

	// HTTPRequests counts requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth_front",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})
)

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
