package rest

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterConfig collects what the router needs beyond the services
type RouterConfig struct {
	Version  string
	Auth     *Authenticator
	Limiter  *TenantLimiter
	Metrics  *HTTPMetrics
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter builds the HTTP handler for the analytics API
func NewRouter(svc Services, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	h := NewHandler(svc, logger)
	p := &probes{svc: svc, version: cfg.Version, startTime: time.Now()}

	// route registers pattern with tracing and metrics labelled by the pattern
	route := func(pattern string, handler http.Handler) {
		mux.Handle(pattern, cfg.Metrics.Instrument(pattern, tracing(pattern, handler)))
	}
	api := func(pattern string, fn http.HandlerFunc) {
		route(pattern, Chain(fn, cfg.Auth.Middleware, cfg.Limiter.Middleware))
	}
	admin := func(pattern string, fn http.HandlerFunc) {
		route(pattern, Chain(fn, cfg.Auth.Middleware, cfg.Auth.RequireAdmin, cfg.Limiter.Middleware))
	}

	mux.HandleFunc("GET /healthz", p.liveness)
	mux.HandleFunc("GET /readyz", p.readiness)
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	api("GET /api/v1/analytics/overview", h.handleOverview)
	api("GET /api/v1/analytics/campaigns", h.handleCampaigns)
	api("GET /api/v1/analytics/campaigns/timeseries", h.handleCampaignTimeSeries)
	api("GET /api/v1/analytics/domains", h.handleDomains)
	api("GET /api/v1/analytics/mailboxes", h.handleMailboxes)
	api("GET /api/v1/analytics/billing/usage", h.handleBillingUsage)
	api("POST /api/v1/analytics/{domain}/query", h.handleQuery)
	api("GET /api/v1/analytics/health", h.handleHealth)
	api("POST /api/v1/analytics/cache/invalidate", h.handleInvalidate)
	admin("POST /api/v1/analytics/health/reset", h.handleResetHealth)
	admin("DELETE /api/v1/analytics/cache", h.handleInvalidateAll)
	admin("GET /api/v1/analytics/cache/stats", h.handleCacheStats)

	return Chain(mux,
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		LoggingMiddleware(logger),
	)
}
