// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/portway/internal/auth"
	"github.com/tomtom215/portway/internal/breaker"
	"github.com/tomtom215/portway/internal/config"
	"github.com/tomtom215/portway/internal/health"
	"github.com/tomtom215/portway/internal/logging"
	"github.com/tomtom215/portway/internal/middleware"
	"github.com/tomtom215/portway/internal/route"
)

// NewRouter assembles the gateway's complete HTTP surface.
//
// Pipeline order is fixed: panic recovery -> request ID -> request logging
// -> rate limit -> authentication. Route-level role gates and breaker
// admission run inside the proxy handler after route match. Gateway
// endpoints (/health, /readyz, /metrics, login) take precedence over the
// proxy catch-all.
func NewRouter(cfg *config.Config, table *route.Table, breakers *breaker.Registry, aggregator *health.Aggregator) (*chi.Mux, error) {
	jwtMgr := auth.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.SessionTimeout)
	mw := NewMiddlewares(jwtMgr, cfg.Security)

	authHandler, err := NewAuthHandler(jwtMgr, cfg.Security)
	if err != nil {
		return nil, fmt.Errorf("preparing auth handler: %w", err)
	}
	healthHandler := NewHealthHandler(aggregator, breakers)
	proxyHandler := NewProxyHandler(table, breakers, cfg.Proxy)

	r := chi.NewRouter()
	r.Use(Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(mw.RateLimit())
	r.Use(mw.Authenticate)

	r.Get("/health", healthHandler.handleHealth)
	r.Get("/readyz", healthHandler.handleReadyz)
	r.Get("/metrics", healthHandler.handleBreakers)
	r.Method(http.MethodGet, "/metrics/prometheus", promhttp.Handler())

	if authHandler != nil {
		r.Post("/api/v1/auth/login", authHandler.handleLogin)
	} else {
		logging.Info().Msg("No admin account configured, login endpoint disabled")
	}

	// Everything else is proxied to the matching backend.
	r.Handle("/*", proxyHandler)

	return r, nil
}
