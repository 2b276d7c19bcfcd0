// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tomtom215/portway/internal/auth"
	"github.com/tomtom215/portway/internal/breaker"
	"github.com/tomtom215/portway/internal/config"
	"github.com/tomtom215/portway/internal/logging"
	"github.com/tomtom215/portway/internal/metrics"
	"github.com/tomtom215/portway/internal/route"
)

// Identity headers injected into every forwarded request. Inbound values
// are stripped so clients cannot impersonate the gateway.
const (
	headerUserID    = "X-User-Id"
	headerUserRoles = "X-User-Roles"
	headerRequestID = "X-Request-Id"
)

// ProxyHandler is the catch-all handler that forwards matched requests to
// their backends through the circuit breaker registry.
//
// Per request: route match -> role gate -> breaker admission -> forward.
// The breaker outcome is reported after the response has been relayed: a
// transport failure or backend 5xx counts as failure; 2xx-4xx count as
// success, since a 4xx proves the backend is reachable and responding.
type ProxyHandler struct {
	table    *route.Table
	breakers *breaker.Registry
	proxies  map[string]*httputil.ReverseProxy
}

// proxyOutcome carries the relay result from the reverse proxy callbacks
// back to the dispatching handler.
type proxyOutcome struct {
	status       atomic.Int64
	transportErr atomic.Bool
}

type outcomeKey struct{}

func outcomeFrom(ctx context.Context) *proxyOutcome {
	o, _ := ctx.Value(outcomeKey{}).(*proxyOutcome)
	return o
}

// NewProxyHandler builds one reverse proxy per configured route, sharing a
// single timeout-bounded transport.
func NewProxyHandler(table *route.Table, breakers *breaker.Registry, cfg config.ProxyConfig) *ProxyHandler {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: cfg.ResponseTimeout,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	h := &ProxyHandler{
		table:    table,
		breakers: breakers,
		proxies:  make(map[string]*httputil.ReverseProxy, len(table.Routes())),
	}

	for _, rt := range table.Routes() {
		h.proxies[rt.Name] = h.buildProxy(rt, transport)
	}
	return h
}

func (h *ProxyHandler) buildProxy(rt *route.Route, transport http.RoundTripper) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Transport: transport,

		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetXForwarded()

			out := pr.Out
			out.URL.Scheme = rt.BaseURL.Scheme
			out.URL.Host = rt.BaseURL.Host
			out.Host = rt.BaseURL.Host

			path := pr.In.URL.Path
			if rt.StripPrefix {
				path = strings.TrimPrefix(path, rt.Prefix)
				if path == "" {
					path = "/"
				}
			}
			out.URL.Path = joinURLPath(rt.BaseURL.Path, path)
			out.URL.RawQuery = pr.In.URL.RawQuery

			// Never trust inbound identity headers.
			out.Header.Del(headerUserID)
			out.Header.Del(headerUserRoles)

			subject, roles := "unknown", ""
			if id, ok := auth.IdentityFromContext(pr.In.Context()); ok {
				if id.Subject != "" {
					subject = id.Subject
				}
				roles = id.RolesHeader()
			}
			out.Header.Set(headerUserID, subject)
			out.Header.Set(headerUserRoles, roles)

			if reqID := logging.RequestIDFromContext(pr.In.Context()); reqID != "" {
				out.Header.Set(headerRequestID, reqID)
			}
		},

		ModifyResponse: func(resp *http.Response) error {
			if o := outcomeFrom(resp.Request.Context()); o != nil {
				o.status.Store(int64(resp.StatusCode))
			}
			return nil
		},

		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if o := outcomeFrom(r.Context()); o != nil {
				o.transportErr.Store(true)
			}
			metrics.ProxyErrors.WithLabelValues(rt.Name).Inc()
			logging.Ctx(r.Context()).Error().
				Err(err).
				Str("service", rt.Name).
				Str("path", r.URL.Path).
				Msg("Backend call failed")
			WriteServiceError(w, r, http.StatusServiceUnavailable, ErrCodeProxyError,
				"backend unavailable", rt.Name)
		},
	}
}

// ServeHTTP dispatches a request to its matched backend.
func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.table.Match(r.URL.Path)
	if !ok {
		WriteError(w, r, http.StatusNotFound, ErrCodeNotFound, "no route for path")
		return
	}

	// Per-route role gate, evaluated after authentication but before the
	// breaker so forbidden requests never consume backend capacity.
	if len(rt.RequiredRoles) > 0 {
		id, authed := auth.IdentityFromContext(r.Context())
		if !authed {
			metrics.AuthFailures.WithLabelValues("missing_identity").Inc()
			WriteError(w, r, http.StatusUnauthorized, ErrCodeAuthRequired, "authentication required")
			return
		}
		if !id.HasAnyRole(rt.RequiredRoles) {
			metrics.AuthFailures.WithLabelValues("forbidden").Inc()
			WriteError(w, r, http.StatusForbidden, ErrCodeForbidden, "insufficient permissions for this route")
			return
		}
	}

	done, err := h.breakers.Allow(rt.Name)
	if err != nil {
		if errors.Is(err, breaker.ErrOpen) {
			metrics.CircuitBreakerRequests.WithLabelValues(rt.Name, "rejected").Inc()
			logging.Ctx(r.Context()).Warn().
				Str("service", rt.Name).
				Msg("Request rejected by open circuit")
			WriteServiceError(w, r, http.StatusServiceUnavailable, ErrCodeCircuitOpen,
				"service temporarily unavailable", rt.Name)
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).Str("service", rt.Name).Msg("Breaker admission failed")
		WriteError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
		return
	}

	outcome := &proxyOutcome{}
	start := time.Now()
	h.proxies[rt.Name].ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), outcomeKey{}, outcome)))
	elapsed := time.Since(start)

	status := int(outcome.status.Load())
	failed := outcome.transportErr.Load() || status >= http.StatusInternalServerError
	done(!failed)

	if failed {
		metrics.CircuitBreakerRequests.WithLabelValues(rt.Name, "failure").Inc()
	} else {
		metrics.CircuitBreakerRequests.WithLabelValues(rt.Name, "success").Inc()
	}
	if status == 0 {
		status = http.StatusServiceUnavailable
	}
	metrics.RecordProxyRequest(rt.Name, r.Method, status, elapsed)
}

// joinURLPath joins a base path and a request path with exactly one slash.
func joinURLPath(base, p string) string {
	base = strings.TrimSuffix(base, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return base + p
}
