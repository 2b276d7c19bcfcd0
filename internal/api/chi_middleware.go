// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"

	"github.com/tomtom215/portway/internal/auth"
	"github.com/tomtom215/portway/internal/config"
	"github.com/tomtom215/portway/internal/logging"
	"github.com/tomtom215/portway/internal/metrics"
)

// Middlewares bundles the gateway's request pipeline stages. Order of
// application is fixed: recover -> request ID -> rate limit -> authenticate;
// per-route role gates run inside the proxy handler after route match.
type Middlewares struct {
	jwt         *auth.JWTManager
	publicPaths []string

	rateLimitReqs     int
	rateLimitWindow   time.Duration
	rateLimitDisabled bool
}

// NewMiddlewares builds the middleware set from security configuration.
func NewMiddlewares(jwt *auth.JWTManager, sec config.SecurityConfig) *Middlewares {
	return &Middlewares{
		jwt:               jwt,
		publicPaths:       sec.PublicPaths,
		rateLimitReqs:     sec.RateLimitReqs,
		rateLimitWindow:   sec.RateLimitWindow,
		rateLimitDisabled: sec.RateLimitDisabled,
	}
}

// RateLimit returns a fixed-window per-IP rate limiter built on
// go-chi/httprate. The window resets on wall-clock boundaries rather than
// sliding. Rejections never reach auth, breakers or backends.
func (m *Middlewares) RateLimit() func(http.Handler) http.Handler {
	if m.rateLimitDisabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	window := m.rateLimitWindow
	return httprate.Limit(
		m.rateLimitReqs,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.RateLimitHits.WithLabelValues(r.URL.Path).Inc()
			logging.Ctx(r.Context()).Warn().
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Msg("Rate limit exceeded")
			WriteRateLimited(w, r, window)
		}),
	)
}

// Authenticate verifies the Bearer token on every request outside the
// public-path allow-list and attaches the resulting identity to the request
// context. Public paths pass through with no identity.
func (m *Middlewares) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path, m.publicPaths) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			metrics.AuthFailures.WithLabelValues("missing_header").Inc()
			WriteError(w, r, http.StatusUnauthorized, ErrCodeMissingAuthHeader, "authorization header required")
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			metrics.AuthFailures.WithLabelValues("invalid_format").Inc()
			WriteError(w, r, http.StatusUnauthorized, ErrCodeInvalidAuthFormat, "authorization header must be 'Bearer <token>'")
			return
		}

		claims, err := m.jwt.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
			logging.Ctx(r.Context()).Debug().Err(err).Msg("Token rejected")
			WriteError(w, r, http.StatusUnauthorized, ErrCodeInvalidToken, "token is invalid or expired")
			return
		}

		id := &auth.Identity{Subject: claims.Subject, Roles: claims.Roles}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// Recoverer converts panics into 500 responses so a single faulty request
// cannot take the process down.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logging.Ctx(r.Context()).Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Msg("Handler panicked")
				WriteError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RequestLogger emits one structured log line per completed request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		logging.Ctx(r.Context()).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("Request completed")
	})
}

// statusWriter captures the response status for logging.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Flush lets the proxy stream responses through the status wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// isPublicPath matches a request path against the allow-list. A pattern
// ending in "/*" matches the prefix and everything under it; other patterns
// match exactly.
func isPublicPath(path string, patterns []string) bool {
	for _, p := range patterns {
		if prefix, ok := strings.CutSuffix(p, "/*"); ok {
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				return true
			}
			continue
		}
		if path == p {
			return true
		}
	}
	return false
}
