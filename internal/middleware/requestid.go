// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

// Package middleware provides HTTP middleware shared across the router.
package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/tomtom215/portway/internal/logging"
)

// RequestIDHeader is the canonical request ID header, sent back to clients
// and forwarded to backends.
const RequestIDHeader = "X-Request-Id"

// RequestID assigns each request its tracing identifiers. An inbound
// X-Request-Id is propagated unchanged so callers can trace requests across
// hops; otherwise a fresh "req-<unix-ms>-<random>" ID is generated. A short
// gateway-local correlation ID is always minted alongside it, so log lines
// stay correlatable even when clients reuse request IDs. Both are stored in
// the request context; the request ID is echoed in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = newRequestID()
		}

		ctx := logging.ContextWithNewCorrelationID(r.Context())
		ctx = logging.ContextWithRequestID(ctx, id)
		w.Header().Set(RequestIDHeader, id)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// newRequestID generates an ID of the form req-1724400000000-9f86d081.
func newRequestID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform source is broken;
		// fall back to a timestamp-only ID rather than aborting the request.
		return fmt.Sprintf("req-%d-00000000", time.Now().UnixMilli())
	}
	return fmt.Sprintf("req-%d-%s", time.Now().UnixMilli(), hex.EncodeToString(buf))
}
