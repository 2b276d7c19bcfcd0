// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

// Package api provides the gateway's HTTP surface: router, middleware,
// gateway endpoints and the proxy handler.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/portway/internal/logging"
)

// Error codes returned to clients. Codes are stable machine-readable
// identifiers; messages are free to change.
const (
	ErrCodeMissingAuthHeader = "MISSING_AUTH_HEADER"
	ErrCodeInvalidAuthFormat = "INVALID_AUTH_FORMAT"
	ErrCodeInvalidToken      = "INVALID_TOKEN"
	ErrCodeAuthRequired      = "AUTH_REQUIRED"
	ErrCodeForbidden         = "INSUFFICIENT_PERMISSIONS"
	ErrCodeRateLimited       = "RATE_LIMIT_EXCEEDED"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeProxyError        = "PROXY_ERROR"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeInvalidCreds      = "INVALID_CREDENTIALS"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// ErrorBody is the JSON shape of every gateway-originated error. Error and
// Code are always present. Service and Timestamp are set on circuit and
// proxy errors so clients can tell which backend failed and when.
type ErrorBody struct {
	Error      string      `json:"error"`
	Code       string      `json:"code"`
	RequestID  string      `json:"request_id,omitempty"`
	Service    string      `json:"service,omitempty"`
	Timestamp  string      `json:"timestamp,omitempty"`
	RetryAfter int         `json:"retry_after_seconds,omitempty"`
	Details    interface{} `json:"details,omitempty"`
}

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// WriteError writes a gateway error response.
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	WriteJSON(w, statusCode, ErrorBody{
		Error:     message,
		Code:      code,
		RequestID: logging.RequestIDFromContext(r.Context()),
	})
}

// WriteErrorDetails writes an error response with structured details,
// used for validation failures.
func WriteErrorDetails(w http.ResponseWriter, r *http.Request, statusCode int, code, message string, details interface{}) {
	WriteJSON(w, statusCode, ErrorBody{
		Error:     message,
		Code:      code,
		RequestID: logging.RequestIDFromContext(r.Context()),
		Details:   details,
	})
}

// WriteServiceError writes a 503-class error that identifies the failing
// backend, used for circuit-open rejections and proxy failures.
func WriteServiceError(w http.ResponseWriter, r *http.Request, statusCode int, code, message, service string) {
	WriteJSON(w, statusCode, ErrorBody{
		Error:     message,
		Code:      code,
		RequestID: logging.RequestIDFromContext(r.Context()),
		Service:   service,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// WriteRateLimited writes a 429 with a retry hint.
func WriteRateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	WriteJSON(w, http.StatusTooManyRequests, ErrorBody{
		Error:      "rate limit exceeded, retry later",
		Code:       ErrCodeRateLimited,
		RequestID:  logging.RequestIDFromContext(r.Context()),
		RetryAfter: secs,
	})
}
