// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

package api

import (
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/portway/internal/auth"
	"github.com/tomtom215/portway/internal/config"
	"github.com/tomtom215/portway/internal/logging"
	"github.com/tomtom215/portway/internal/validation"
)

// maxLoginBodyBytes bounds the login request body.
const maxLoginBodyBytes = 4 << 10

// LoginRequest is the credential-exchange request body.
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=1,max=128"`
	Password string `json:"password" validate:"required,min=1,max=256"`
}

// LoginResponse carries the issued token.
type LoginResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthHandler exchanges admin credentials for a JWT. The gateway supports a
// single operator account configured through the environment; backend
// services issue their own user tokens with the shared secret.
type AuthHandler struct {
	jwt          *auth.JWTManager
	limiter      *auth.LoginLimiter
	username     string
	passwordHash string
	roles        []string
	tokenTTL     time.Duration
}

// NewAuthHandler prepares the login endpoint. Returns nil when no admin
// account is configured, in which case the route is not registered.
func NewAuthHandler(jwt *auth.JWTManager, sec config.SecurityConfig) (*AuthHandler, error) {
	if sec.AdminUsername == "" || sec.AdminPassword == "" {
		return nil, nil
	}

	hash, err := auth.PreparePasswordHash(sec.AdminPassword)
	if err != nil {
		return nil, err
	}

	return &AuthHandler{
		jwt:          jwt,
		limiter:      auth.NewLoginLimiter(sec.LoginAttemptsPerMinute),
		username:     sec.AdminUsername,
		passwordHash: hash,
		roles:        sec.AdminRoles,
		tokenTTL:     sec.SessionTimeout,
	}, nil
}

// handleLogin implements POST /api/v1/auth/login.
func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !h.limiter.Allow(ip) {
		logging.Ctx(r.Context()).Warn().Str("remote", ip).Msg("Login attempts throttled")
		WriteRateLimited(w, r, time.Minute)
		return
	}

	var req LoginRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBodyBytes))
	if err := dec.Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, "malformed request body")
		return
	}
	if errs := validation.Struct(req); errs != nil {
		WriteErrorDetails(w, r, http.StatusBadRequest, ErrCodeValidationFailed, "invalid request body", errs)
		return
	}

	// bcrypt comparison runs even on a wrong username so response timing
	// does not reveal which credential was wrong.
	usernameOK := req.Username == h.username
	passwordOK := auth.VerifyPassword(h.passwordHash, req.Password)
	if !usernameOK || !passwordOK {
		logging.Ctx(r.Context()).Warn().Str("remote", ip).Msg("Login failed")
		WriteError(w, r, http.StatusUnauthorized, ErrCodeInvalidCreds, "invalid username or password")
		return
	}

	token, err := h.jwt.GenerateToken(h.username, h.roles)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Token generation failed")
		WriteError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
		return
	}

	logging.Ctx(r.Context()).Info().Str("username", h.username).Msg("Login succeeded")
	WriteJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: time.Now().Add(h.tokenTTL).UTC(),
	})
}

// clientIP extracts the remote IP without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
