// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

// Package config defines the gateway configuration model and its loader.
//
// Configuration is loaded via Koanf v2 with layered sources (highest wins):
// environment variables, optional YAML config file, built-in defaults.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration for the gateway process.
type Config struct {
	Server   ServerConfig             `koanf:"server"`
	Security SecurityConfig           `koanf:"security"`
	Breaker  BreakerConfig            `koanf:"breaker"`
	Proxy    ProxyConfig              `koanf:"proxy"`
	Health   HealthConfig             `koanf:"health"`
	Logging  LoggingConfig            `koanf:"logging"`
	Backends map[string]BackendConfig `koanf:"backends"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// DrainTimeout bounds graceful shutdown. In-flight requests that do not
	// complete within this window force a non-zero exit.
	DrainTimeout time.Duration `koanf:"drain_timeout"`
}

// SecurityConfig holds authentication, authorization and rate limit settings.
type SecurityConfig struct {
	JWTSecret      string        `koanf:"jwt_secret"`
	SessionTimeout time.Duration `koanf:"session_timeout"`
	AdminUsername  string        `koanf:"admin_username"`
	AdminPassword  string        `koanf:"admin_password"`
	AdminRoles     []string      `koanf:"admin_roles"`

	// PublicPaths bypass authentication entirely. A trailing "*" matches
	// any suffix ("/public/*").
	PublicPaths []string `koanf:"public_paths"`

	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`

	// LoginAttemptsPerMinute bounds credential-exchange attempts per client IP.
	LoginAttemptsPerMinute int `koanf:"login_attempts_per_minute"`
}

// BreakerConfig holds circuit breaker tuning shared by all backends.
type BreakerConfig struct {
	// ErrorThresholdPercentage opens the circuit once this share of requests
	// in the rolling interval has failed.
	ErrorThresholdPercentage float64 `koanf:"error_threshold_percentage"`

	// MinSamples is the sample floor below which the threshold is not evaluated.
	MinSamples uint32 `koanf:"min_samples"`

	// Interval is the rolling statistics window while closed.
	Interval time.Duration `koanf:"interval"`

	// ResetTimeout is how long an open circuit waits before admitting a probe.
	ResetTimeout time.Duration `koanf:"reset_timeout"`

	// ProbeTimeout bounds a single health probe call.
	ProbeTimeout time.Duration `koanf:"probe_timeout"`
}

// ProxyConfig holds forwarding timeouts.
type ProxyConfig struct {
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ResponseTimeout time.Duration `koanf:"response_timeout"`
}

// HealthConfig holds readiness aggregation settings.
type HealthConfig struct {
	// ProbeTimeout bounds each per-backend readiness probe independently.
	ProbeTimeout time.Duration `koanf:"probe_timeout"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// BackendConfig describes one proxied backend service. The map key in
// Config.Backends is the service name.
type BackendConfig struct {
	// URL is the backend base URL, e.g. "http://users:8081".
	URL string `koanf:"url"`

	// Prefix is the inbound path prefix routed to this backend.
	// Defaults to "/api/v1/<name>".
	Prefix string `koanf:"prefix"`

	// StripPrefix removes Prefix before forwarding. Default true.
	StripPrefix *bool `koanf:"strip_prefix"`

	// HealthPath is the backend's health endpoint, probed by the readiness
	// aggregator and the breaker prober. Defaults to "/health".
	HealthPath string `koanf:"health_path"`

	// RequiredRoles gates the route: a request must carry at least one of
	// these roles. Empty means any authenticated caller.
	RequiredRoles []string `koanf:"required_roles"`
}

// Validate checks the configuration for startup-blocking mistakes.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.DrainTimeout <= 0 {
		return fmt.Errorf("server.drain_timeout must be positive")
	}

	if c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required but was empty")
	}
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters, got %d", len(c.Security.JWTSecret))
	}

	if c.Breaker.ErrorThresholdPercentage <= 0 || c.Breaker.ErrorThresholdPercentage > 100 {
		return fmt.Errorf("breaker.error_threshold_percentage %.1f out of range (0, 100]", c.Breaker.ErrorThresholdPercentage)
	}
	if c.Breaker.ResetTimeout <= 0 {
		return fmt.Errorf("breaker.reset_timeout must be positive")
	}

	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}
	for name, b := range c.Backends {
		u, err := url.Parse(b.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("backend %q: invalid url %q", name, b.URL)
		}
		if b.Prefix != "" && !strings.HasPrefix(b.Prefix, "/") {
			return fmt.Errorf("backend %q: prefix %q must start with '/'", name, b.Prefix)
		}
	}

	return nil
}
