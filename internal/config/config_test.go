// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

package config

import (
	"strings"
	"testing"
	"time"
)

const validSecret = "test-secret-key-at-least-32-chars-long"

func TestLoadDefaultsWithEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", validSecret)
	t.Setenv("BACKEND_USERS_URL", "http://users:8081")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Security.RateLimitReqs != 100 || cfg.Security.RateLimitWindow != time.Minute {
		t.Errorf("rate limit = %d/%v, want 100/1m", cfg.Security.RateLimitReqs, cfg.Security.RateLimitWindow)
	}
	if cfg.Breaker.ErrorThresholdPercentage != 50 {
		t.Errorf("breaker threshold = %v, want 50", cfg.Breaker.ErrorThresholdPercentage)
	}
	if cfg.Server.DrainTimeout != 10*time.Second {
		t.Errorf("drain timeout = %v, want 10s", cfg.Server.DrainTimeout)
	}

	b, ok := cfg.Backends["users"]
	if !ok {
		t.Fatalf("backend users missing: %+v", cfg.Backends)
	}
	if b.URL != "http://users:8081" {
		t.Errorf("backend url = %q", b.URL)
	}
	// Name-derived defaults.
	if b.Prefix != "/api/v1/users" {
		t.Errorf("backend prefix = %q, want /api/v1/users", b.Prefix)
	}
	if b.HealthPath != "/health" {
		t.Errorf("backend health path = %q, want /health", b.HealthPath)
	}
	if b.StripPrefix == nil || !*b.StripPrefix {
		t.Error("backend strip_prefix should default to true")
	}
}

func TestLoadBackendEnvFields(t *testing.T) {
	t.Setenv("JWT_SECRET", validSecret)
	t.Setenv("BACKEND_ORDERS_URL", "http://orders:8082")
	t.Setenv("BACKEND_ORDERS_PREFIX", "/api/v1/order-service")
	t.Setenv("BACKEND_ORDERS_HEALTH_PATH", "/healthz")
	t.Setenv("BACKEND_ORDERS_REQUIRED_ROLES", "ADMIN, ORDERS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	b := cfg.Backends["orders"]
	if b.Prefix != "/api/v1/order-service" {
		t.Errorf("prefix = %q", b.Prefix)
	}
	if b.HealthPath != "/healthz" {
		t.Errorf("health path = %q", b.HealthPath)
	}
	if len(b.RequiredRoles) != 2 || b.RequiredRoles[0] != "ADMIN" || b.RequiredRoles[1] != "ORDERS" {
		t.Errorf("required roles = %v, want [ADMIN ORDERS]", b.RequiredRoles)
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("BACKEND_USERS_URL", "http://users:8081")

	if _, err := Load(); err == nil {
		t.Fatal("Load accepted empty JWT secret")
	}
}

func TestLoadRejectsShortJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "too-short")
	t.Setenv("BACKEND_USERS_URL", "http://users:8081")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "32 characters") {
		t.Fatalf("Load error = %v, want 32-character complaint", err)
	}
}

func TestLoadRequiresBackends(t *testing.T) {
	t.Setenv("JWT_SECRET", validSecret)

	if _, err := Load(); err == nil {
		t.Fatal("Load accepted a configuration with no backends")
	}
}

func TestEnvTransform(t *testing.T) {
	cases := []struct {
		env  string
		want string
	}{
		{"JWT_SECRET", "security.jwt_secret"},
		{"RATE_LIMIT_REQUESTS", "security.rate_limit_reqs"},
		{"BREAKER_RESET_TIMEOUT", "breaker.reset_timeout"},
		{"BACKEND_USERS_URL", "backends.users.url"},
		{"BACKEND_USERS_REQUIRED_ROLES", "backends.users.required_roles"},
		{"BACKEND_ORDER_SVC_URL", "backends.order_svc.url"},
		{"PATH", ""},
		{"RANDOM_UNRELATED_VAR", ""},
	}
	for _, tc := range cases {
		if got := envTransformFunc(tc.env); got != tc.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tc.env, got, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Security.JWTSecret = validSecret
		cfg.Backends = map[string]BackendConfig{
			"users": {URL: "http://users:8081", Prefix: "/api/v1/users"},
		}
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 99999 }},
		{"zero drain timeout", func(c *Config) { c.Server.DrainTimeout = 0 }},
		{"threshold over 100", func(c *Config) { c.Breaker.ErrorThresholdPercentage = 150 }},
		{"zero reset timeout", func(c *Config) { c.Breaker.ResetTimeout = 0 }},
		{"bad backend url", func(c *Config) {
			c.Backends["users"] = BackendConfig{URL: "not a url", Prefix: "/x"}
		}},
		{"prefix without slash", func(c *Config) {
			c.Backends["users"] = BackendConfig{URL: "http://u:1", Prefix: "users"}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted invalid config")
			}
		})
	}
}
