// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/portway/config.yaml",
	"/etc/portway/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all sensible default values.
// These are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			DrainTimeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			JWTSecret:      "",
			SessionTimeout: 24 * time.Hour,
			AdminUsername:  "",
			AdminPassword:  "",
			AdminRoles:     []string{"ADMIN"},
			PublicPaths: []string{
				"/health",
				"/readyz",
				"/metrics",
				"/public/*",
				"/api/v1/auth/*",
			},
			RateLimitReqs:          100,
			RateLimitWindow:        time.Minute,
			RateLimitDisabled:      false,
			LoginAttemptsPerMinute: 5,
		},
		Breaker: BreakerConfig{
			ErrorThresholdPercentage: 50,
			MinSamples:               10,
			Interval:                 10 * time.Second,
			ResetTimeout:             30 * time.Second,
			ProbeTimeout:             2 * time.Second,
		},
		Proxy: ProxyConfig{
			ConnectTimeout:  5 * time.Second,
			ResponseTimeout: 5 * time.Second,
		},
		Health: HealthConfig{
			ProbeTimeout: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Backends: map[string]BackendConfig{},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if it exists)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Environment variables have the highest priority.
	// JWT_SECRET -> security.jwt_secret, BACKEND_USERS_URL -> backends.users.url
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	applyBackendDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyBackendDefaults fills per-backend fields that default from the service name.
func applyBackendDefaults(cfg *Config) {
	for name, b := range cfg.Backends {
		if b.Prefix == "" {
			b.Prefix = "/api/v1/" + name
		}
		if b.HealthPath == "" {
			b.HealthPath = "/health"
		}
		if b.StripPrefix == nil {
			strip := true
			b.StripPrefix = &strip
		}
		cfg.Backends[name] = b
	}
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths are parsed as comma-separated
// slices when supplied through the environment.
var sliceConfigPaths = []string{
	"security.public_paths",
	"security.admin_roles",
}

// processSliceFields converts comma-separated string values to slices for known
// slice fields. Env vars arrive as strings but the config expects slices.
// Per-backend required_roles are handled dynamically since backend names are
// not known in advance.
func processSliceFields(k *koanf.Koanf) error {
	paths := append([]string{}, sliceConfigPaths...)
	for _, key := range k.Keys() {
		if strings.HasPrefix(key, "backends.") && strings.HasSuffix(key, ".required_roles") {
			paths = append(paths, key)
		}
	}

	for _, path := range paths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		// Already a slice (from YAML) - skip.
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - JWT_SECRET -> security.jwt_secret
//   - RATE_LIMIT_REQUESTS -> security.rate_limit_reqs
//   - BREAKER_RESET_TIMEOUT -> breaker.reset_timeout
//   - BACKEND_USERS_URL -> backends.users.url
//   - BACKEND_USERS_REQUIRED_ROLES -> backends.users.required_roles
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	// Dynamic backend mapping: BACKEND_<NAME>_<FIELD>.
	if rest, ok := strings.CutPrefix(key, "backend_"); ok {
		for _, field := range []string{"url", "prefix", "strip_prefix", "health_path", "required_roles"} {
			if name, found := strings.CutSuffix(rest, "_"+field); found && name != "" {
				return "backends." + name + "." + field
			}
		}
		return ""
	}

	envMappings := map[string]string{
		// Server mappings
		"http_host":     "server.host",
		"http_port":     "server.port",
		"read_timeout":  "server.read_timeout",
		"write_timeout": "server.write_timeout",
		"drain_timeout": "server.drain_timeout",

		// Security mappings
		"jwt_secret":                "security.jwt_secret",
		"session_timeout":           "security.session_timeout",
		"admin_username":            "security.admin_username",
		"admin_password":            "security.admin_password",
		"admin_roles":               "security.admin_roles",
		"public_paths":              "security.public_paths",
		"rate_limit_requests":       "security.rate_limit_reqs",
		"rate_limit_window":         "security.rate_limit_window",
		"disable_rate_limit":        "security.rate_limit_disabled",
		"login_attempts_per_minute": "security.login_attempts_per_minute",

		// Circuit breaker mappings
		"breaker_error_threshold": "breaker.error_threshold_percentage",
		"breaker_min_samples":     "breaker.min_samples",
		"breaker_interval":        "breaker.interval",
		"breaker_reset_timeout":   "breaker.reset_timeout",
		"breaker_probe_timeout":   "breaker.probe_timeout",

		// Proxy mappings
		"proxy_connect_timeout":  "proxy.connect_timeout",
		"proxy_response_timeout": "proxy.response_timeout",

		// Health mappings
		"health_probe_timeout": "health.probe_timeout",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unmapped keys are skipped so random environment variables do not
	// pollute the configuration.
	return ""
}
