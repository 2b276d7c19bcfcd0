// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

package route

import (
	"testing"

	"github.com/tomtom215/portway/internal/config"
)

func backend(url, prefix string) config.BackendConfig {
	strip := true
	return config.BackendConfig{
		URL:         url,
		Prefix:      prefix,
		StripPrefix: &strip,
		HealthPath:  "/health",
	}
}

func TestMatchLongestPrefixWins(t *testing.T) {
	table, err := NewTable(map[string]config.BackendConfig{
		"users":       backend("http://users:8081", "/api/v1/users"),
		"user-events": backend("http://events:8082", "/api/v1/users/events"),
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	cases := []struct {
		path string
		want string
	}{
		{"/api/v1/users", "users"},
		{"/api/v1/users/42", "users"},
		{"/api/v1/users/events", "user-events"},
		{"/api/v1/users/events/123", "user-events"},
	}
	for _, tc := range cases {
		rt, ok := table.Match(tc.path)
		if !ok {
			t.Errorf("Match(%q) found no route", tc.path)
			continue
		}
		if rt.Name != tc.want {
			t.Errorf("Match(%q) = %q, want %q", tc.path, rt.Name, tc.want)
		}
	}
}

func TestMatchWholeSegmentsOnly(t *testing.T) {
	table, err := NewTable(map[string]config.BackendConfig{
		"users": backend("http://users:8081", "/api/v1/users"),
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	for _, path := range []string{"/api/v1/userstats", "/api/v1/user", "/api/v2/users"} {
		if rt, ok := table.Match(path); ok {
			t.Errorf("Match(%q) = %q, want no match", path, rt.Name)
		}
	}
}

func TestNewTableRejectsDuplicatePrefix(t *testing.T) {
	_, err := NewTable(map[string]config.BackendConfig{
		"a": backend("http://a:1", "/api/v1/x"),
		"b": backend("http://b:2", "/api/v1/x"),
	})
	if err == nil {
		t.Fatal("NewTable accepted duplicate prefixes")
	}
}

func TestHealthURL(t *testing.T) {
	table, err := NewTable(map[string]config.BackendConfig{
		"users": backend("http://users:8081/", "/api/v1/users"),
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	rt, _ := table.Lookup("users")
	if got := rt.HealthURL(); got != "http://users:8081/health" {
		t.Errorf("HealthURL = %q, want http://users:8081/health", got)
	}
}

func TestLookupAndNames(t *testing.T) {
	table, err := NewTable(map[string]config.BackendConfig{
		"users":  backend("http://users:8081", "/api/v1/users"),
		"orders": backend("http://orders:8082", "/api/v1/orders"),
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	if _, ok := table.Lookup("users"); !ok {
		t.Error("Lookup(users) not found")
	}
	if _, ok := table.Lookup("ghost"); ok {
		t.Error("Lookup(ghost) unexpectedly found")
	}
	if names := table.Names(); len(names) != 2 {
		t.Errorf("Names() = %v, want 2 entries", names)
	}
}
