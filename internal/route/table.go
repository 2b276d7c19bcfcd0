// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

// Package route holds the static mapping from URL path prefixes to named
// backend services. The table is built once at startup and never mutated.
package route

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/tomtom215/portway/internal/config"
)

// Route describes one proxied backend service.
type Route struct {
	// Name is the unique service name, used as the breaker key and in
	// error responses.
	Name string

	// BaseURL is the backend base URL requests are forwarded to.
	BaseURL *url.URL

	// Prefix is the inbound path prefix matched against request paths.
	Prefix string

	// StripPrefix removes Prefix from the forwarded path.
	StripPrefix bool

	// HealthPath is the backend health endpoint relative to BaseURL.
	HealthPath string

	// RequiredRoles gates the route; empty means any authenticated caller.
	RequiredRoles []string
}

// HealthURL returns the absolute URL of the backend's health endpoint.
func (r *Route) HealthURL() string {
	return strings.TrimRight(r.BaseURL.String(), "/") + r.HealthPath
}

// Table is an immutable prefix-routing table. Longest prefix wins.
type Table struct {
	routes []*Route // sorted by descending prefix length
	byName map[string]*Route
}

// NewTable builds a routing table from backend configuration.
func NewTable(backends map[string]config.BackendConfig) (*Table, error) {
	t := &Table{byName: make(map[string]*Route, len(backends))}

	seen := make(map[string]string, len(backends))
	for name, b := range backends {
		base, err := url.Parse(b.URL)
		if err != nil {
			return nil, fmt.Errorf("backend %q: invalid url: %w", name, err)
		}
		if prev, dup := seen[b.Prefix]; dup {
			return nil, fmt.Errorf("backend %q: prefix %q already used by %q", name, b.Prefix, prev)
		}
		seen[b.Prefix] = name

		strip := true
		if b.StripPrefix != nil {
			strip = *b.StripPrefix
		}
		r := &Route{
			Name:          name,
			BaseURL:       base,
			Prefix:        strings.TrimRight(b.Prefix, "/"),
			StripPrefix:   strip,
			HealthPath:    b.HealthPath,
			RequiredRoles: b.RequiredRoles,
		}
		t.routes = append(t.routes, r)
		t.byName[name] = r
	}

	sort.Slice(t.routes, func(i, j int) bool {
		return len(t.routes[i].Prefix) > len(t.routes[j].Prefix)
	})

	return t, nil
}

// Match returns the route whose prefix matches the request path, longest
// prefix first. A prefix matches whole path segments only: "/api/v1/users"
// matches "/api/v1/users" and "/api/v1/users/42" but not "/api/v1/userstats".
func (t *Table) Match(path string) (*Route, bool) {
	for _, r := range t.routes {
		if path == r.Prefix || strings.HasPrefix(path, r.Prefix+"/") {
			return r, true
		}
	}
	return nil, false
}

// Lookup returns the route registered under the given service name.
func (t *Table) Lookup(name string) (*Route, bool) {
	r, ok := t.byName[name]
	return r, ok
}

// Routes returns all routes in match order.
func (t *Table) Routes() []*Route {
	return t.routes
}

// Names returns all service names in stable (match) order.
func (t *Table) Names() []string {
	names := make([]string, len(t.routes))
	for i, r := range t.routes {
		names[i] = r.Name
	}
	return names
}
