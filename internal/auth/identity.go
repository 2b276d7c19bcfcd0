// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

package auth

import (
	"context"
	"strings"
)

// Identity is the authenticated caller attached to a request after token
// verification. Requests on public paths carry no identity.
type Identity struct {
	Subject string
	Roles   []string
}

// HasAnyRole reports whether the identity carries at least one of the
// required roles. Comparison is case-sensitive. An empty requirement
// admits any identity.
func (id *Identity) HasAnyRole(required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, want := range required {
		for _, have := range id.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// RolesHeader renders the role list for the upstream identity header.
func (id *Identity) RolesHeader() string {
	return strings.Join(id.Roles, ",")
}

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity attaches the verified identity to the request context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext retrieves the caller identity, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}
