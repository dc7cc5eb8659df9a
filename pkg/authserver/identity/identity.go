// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package identity resolves the authenticated platform user for OAuth
// endpoints. The authorization endpoint needs to know who is granting
// consent; the identity comes from the platform session token, not from
// the OAuth tokens this service issues.
package identity

import (
	"context"
)

// Identity describes the authenticated platform user on whose behalf an
// authorization request is made.
type Identity struct {
	// Subject is the unique identifier for the user (from the 'sub' claim).
	Subject string

	// Name is the human-readable name (from the 'name' claim, if present).
	Name string

	// Email is the email address (from the 'email' claim, if present).
	Email string

	// Claims preserves all session token claims for downstream use.
	Claims map[string]any
}

// contextKey is the key used to store Identity in the request context.
// An empty struct key cannot collide with keys from other packages.
type contextKey struct{}

// WithIdentity stores an Identity in the context. If identity is nil, the
// original context is returned unchanged.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, identity)
}

// FromContext retrieves the Identity from the context. Returns the identity
// and true if present, nil and false otherwise.
func FromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(contextKey{}).(*Identity)
	return identity, ok
}
