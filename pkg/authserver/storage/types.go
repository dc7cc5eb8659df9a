// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the persistence interface and implementations for
// the OAuth authorization server: registered clients, authorization codes,
// token pairs, and consent grants.
package storage

import (
	"context"
	"time"
)

// Lifetimes for issued artifacts. Authorization codes are short-lived and
// single-use; the access token lifetime is strictly shorter than the refresh
// token lifetime.
const (
	DefaultAuthCodeTTL     = 10 * time.Minute
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// DefaultCleanupInterval is how often the in-memory backend sweeps expired
// rows.
const DefaultCleanupInterval = 5 * time.Minute

// Client is a registered OAuth application.
type Client struct {
	// ID is the internal row identifier.
	ID string

	// Name is the human-readable application name shown on the consent screen.
	Name string

	// Description is an optional blurb for the consent screen.
	Description string

	// ClientID is the public client identifier. Globally unique and immutable.
	ClientID string

	// ClientSecret authenticates the client at the token endpoint. It is
	// returned to the owner exactly once, at registration time, and never
	// through any lookup.
	ClientSecret string

	// RedirectURIs is the allow-list of exact redirect targets. Non-empty;
	// each entry is a syntactically valid absolute URI.
	RedirectURIs []string

	// Scopes is the allow-list of scopes this client may be granted.
	Scopes []string

	// OwnerID is the platform user that registered the application.
	OwnerID string

	LogoURL           string
	WebsiteURL        string
	PrivacyPolicyURL  string
	TermsOfServiceURL string

	// IsActive gates all lookups; deactivated clients behave as unregistered.
	IsActive bool

	// IsVerified marks applications reviewed by the platform.
	IsVerified bool

	CreatedAt time.Time
}

// AuthorizationCode is a single-use, short-lived grant artifact binding a
// client, user, redirect target, scope set, and optional PKCE challenge.
type AuthorizationCode struct {
	// Code is the opaque random code value. Unique.
	Code string

	// ClientID is the public client_id the code was issued to.
	ClientID string

	// UserID is the resource owner that approved the request.
	UserID string

	// RedirectURI is the redirect target the code was bound to. Redemption
	// must present the same value.
	RedirectURI string

	// Scopes is the approved scope set, already filtered against the
	// client's allow-list.
	Scopes []string

	// CodeChallenge and CodeChallengeMethod carry the client's PKCE
	// commitment verbatim, if one was supplied.
	CodeChallenge       string
	CodeChallengeMethod string

	ExpiresAt time.Time

	// UsedAt is nil until the code is redeemed. A code is redeemable exactly
	// once; the transition is made atomically by ConsumeAuthorizationCode.
	UsedAt *time.Time

	CreatedAt time.Time
}

// AccessToken is an opaque bearer credential.
type AccessToken struct {
	Token     string
	ClientID  string
	UserID    string
	Scopes    []string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// RefreshToken is an opaque credential for obtaining a new access token.
// It references the access token it was issued alongside.
type RefreshToken struct {
	Token       string
	AccessToken string
	ClientID    string
	UserID      string
	Scopes      []string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Grant records that a user has approved a client for a scope set. Keyed by
// (ClientID, UserID) and upserted on every successful authorization. It is a
// consent-tracking record, not a security primitive.
type Grant struct {
	ClientID   string
	UserID     string
	Scopes     []string
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Store is the persistence interface consumed by the endpoint handlers.
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateClient persists a newly registered client.
	// Returns ErrAlreadyExists if the client_id is taken.
	CreateClient(ctx context.Context, client *Client) error

	// GetActiveClient looks up an active client by its public client_id.
	// Inactive and unknown clients both return ErrNotFound.
	GetActiveClient(ctx context.Context, clientID string) (*Client, error)

	// CreateAuthorizationCode persists a freshly issued code.
	CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves a code by value, used or not.
	// Returns ErrNotFound if no such code exists.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// ConsumeAuthorizationCode marks a code used at usedAt. The transition
	// is conditional and atomic: it succeeds only if the code exists and is
	// still unused. Returns ErrCodeConsumed if the code was already redeemed
	// and ErrNotFound if it does not exist. Of any number of concurrent
	// calls for the same code, exactly one succeeds.
	ConsumeAuthorizationCode(ctx context.Context, code string, usedAt time.Time) error

	// CreateTokenPair persists an access token and its linked refresh token
	// as a unit.
	CreateTokenPair(ctx context.Context, access *AccessToken, refresh *RefreshToken) error

	// GetAccessToken retrieves an access token by value.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// GetRefreshToken retrieves a refresh token by value.
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// UpsertGrant inserts or updates the consent record for the grant's
	// (ClientID, UserID) pair, replacing scopes and bumping LastUsedAt.
	UpsertGrant(ctx context.Context, grant *Grant) error

	// GetGrant retrieves the consent record for a (client, user) pair.
	GetGrant(ctx context.Context, clientID, userID string) (*Grant, error)

	// PurgeExpired removes dead rows (expired or used codes, expired
	// tokens). Backends with native expiry may make this a no-op.
	PurgeExpired(ctx context.Context, now time.Time) error

	// Health reports whether the backend is reachable.
	Health(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
