// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryStore implements Store with in-memory maps. It is thread-safe and
// suitable for development and testing; durable deployments should use the
// SQLite or Redis backends.
type MemoryStore struct {
	mu sync.RWMutex

	// clients maps public client_id -> Client.
	clients map[string]*Client

	// codes maps code value -> AuthorizationCode. Codes stay in the map
	// after redemption (with UsedAt set) so repeat redemption attempts can
	// be distinguished from unknown codes until cleanup removes them.
	codes map[string]*AuthorizationCode

	// accessTokens and refreshTokens map token value -> token row.
	accessTokens  map[string]*AccessToken
	refreshTokens map[string]*RefreshToken

	// grants maps grantKey(clientID, userID) -> Grant.
	grants map[string]*Grant

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
}

// MemoryStoreOption configures a MemoryStore instance.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets a custom cleanup interval. Non-positive values
// are ignored and the default interval is kept.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		if interval > 0 {
			s.cleanupInterval = interval
		}
	}
}

// NewMemoryStore creates a MemoryStore with initialized maps and starts the
// background cleanup goroutine.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		clients:         make(map[string]*Client),
		codes:           make(map[string]*AuthorizationCode),
		accessTokens:    make(map[string]*AccessToken),
		refreshTokens:   make(map[string]*RefreshToken),
		grants:          make(map[string]*Grant),
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Health is a no-op for in-memory storage since it is always available.
func (*MemoryStore) Health(_ context.Context) error {
	return nil
}

// Close stops the background cleanup goroutine and waits for it to finish.
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

func (s *MemoryStore) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			_ = s.PurgeExpired(context.Background(), time.Now())
		}
	}
}

// grantKey builds the composite map key for a (client, user) pair. The length
// prefix keeps keys collision-free even if IDs contain the separator.
func grantKey(clientID, userID string) string {
	return fmt.Sprintf("%d:%s:%s", len(clientID), clientID, userID)
}

// CreateClient persists a newly registered client.
func (s *MemoryStore) CreateClient(_ context.Context, client *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ClientID]; exists {
		return fmt.Errorf("%w: client_id %q", ErrAlreadyExists, client.ClientID)
	}

	s.clients[client.ClientID] = copyClient(client)
	return nil
}

// GetActiveClient looks up an active client by its public client_id.
func (s *MemoryStore) GetActiveClient(_ context.Context, clientID string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok || !client.IsActive {
		return nil, fmt.Errorf("%w: client", ErrNotFound)
	}
	return copyClient(client), nil
}

// CreateAuthorizationCode persists a freshly issued code.
func (s *MemoryStore) CreateAuthorizationCode(_ context.Context, code *AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; exists {
		return fmt.Errorf("%w: authorization code", ErrAlreadyExists)
	}

	s.codes[code.Code] = copyCode(code)
	return nil
}

// GetAuthorizationCode retrieves a code by value, used or not.
func (s *MemoryStore) GetAuthorizationCode(_ context.Context, code string) (*AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.codes[code]
	if !ok {
		return nil, fmt.Errorf("%w: authorization code", ErrNotFound)
	}
	return copyCode(row), nil
}

// ConsumeAuthorizationCode marks a code used, exactly once. The check and
// the write happen under one lock acquisition, so concurrent redemptions of
// the same code serialize and all but the first observe ErrCodeConsumed.
func (s *MemoryStore) ConsumeAuthorizationCode(_ context.Context, code string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.codes[code]
	if !ok {
		return fmt.Errorf("%w: authorization code", ErrNotFound)
	}
	if row.UsedAt != nil {
		return ErrCodeConsumed
	}

	ts := usedAt
	row.UsedAt = &ts
	return nil
}

// CreateTokenPair persists an access token and its linked refresh token.
func (s *MemoryStore) CreateTokenPair(_ context.Context, access *AccessToken, refresh *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accessTokens[access.Token]; exists {
		return fmt.Errorf("%w: access token", ErrAlreadyExists)
	}
	if _, exists := s.refreshTokens[refresh.Token]; exists {
		return fmt.Errorf("%w: refresh token", ErrAlreadyExists)
	}

	s.accessTokens[access.Token] = copyAccessToken(access)
	s.refreshTokens[refresh.Token] = copyRefreshToken(refresh)
	return nil
}

// GetAccessToken retrieves an access token by value.
func (s *MemoryStore) GetAccessToken(_ context.Context, token string) (*AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.accessTokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: access token", ErrNotFound)
	}
	return copyAccessToken(row), nil
}

// GetRefreshToken retrieves a refresh token by value.
func (s *MemoryStore) GetRefreshToken(_ context.Context, token string) (*RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.refreshTokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: refresh token", ErrNotFound)
	}
	return copyRefreshToken(row), nil
}

// UpsertGrant inserts or updates the consent record for a (client, user) pair.
func (s *MemoryStore) UpsertGrant(_ context.Context, grant *Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := grantKey(grant.ClientID, grant.UserID)
	if existing, ok := s.grants[key]; ok {
		existing.Scopes = slices.Clone(grant.Scopes)
		existing.LastUsedAt = grant.LastUsedAt
		return nil
	}

	s.grants[key] = copyGrant(grant)
	return nil
}

// GetGrant retrieves the consent record for a (client, user) pair.
func (s *MemoryStore) GetGrant(_ context.Context, clientID, userID string) (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grant, ok := s.grants[grantKey(clientID, userID)]
	if !ok {
		return nil, fmt.Errorf("%w: grant", ErrNotFound)
	}
	return copyGrant(grant), nil
}

// PurgeExpired removes expired codes and tokens. Used codes are removed once
// expired as well; until then they are kept so redemption retries fail with
// the consumed state rather than not-found.
func (s *MemoryStore) PurgeExpired(_ context.Context, now time.Time) error {
	// Phase 1: collect expired keys under read lock.
	s.mu.RLock()

	var expiredCodes []string
	for k, v := range s.codes {
		if now.After(v.ExpiresAt) {
			expiredCodes = append(expiredCodes, k)
		}
	}

	var expiredAccess []string
	for k, v := range s.accessTokens {
		if now.After(v.ExpiresAt) {
			expiredAccess = append(expiredAccess, k)
		}
	}

	var expiredRefresh []string
	for k, v := range s.refreshTokens {
		if now.After(v.ExpiresAt) {
			expiredRefresh = append(expiredRefresh, k)
		}
	}

	s.mu.RUnlock()

	if len(expiredCodes) == 0 && len(expiredAccess) == 0 && len(expiredRefresh) == 0 {
		return nil
	}

	// Phase 2: delete under write lock.
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range expiredCodes {
		delete(s.codes, k)
	}
	for _, k := range expiredAccess {
		delete(s.accessTokens, k)
	}
	for _, k := range expiredRefresh {
		delete(s.refreshTokens, k)
	}

	return nil
}

// Stats contains row counts for testing and monitoring.
type Stats struct {
	Clients       int
	Codes         int
	AccessTokens  int
	RefreshTokens int
	Grants        int
}

// Stats returns current row counts.
func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Clients:       len(s.clients),
		Codes:         len(s.codes),
		AccessTokens:  len(s.accessTokens),
		RefreshTokens: len(s.refreshTokens),
		Grants:        len(s.grants),
	}
}

// Defensive copies prevent callers from aliasing rows held under the lock.

func copyClient(c *Client) *Client {
	out := *c
	out.RedirectURIs = slices.Clone(c.RedirectURIs)
	out.Scopes = slices.Clone(c.Scopes)
	return &out
}

func copyCode(c *AuthorizationCode) *AuthorizationCode {
	out := *c
	out.Scopes = slices.Clone(c.Scopes)
	if c.UsedAt != nil {
		ts := *c.UsedAt
		out.UsedAt = &ts
	}
	return &out
}

func copyAccessToken(t *AccessToken) *AccessToken {
	out := *t
	out.Scopes = slices.Clone(t.Scopes)
	return &out
}

func copyRefreshToken(t *RefreshToken) *RefreshToken {
	out := *t
	out.Scopes = slices.Clone(t.Scopes)
	return &out
}

func copyGrant(g *Grant) *Grant {
	out := *g
	out.Scopes = slices.Clone(g.Scopes)
	return &out
}

// Compile-time interface compliance check
var _ Store = (*MemoryStore)(nil)
