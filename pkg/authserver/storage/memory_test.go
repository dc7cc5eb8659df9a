// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(clientID string) *Client {
	return &Client{
		ID:           "row-" + clientID,
		Name:         "Test App",
		ClientID:     clientID,
		ClientSecret: "secret-" + clientID,
		RedirectURIs: []string{"https://app.example.com/cb"},
		Scopes:       []string{"read", "write"},
		OwnerID:      "user-1",
		IsActive:     true,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

func newTestCode(code, clientID string, expiresAt time.Time) *AuthorizationCode {
	return &AuthorizationCode{
		Code:        code,
		ClientID:    clientID,
		UserID:      "user-1",
		RedirectURI: "https://app.example.com/cb",
		Scopes:      []string{"read"},
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func withMemoryStore(t *testing.T, fn func(t *testing.T, s *MemoryStore)) {
	t.Helper()
	s := NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	fn(t, s)
}

func TestMemoryStoreClients(t *testing.T) {
	t.Parallel()

	withMemoryStore(t, func(t *testing.T, s *MemoryStore) {
		ctx := context.Background()

		require.NoError(t, s.CreateClient(ctx, newTestClient("c1")))

		t.Run("duplicate client_id is rejected", func(t *testing.T) {
			err := s.CreateClient(ctx, newTestClient("c1"))
			assert.ErrorIs(t, err, ErrAlreadyExists)
		})

		t.Run("lookup returns a copy", func(t *testing.T) {
			got, err := s.GetActiveClient(ctx, "c1")
			require.NoError(t, err)
			got.RedirectURIs[0] = "https://evil.example.com"

			again, err := s.GetActiveClient(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, "https://app.example.com/cb", again.RedirectURIs[0])
		})

		t.Run("inactive client behaves as unregistered", func(t *testing.T) {
			inactive := newTestClient("c2")
			inactive.IsActive = false
			require.NoError(t, s.CreateClient(ctx, inactive))

			_, err := s.GetActiveClient(ctx, "c2")
			assert.ErrorIs(t, err, ErrNotFound)
		})

		t.Run("unknown client", func(t *testing.T) {
			_, err := s.GetActiveClient(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	})
}

func TestMemoryStoreAuthorizationCodes(t *testing.T) {
	t.Parallel()

	withMemoryStore(t, func(t *testing.T, s *MemoryStore) {
		ctx := context.Background()
		expiry := time.Now().Add(10 * time.Minute)

		require.NoError(t, s.CreateAuthorizationCode(ctx, newTestCode("code1", "c1", expiry)))

		t.Run("get before consume has nil UsedAt", func(t *testing.T) {
			got, err := s.GetAuthorizationCode(ctx, "code1")
			require.NoError(t, err)
			assert.Nil(t, got.UsedAt)
		})

		t.Run("consume succeeds once", func(t *testing.T) {
			usedAt := time.Now().UTC().Truncate(time.Second)
			require.NoError(t, s.ConsumeAuthorizationCode(ctx, "code1", usedAt))

			got, err := s.GetAuthorizationCode(ctx, "code1")
			require.NoError(t, err)
			require.NotNil(t, got.UsedAt)
			assert.Equal(t, usedAt, *got.UsedAt)
		})

		t.Run("second consume fails", func(t *testing.T) {
			err := s.ConsumeAuthorizationCode(ctx, "code1", time.Now())
			assert.ErrorIs(t, err, ErrCodeConsumed)
		})

		t.Run("consuming an unknown code fails", func(t *testing.T) {
			err := s.ConsumeAuthorizationCode(ctx, "missing", time.Now())
			assert.ErrorIs(t, err, ErrNotFound)
		})
	})
}

func TestMemoryStoreConcurrentConsume(t *testing.T) {
	t.Parallel()

	withMemoryStore(t, func(t *testing.T, s *MemoryStore) {
		ctx := context.Background()
		require.NoError(t, s.CreateAuthorizationCode(ctx,
			newTestCode("racy", "c1", time.Now().Add(10*time.Minute))))

		const workers = 32
		var wg sync.WaitGroup
		results := make(chan error, workers)

		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- s.ConsumeAuthorizationCode(ctx, "racy", time.Now())
			}()
		}
		wg.Wait()
		close(results)

		var successes, conflicts int
		for err := range results {
			switch {
			case err == nil:
				successes++
			default:
				require.ErrorIs(t, err, ErrCodeConsumed)
				conflicts++
			}
		}
		assert.Equal(t, 1, successes, "exactly one redemption may succeed")
		assert.Equal(t, workers-1, conflicts)
	})
}

func TestMemoryStoreTokens(t *testing.T) {
	t.Parallel()

	withMemoryStore(t, func(t *testing.T, s *MemoryStore) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)

		access := &AccessToken{
			Token:     "at1",
			ClientID:  "c1",
			UserID:    "user-1",
			Scopes:    []string{"read"},
			ExpiresAt: now.Add(time.Hour),
			CreatedAt: now,
		}
		refresh := &RefreshToken{
			Token:       "rt1",
			AccessToken: "at1",
			ClientID:    "c1",
			UserID:      "user-1",
			Scopes:      []string{"read"},
			ExpiresAt:   now.Add(30 * 24 * time.Hour),
			CreatedAt:   now,
		}
		require.NoError(t, s.CreateTokenPair(ctx, access, refresh))

		gotAccess, err := s.GetAccessToken(ctx, "at1")
		require.NoError(t, err)
		assert.Equal(t, access, gotAccess)

		gotRefresh, err := s.GetRefreshToken(ctx, "rt1")
		require.NoError(t, err)
		assert.Equal(t, "at1", gotRefresh.AccessToken)

		_, err = s.GetAccessToken(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStoreGrants(t *testing.T) {
	t.Parallel()

	withMemoryStore(t, func(t *testing.T, s *MemoryStore) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)

		require.NoError(t, s.UpsertGrant(ctx, &Grant{
			ClientID:   "c1",
			UserID:     "user-1",
			Scopes:     []string{"read"},
			CreatedAt:  now,
			LastUsedAt: now,
		}))

		later := now.Add(time.Hour)
		require.NoError(t, s.UpsertGrant(ctx, &Grant{
			ClientID:   "c1",
			UserID:     "user-1",
			Scopes:     []string{"read", "write"},
			CreatedAt:  later,
			LastUsedAt: later,
		}))

		got, err := s.GetGrant(ctx, "c1", "user-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"read", "write"}, got.Scopes)
		assert.Equal(t, later, got.LastUsedAt)
		assert.Equal(t, now, got.CreatedAt, "upsert must not reset CreatedAt")

		_, err = s.GetGrant(ctx, "c1", "other")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStorePurgeExpired(t *testing.T) {
	t.Parallel()

	withMemoryStore(t, func(t *testing.T, s *MemoryStore) {
		ctx := context.Background()
		now := time.Now()

		require.NoError(t, s.CreateAuthorizationCode(ctx, newTestCode("live", "c1", now.Add(time.Minute))))
		require.NoError(t, s.CreateAuthorizationCode(ctx, newTestCode("dead", "c1", now.Add(-time.Minute))))
		require.NoError(t, s.CreateTokenPair(ctx,
			&AccessToken{Token: "at-dead", ExpiresAt: now.Add(-time.Minute)},
			&RefreshToken{Token: "rt-live", AccessToken: "at-dead", ExpiresAt: now.Add(time.Hour)},
		))

		require.NoError(t, s.PurgeExpired(ctx, now))

		_, err := s.GetAuthorizationCode(ctx, "dead")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetAuthorizationCode(ctx, "live")
		assert.NoError(t, err)
		_, err = s.GetAccessToken(ctx, "at-dead")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetRefreshToken(ctx, "rt-live")
		assert.NoError(t, err)

		stats := s.Stats()
		assert.Equal(t, 1, stats.Codes)
		assert.Equal(t, 0, stats.AccessTokens)
		assert.Equal(t, 1, stats.RefreshTokens)
	})
}

func TestMemoryStoreCleanupLoop(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(WithCleanupInterval(10 * time.Millisecond))
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.CreateAuthorizationCode(ctx,
		newTestCode("short", "c1", time.Now().Add(-time.Second))))

	assert.Eventually(t, func() bool {
		_, err := s.GetAuthorizationCode(ctx, "short")
		return err != nil
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStoreCleanupIntervalIgnoresNonPositive(t *testing.T) {
	t.Parallel()

	for _, interval := range []time.Duration{0, -time.Second} {
		s := NewMemoryStore(WithCleanupInterval(interval))
		require.NoError(t, s.Health(context.Background()))
		require.NoError(t, s.Close())
	}
}
