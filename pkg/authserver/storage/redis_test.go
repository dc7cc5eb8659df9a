// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withRedisStore(t *testing.T, fn func(t *testing.T, s *RedisStore, mr *miniredis.Miniredis)) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client, "test:oauth:")
	t.Cleanup(func() { _ = s.Close() })

	fn(t, s, mr)
}

func TestRedisStoreClients(t *testing.T) {
	t.Parallel()

	withRedisStore(t, func(t *testing.T, s *RedisStore, _ *miniredis.Miniredis) {
		ctx := context.Background()

		want := newTestClient("c1")
		require.NoError(t, s.CreateClient(ctx, want))

		got, err := s.GetActiveClient(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, want.ClientID, got.ClientID)
		assert.Equal(t, want.ClientSecret, got.ClientSecret)
		assert.Equal(t, want.RedirectURIs, got.RedirectURIs)
		assert.Equal(t, want.Scopes, got.Scopes)
		assert.Equal(t, want.CreatedAt, got.CreatedAt)

		assert.ErrorIs(t, s.CreateClient(ctx, newTestClient("c1")), ErrAlreadyExists)

		inactive := newTestClient("c2")
		inactive.IsActive = false
		require.NoError(t, s.CreateClient(ctx, inactive))
		_, err = s.GetActiveClient(ctx, "c2")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.GetActiveClient(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRedisStoreAuthorizationCodes(t *testing.T) {
	t.Parallel()

	withRedisStore(t, func(t *testing.T, s *RedisStore, mr *miniredis.Miniredis) {
		ctx := context.Background()
		expiry := time.Now().Add(10 * time.Minute)

		code := newTestCode("code1", "c1", expiry)
		code.CodeChallenge = "challenge"
		code.CodeChallengeMethod = "S256"
		require.NoError(t, s.CreateAuthorizationCode(ctx, code))

		t.Run("roundtrip", func(t *testing.T) {
			got, err := s.GetAuthorizationCode(ctx, "code1")
			require.NoError(t, err)
			assert.Equal(t, "challenge", got.CodeChallenge)
			assert.Equal(t, "S256", got.CodeChallengeMethod)
			assert.Nil(t, got.UsedAt)
		})

		t.Run("consume is single-use", func(t *testing.T) {
			usedAt := time.Now().UTC().Truncate(time.Second)
			require.NoError(t, s.ConsumeAuthorizationCode(ctx, "code1", usedAt))

			got, err := s.GetAuthorizationCode(ctx, "code1")
			require.NoError(t, err)
			require.NotNil(t, got.UsedAt)
			assert.Equal(t, usedAt, *got.UsedAt)

			assert.ErrorIs(t, s.ConsumeAuthorizationCode(ctx, "code1", time.Now()), ErrCodeConsumed)
		})

		t.Run("unknown code", func(t *testing.T) {
			assert.ErrorIs(t, s.ConsumeAuthorizationCode(ctx, "missing", time.Now()), ErrNotFound)
		})

		t.Run("record evicted after TTL", func(t *testing.T) {
			mr.FastForward(11*time.Minute + time.Minute)
			_, err := s.GetAuthorizationCode(ctx, "code1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	})
}

func TestRedisStoreLongLivedCodeStaysConsumed(t *testing.T) {
	t.Parallel()

	withRedisStore(t, func(t *testing.T, s *RedisStore, mr *miniredis.Miniredis) {
		ctx := context.Background()

		// Deployments may issue codes with lifespans beyond the default.
		// The redemption marker must live as long as the record does,
		// otherwise the code would read as unused again mid-lifetime.
		code := newTestCode("code-long", "c1", time.Now().Add(30*time.Minute))
		require.NoError(t, s.CreateAuthorizationCode(ctx, code))

		usedAt := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, s.ConsumeAuthorizationCode(ctx, "code-long", usedAt))

		mr.FastForward(12 * time.Minute)

		got, err := s.GetAuthorizationCode(ctx, "code-long")
		require.NoError(t, err)
		require.NotNil(t, got.UsedAt, "code must still read as used")
		assert.Equal(t, usedAt, *got.UsedAt)

		assert.ErrorIs(t, s.ConsumeAuthorizationCode(ctx, "code-long", time.Now()), ErrCodeConsumed)
	})
}

func TestRedisStoreTokens(t *testing.T) {
	t.Parallel()

	withRedisStore(t, func(t *testing.T, s *RedisStore, mr *miniredis.Miniredis) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)

		access := &AccessToken{
			Token:     "at1",
			ClientID:  "c1",
			UserID:    "user-1",
			Scopes:    []string{"read", "write"},
			ExpiresAt: now.Add(time.Hour),
			CreatedAt: now,
		}
		refresh := &RefreshToken{
			Token:       "rt1",
			AccessToken: "at1",
			ClientID:    "c1",
			UserID:      "user-1",
			Scopes:      []string{"read", "write"},
			ExpiresAt:   now.Add(30 * 24 * time.Hour),
			CreatedAt:   now,
		}
		require.NoError(t, s.CreateTokenPair(ctx, access, refresh))

		gotAccess, err := s.GetAccessToken(ctx, "at1")
		require.NoError(t, err)
		assert.Equal(t, access, gotAccess)

		gotRefresh, err := s.GetRefreshToken(ctx, "rt1")
		require.NoError(t, err)
		assert.Equal(t, refresh, gotRefresh)

		// The access token expires first; the refresh token outlives it.
		mr.FastForward(2 * time.Hour)
		_, err = s.GetAccessToken(ctx, "at1")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetRefreshToken(ctx, "rt1")
		assert.NoError(t, err)
	})
}

func TestRedisStoreGrants(t *testing.T) {
	t.Parallel()

	withRedisStore(t, func(t *testing.T, s *RedisStore, _ *miniredis.Miniredis) {
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

func TestRedisStoreHealth(t *testing.T) {
	t.Parallel()

	withRedisStore(t, func(t *testing.T, s *RedisStore, mr *miniredis.Miniredis) {
		require.NoError(t, s.Health(context.Background()))
		mr.Close()
		assert.Error(t, s.Health(context.Background()))
	})
}
