// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendora/authserver/pkg/authserver/storage"
	"github.com/spendora/authserver/pkg/authserver/storage/sqlite"
)

func validTestConfig() *Config {
	return &Config{
		LocalUser: "dev",
		Storage:   StorageConfig{Backend: BackendMemory},
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	t.Run("defaults are applied", func(t *testing.T) {
		t.Parallel()
		cfg := validTestConfig()
		require.NoError(t, cfg.Validate())
		assert.Equal(t, ":8080", cfg.ListenAddress)
		assert.Equal(t, storage.DefaultAuthCodeTTL, cfg.AuthCodeLifespan)
		assert.Equal(t, storage.DefaultAccessTokenTTL, cfg.AccessTokenLifespan)
		assert.Equal(t, storage.DefaultRefreshTokenTTL, cfg.RefreshTokenLifespan)
	})

	t.Run("session secret required without local user", func(t *testing.T) {
		t.Parallel()
		cfg := validTestConfig()
		cfg.LocalUser = ""
		assert.Error(t, cfg.Validate())

		cfg.SessionSecret = bytes.Repeat([]byte("a"), MinSessionSecretLength)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("short session secret", func(t *testing.T) {
		t.Parallel()
		cfg := validTestConfig()
		cfg.LocalUser = ""
		cfg.SessionSecret = []byte("too-short")
		assert.Error(t, cfg.Validate())
	})

	t.Run("access lifespan must be shorter than refresh", func(t *testing.T) {
		t.Parallel()
		cfg := validTestConfig()
		cfg.AccessTokenLifespan = time.Hour
		cfg.RefreshTokenLifespan = time.Hour
		assert.Error(t, cfg.Validate())
	})

	t.Run("sqlite requires a path", func(t *testing.T) {
		t.Parallel()
		cfg := validTestConfig()
		cfg.Storage.Backend = BackendSQLite
		assert.Error(t, cfg.Validate())

		cfg.Storage.SQLitePath = "/tmp/auth.db"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("redis requires an address", func(t *testing.T) {
		t.Parallel()
		cfg := validTestConfig()
		cfg.Storage.Backend = BackendRedis
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Parallel()
		cfg := validTestConfig()
		cfg.Storage.Backend = "postgres"
		assert.Error(t, cfg.Validate())
	})
}

func TestNewStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		s, err := NewStore(ctx, &StorageConfig{Backend: BackendMemory})
		require.NoError(t, err)
		require.NoError(t, s.Close())
	})

	t.Run("sqlite", func(t *testing.T) {
		t.Parallel()
		s, err := NewStore(ctx, &StorageConfig{
			Backend:    BackendSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "auth.db"),
		})
		require.NoError(t, err)
		_, ok := s.(*sqlite.Store)
		assert.True(t, ok)
		require.NoError(t, s.Close())
	})

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()
		_, err := NewStore(ctx, &StorageConfig{Backend: "postgres"})
		assert.Error(t, err)
	})
}

func TestNewRouter(t *testing.T) {
	t.Parallel()

	cfg := validTestConfig()
	require.NoError(t, cfg.Validate())

	store := storage.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router, err := NewRouter(logger, store, cfg, prometheus.NewRegistry())
	require.NoError(t, err)

	t.Run("health endpoint", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("metrics endpoint", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("authorize runs as the local user", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{
			"client_id":     "missing",
			"redirect_uri":  "https://x.test/cb",
			"response_type": "code",
		})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/oauth/authorize", bytes.NewReader(body)))
		// The local user is authenticated; the unknown client is the failure.
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_client")
	})
}

func TestRunJanitorStopsOnCancel(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunJanitor(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)), store, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancellation")
	}
}
