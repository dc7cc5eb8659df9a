// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spendora/authserver/pkg/authserver/storage"
	"github.com/spendora/authserver/pkg/authserver/storage/sqlite"
)

// MinSessionSecretLength is the minimum length of the session HMAC secret
// in bytes, per OWASP/NIST guidance for HS256 keys.
const MinSessionSecretLength = 32

// Storage backend names accepted by Config.Storage.Backend.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config is the fully resolved configuration for the authorization server.
// All values must be concrete (no file paths to secrets, no env var names).
type Config struct {
	// ListenAddress is the host:port the HTTP server binds to.
	ListenAddress string

	// SessionSecret is the HMAC key for validating platform session
	// tokens on the authorize and client-registration endpoints.
	// Ignored when LocalUser is set.
	SessionSecret []byte

	// SessionIssuer and SessionAudience optionally pin the session
	// token's iss/aud claims.
	SessionIssuer   string
	SessionAudience string

	// LocalUser, if non-empty, bypasses session validation and treats
	// every request as this user. Development only.
	LocalUser string

	// AuthCodeLifespan is how long issued codes are redeemable.
	// If zero, defaults to 10 minutes.
	AuthCodeLifespan time.Duration

	// AccessTokenLifespan is the access token validity window.
	// If zero, defaults to 1 hour.
	AccessTokenLifespan time.Duration

	// RefreshTokenLifespan is the refresh token validity window.
	// If zero, defaults to 30 days.
	RefreshTokenLifespan time.Duration

	// Storage selects and configures the persistence backend.
	Storage StorageConfig
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is one of "memory", "sqlite" or "redis".
	Backend string

	// SQLitePath is the database file path for the sqlite backend.
	SQLitePath string

	// Redis configures the redis backend.
	Redis storage.RedisConfig
}

// applyDefaults fills zero-valued lifespans and backend selection.
func (c *Config) applyDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = ":8080"
	}
	if c.AuthCodeLifespan == 0 {
		c.AuthCodeLifespan = storage.DefaultAuthCodeTTL
	}
	if c.AccessTokenLifespan == 0 {
		c.AccessTokenLifespan = storage.DefaultAccessTokenTTL
	}
	if c.RefreshTokenLifespan == 0 {
		c.RefreshTokenLifespan = storage.DefaultRefreshTokenTTL
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemory
	}
	if c.Storage.Redis.KeyPrefix == "" {
		c.Storage.Redis.KeyPrefix = "spendora:oauth:"
	}
}

// Validate checks that the Config is usable.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.LocalUser == "" && len(c.SessionSecret) < MinSessionSecretLength {
		return fmt.Errorf("session secret must be at least %d bytes", MinSessionSecretLength)
	}

	if c.AccessTokenLifespan >= c.RefreshTokenLifespan {
		return errors.New("access token lifespan must be shorter than refresh token lifespan")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("sqlite backend requires a database path")
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			return errors.New("redis backend requires an address")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	return nil
}

// NewStore builds the storage backend selected by the config. The caller
// owns the returned store and must Close it.
func NewStore(ctx context.Context, cfg *StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return storage.NewMemoryStore(), nil
	case BackendSQLite:
		return sqlite.New(ctx, cfg.SQLitePath)
	case BackendRedis:
		return storage.NewRedisStore(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
