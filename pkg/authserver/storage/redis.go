// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// Key type segments used to namespace records within the key prefix.
const (
	keyTypeClient   = "client"
	keyTypeAuthCode = "code"
	keyTypeCodeUsed = "code-used"
	keyTypeAccess   = "access"
	keyTypeRefresh  = "refresh"
	keyTypeGrant    = "grant"
)

// RedisConfig holds Redis connection configuration for runtime use.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Username and Password authenticate against Redis ACLs. Both may be
	// empty for unauthenticated local instances.
	Username string
	Password string

	// DB selects the Redis logical database.
	DB int

	// KeyPrefix namespaces all keys, e.g. "spendora:oauth:".
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore implements Store on a Redis backend, enabling horizontal
// scaling of the issuance service. Expiry is delegated to Redis TTLs, so
// PurgeExpired is a no-op for this backend.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore creates Redis-backed storage. Returns an error if the
// configuration is invalid or the server cannot be reached.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		return nil, errors.New("redis key prefix is required")
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

// NewRedisStoreWithClient creates a RedisStore with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Health checks Redis connectivity.
func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(keyType, id string) string {
	return s.keyPrefix + keyType + ":" + id
}

// -----------------------
// Clients
// -----------------------

// storedClient is the JSON shape of a client record in Redis.
type storedClient struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	ClientID          string   `json:"client_id"`
	ClientSecret      string   `json:"client_secret"`
	RedirectURIs      []string `json:"redirect_uris"`
	Scopes            []string `json:"scopes"`
	OwnerID           string   `json:"owner_id"`
	LogoURL           string   `json:"logo_url,omitempty"`
	WebsiteURL        string   `json:"website_url,omitempty"`
	PrivacyPolicyURL  string   `json:"privacy_policy_url,omitempty"`
	TermsOfServiceURL string   `json:"terms_of_service_url,omitempty"`
	IsActive          bool     `json:"is_active"`
	IsVerified        bool     `json:"is_verified"`
	CreatedAt         int64    `json:"created_at"`
}

// CreateClient persists a newly registered client. Clients do not expire.
func (s *RedisStore) CreateClient(ctx context.Context, client *Client) error {
	key := s.key(keyTypeClient, client.ClientID)

	data, err := json.Marshal(storedClient{
		ID:                client.ID,
		Name:              client.Name,
		Description:       client.Description,
		ClientID:          client.ClientID,
		ClientSecret:      client.ClientSecret,
		RedirectURIs:      client.RedirectURIs,
		Scopes:            client.Scopes,
		OwnerID:           client.OwnerID,
		LogoURL:           client.LogoURL,
		WebsiteURL:        client.WebsiteURL,
		PrivacyPolicyURL:  client.PrivacyPolicyURL,
		TermsOfServiceURL: client.TermsOfServiceURL,
		IsActive:          client.IsActive,
		IsVerified:        client.IsVerified,
		CreatedAt:         client.CreatedAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	ok, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store client: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: client_id %q", ErrAlreadyExists, client.ClientID)
	}
	return nil
}

// GetActiveClient looks up an active client by its public client_id.
func (s *RedisStore) GetActiveClient(ctx context.Context, clientID string) (*Client, error) {
	key := s.key(keyTypeClient, clientID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: client", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var stored storedClient
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	if !stored.IsActive {
		return nil, fmt.Errorf("%w: client", ErrNotFound)
	}

	return &Client{
		ID:                stored.ID,
		Name:              stored.Name,
		Description:       stored.Description,
		ClientID:          stored.ClientID,
		ClientSecret:      stored.ClientSecret,
		RedirectURIs:      slices.Clone(stored.RedirectURIs),
		Scopes:            slices.Clone(stored.Scopes),
		OwnerID:           stored.OwnerID,
		LogoURL:           stored.LogoURL,
		WebsiteURL:        stored.WebsiteURL,
		PrivacyPolicyURL:  stored.PrivacyPolicyURL,
		TermsOfServiceURL: stored.TermsOfServiceURL,
		IsActive:          stored.IsActive,
		IsVerified:        stored.IsVerified,
		CreatedAt:         time.Unix(stored.CreatedAt, 0).UTC(),
	}, nil
}

// -----------------------
// Authorization codes
// -----------------------

// storedCode is the JSON shape of an authorization code record in Redis.
// The used-at marker lives in a separate key so redemption can be a single
// atomic SETNX rather than a read-modify-write.
type storedCode struct {
	Code                string   `json:"code"`
	ClientID            string   `json:"client_id"`
	UserID              string   `json:"user_id"`
	RedirectURI         string   `json:"redirect_uri"`
	Scopes              []string `json:"scopes"`
	CodeChallenge       string   `json:"code_challenge,omitempty"`
	CodeChallengeMethod string   `json:"code_challenge_method,omitempty"`
	ExpiresAt           int64    `json:"expires_at"`
	CreatedAt           int64    `json:"created_at"`
}

// CreateAuthorizationCode persists a freshly issued code with a TTL through
// its expiry.
func (s *RedisStore) CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	key := s.key(keyTypeAuthCode, code.Code)

	data, err := json.Marshal(storedCode{
		Code:                code.Code,
		ClientID:            code.ClientID,
		UserID:              code.UserID,
		RedirectURI:         code.RedirectURI,
		Scopes:              code.Scopes,
		CodeChallenge:       code.CodeChallenge,
		CodeChallengeMethod: code.CodeChallengeMethod,
		ExpiresAt:           code.ExpiresAt.Unix(),
		CreatedAt:           code.CreatedAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	// Keep the record for a grace period past expiry so redemptions of a
	// just-expired code see the expired state, not an unknown code.
	ttl := time.Until(code.ExpiresAt) + time.Minute
	if ttl <= 0 {
		ttl = time.Minute
	}

	ok, err := s.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store authorization code: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: authorization code", ErrAlreadyExists)
	}
	return nil
}

// GetAuthorizationCode retrieves a code by value, used or not.
func (s *RedisStore) GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	data, err := s.client.Get(ctx, s.key(keyTypeAuthCode, code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: authorization code", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	var stored storedCode
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	row := &AuthorizationCode{
		Code:                stored.Code,
		ClientID:            stored.ClientID,
		UserID:              stored.UserID,
		RedirectURI:         stored.RedirectURI,
		Scopes:              slices.Clone(stored.Scopes),
		CodeChallenge:       stored.CodeChallenge,
		CodeChallengeMethod: stored.CodeChallengeMethod,
		ExpiresAt:           time.Unix(stored.ExpiresAt, 0).UTC(),
		CreatedAt:           time.Unix(stored.CreatedAt, 0).UTC(),
	}

	usedUnix, err := s.client.Get(ctx, s.key(keyTypeCodeUsed, code)).Int64()
	switch {
	case err == nil:
		ts := time.Unix(usedUnix, 0).UTC()
		row.UsedAt = &ts
	case errors.Is(err, redis.Nil):
		// not redeemed yet
	default:
		return nil, fmt.Errorf("failed to get code redemption marker: %w", err)
	}

	return row, nil
}

// ConsumeAuthorizationCode marks a code used, exactly once. The redemption
// marker is written with SETNX, so of any number of concurrent redemptions
// exactly one observes success; the rest get ErrCodeConsumed.
func (s *RedisStore) ConsumeAuthorizationCode(ctx context.Context, code string, usedAt time.Time) error {
	data, err := s.client.Get(ctx, s.key(keyTypeAuthCode, code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: authorization code", ErrNotFound)
		}
		return fmt.Errorf("failed to check authorization code: %w", err)
	}

	var stored storedCode
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	// The marker must outlive the record key, which is kept for a grace
	// period past the code's own expiry. Codes can be issued with any
	// lifespan, so the TTL is derived from the stored record, not a
	// constant.
	markerTTL := time.Until(time.Unix(stored.ExpiresAt, 0)) + time.Minute
	if markerTTL < time.Minute {
		markerTTL = time.Minute
	}
	ok, err := s.client.SetNX(ctx, s.key(keyTypeCodeUsed, code), usedAt.Unix(), markerTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to mark authorization code used: %w", err)
	}
	if !ok {
		return ErrCodeConsumed
	}
	return nil
}

// -----------------------
// Tokens
// -----------------------

// storedToken is the JSON shape shared by access and refresh token records.
type storedToken struct {
	Token       string   `json:"token"`
	ClientID    string   `json:"client_id"`
	UserID      string   `json:"user_id"`
	Scopes      []string `json:"scopes"`
	AccessToken string   `json:"access_token,omitempty"`
	ExpiresAt   int64    `json:"expires_at"`
	CreatedAt   int64    `json:"created_at"`
}

func marshalAccessToken(t *AccessToken) ([]byte, error) {
	return json.Marshal(storedToken{
		Token:     t.Token,
		ClientID:  t.ClientID,
		UserID:    t.UserID,
		Scopes:    t.Scopes,
		ExpiresAt: t.ExpiresAt.Unix(),
		CreatedAt: t.CreatedAt.Unix(),
	})
}

func marshalRefreshToken(t *RefreshToken) ([]byte, error) {
	return json.Marshal(storedToken{
		Token:       t.Token,
		ClientID:    t.ClientID,
		UserID:      t.UserID,
		Scopes:      t.Scopes,
		AccessToken: t.AccessToken,
		ExpiresAt:   t.ExpiresAt.Unix(),
		CreatedAt:   t.CreatedAt.Unix(),
	})
}

// CreateTokenPair persists an access token and its linked refresh token. The
// writes are pipelined but not transactional; a half-written pair is benign
// because each token is validated independently on use.
func (s *RedisStore) CreateTokenPair(ctx context.Context, access *AccessToken, refresh *RefreshToken) error {
	accessData, err := marshalAccessToken(access)
	if err != nil {
		return fmt.Errorf("failed to marshal access token: %w", err)
	}
	refreshData, err := marshalRefreshToken(refresh)
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(keyTypeAccess, access.Token), accessData, tokenTTL(access.ExpiresAt))
	pipe.Set(ctx, s.key(keyTypeRefresh, refresh.Token), refreshData, tokenTTL(refresh.ExpiresAt))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store token pair: %w", err)
	}
	return nil
}

func tokenTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return ttl
}

// GetAccessToken retrieves an access token by value.
func (s *RedisStore) GetAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	stored, err := s.getToken(ctx, s.key(keyTypeAccess, token), "access token")
	if err != nil {
		return nil, err
	}
	return &AccessToken{
		Token:     stored.Token,
		ClientID:  stored.ClientID,
		UserID:    stored.UserID,
		Scopes:    slices.Clone(stored.Scopes),
		ExpiresAt: time.Unix(stored.ExpiresAt, 0).UTC(),
		CreatedAt: time.Unix(stored.CreatedAt, 0).UTC(),
	}, nil
}

// GetRefreshToken retrieves a refresh token by value.
func (s *RedisStore) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	stored, err := s.getToken(ctx, s.key(keyTypeRefresh, token), "refresh token")
	if err != nil {
		return nil, err
	}
	return &RefreshToken{
		Token:       stored.Token,
		ClientID:    stored.ClientID,
		UserID:      stored.UserID,
		Scopes:      slices.Clone(stored.Scopes),
		AccessToken: stored.AccessToken,
		ExpiresAt:   time.Unix(stored.ExpiresAt, 0).UTC(),
		CreatedAt:   time.Unix(stored.CreatedAt, 0).UTC(),
	}, nil
}

func (s *RedisStore) getToken(ctx context.Context, key, kind string) (*storedToken, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, kind)
		}
		return nil, fmt.Errorf("failed to get %s: %w", kind, err)
	}

	var stored storedToken
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", kind, err)
	}
	return &stored, nil
}

// -----------------------
// Grants
// -----------------------

// storedGrant is the JSON shape of a consent record in Redis.
type storedGrant struct {
	ClientID   string   `json:"client_id"`
	UserID     string   `json:"user_id"`
	Scopes     []string `json:"scopes"`
	CreatedAt  int64    `json:"created_at"`
	LastUsedAt int64    `json:"last_used_at"`
}

// UpsertGrant inserts or updates the consent record for a (client, user)
// pair. The original CreatedAt is preserved on update.
func (s *RedisStore) UpsertGrant(ctx context.Context, grant *Grant) error {
	key := s.key(keyTypeGrant, grant.ClientID+":"+grant.UserID)

	createdAt := grant.CreatedAt.Unix()
	if existing, err := s.GetGrant(ctx, grant.ClientID, grant.UserID); err == nil {
		createdAt = existing.CreatedAt.Unix()
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	data, err := json.Marshal(storedGrant{
		ClientID:   grant.ClientID,
		UserID:     grant.UserID,
		Scopes:     grant.Scopes,
		CreatedAt:  createdAt,
		LastUsedAt: grant.LastUsedAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal grant: %w", err)
	}

	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store grant: %w", err)
	}
	return nil
}

// GetGrant retrieves the consent record for a (client, user) pair.
func (s *RedisStore) GetGrant(ctx context.Context, clientID, userID string) (*Grant, error) {
	data, err := s.client.Get(ctx, s.key(keyTypeGrant, clientID+":"+userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: grant", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}

	var stored storedGrant
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal grant: %w", err)
	}

	return &Grant{
		ClientID:   stored.ClientID,
		UserID:     stored.UserID,
		Scopes:     slices.Clone(stored.Scopes),
		CreatedAt:  time.Unix(stored.CreatedAt, 0).UTC(),
		LastUsedAt: time.Unix(stored.LastUsedAt, 0).UTC(),
	}, nil
}

// PurgeExpired is a no-op: Redis evicts expired records via key TTLs.
func (*RedisStore) PurgeExpired(_ context.Context, _ time.Time) error {
	return nil
}

// Compile-time interface compliance check
var _ Store = (*RedisStore)(nil)
