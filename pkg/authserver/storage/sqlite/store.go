// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sqlite implements durable single-node storage for the issuance
// service on an embedded SQLite database. Schema changes are applied through
// embedded goose migrations at open time.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/spendora/authserver/pkg/authserver/storage"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path, applies pending migrations,
// and returns a ready Store.
func New(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}

	dsn := "file:" + path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(5000)",
			"journal_mode(WAL)",
			"foreign_keys(1)",
		},
	}.Encode()

	return open(ctx, dsn)
}

// NewInMemory returns a Store backed by a private in-memory database. Each
// call gets an isolated database, which is what tests want.
func NewInMemory(ctx context.Context) (*Store, error) {
	// A single connection keeps the private in-memory database alive and
	// serializes access to it.
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health verifies the database connection is usable.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const clientColumns = `id, name, description, client_id, client_secret, redirect_uris,
			scopes, owner_id, logo_url, website_url, privacy_policy_url,
			terms_of_service_url, is_active, is_verified, created_at`

// CreateClient persists a newly registered client.
func (s *Store) CreateClient(ctx context.Context, client *storage.Client) error {
	redirectURIs, err := encodeStrings(client.RedirectURIs)
	if err != nil {
		return fmt.Errorf("encoding redirect URIs: %w", err)
	}
	scopes, err := encodeStrings(client.Scopes)
	if err != nil {
		return fmt.Errorf("encoding scopes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO oauth_clients (
			id, name, description, client_id, client_secret, redirect_uris,
			scopes, owner_id, logo_url, website_url, privacy_policy_url,
			terms_of_service_url, is_active, is_verified, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		client.ID,
		client.Name,
		client.Description,
		client.ClientID,
		client.ClientSecret,
		redirectURIs,
		scopes,
		client.OwnerID,
		client.LogoURL,
		client.WebsiteURL,
		client.PrivacyPolicyURL,
		client.TermsOfServiceURL,
		client.IsActive,
		client.IsVerified,
		client.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: client_id %q", storage.ErrAlreadyExists, client.ClientID)
		}
		return fmt.Errorf("inserting client: %w", err)
	}
	return nil
}

// GetActiveClient looks up an active client by its public client_id.
func (s *Store) GetActiveClient(ctx context.Context, clientID string) (*storage.Client, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM oauth_clients WHERE client_id = ? AND is_active = 1`,
		clientID,
	)

	var (
		client       storage.Client
		redirectURIs string
		scopes       string
		createdAt    int64
	)
	err := row.Scan(
		&client.ID,
		&client.Name,
		&client.Description,
		&client.ClientID,
		&client.ClientSecret,
		&redirectURIs,
		&scopes,
		&client.OwnerID,
		&client.LogoURL,
		&client.WebsiteURL,
		&client.PrivacyPolicyURL,
		&client.TermsOfServiceURL,
		&client.IsActive,
		&client.IsVerified,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: client", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning client: %w", err)
	}

	if client.RedirectURIs, err = decodeStrings(redirectURIs); err != nil {
		return nil, fmt.Errorf("decoding redirect URIs: %w", err)
	}
	if client.Scopes, err = decodeStrings(scopes); err != nil {
		return nil, fmt.Errorf("decoding scopes: %w", err)
	}
	client.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &client, nil
}

// CreateAuthorizationCode persists a freshly issued code.
func (s *Store) CreateAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	scopes, err := encodeStrings(code.Scopes)
	if err != nil {
		return fmt.Errorf("encoding scopes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO authorization_codes (
			code, client_id, user_id, redirect_uri, scopes,
			code_challenge, code_challenge_method, expires_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code.Code,
		code.ClientID,
		code.UserID,
		code.RedirectURI,
		scopes,
		code.CodeChallenge,
		code.CodeChallengeMethod,
		code.ExpiresAt.Unix(),
		code.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: authorization code", storage.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting authorization code: %w", err)
	}
	return nil
}

// GetAuthorizationCode retrieves a code by value, used or not.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT code, client_id, user_id, redirect_uri, scopes,
		       code_challenge, code_challenge_method, expires_at, used_at, created_at
		FROM authorization_codes WHERE code = ?`,
		code,
	)

	var (
		out       storage.AuthorizationCode
		scopes    string
		expiresAt int64
		usedAt    sql.NullInt64
		createdAt int64
	)
	err := row.Scan(
		&out.Code,
		&out.ClientID,
		&out.UserID,
		&out.RedirectURI,
		&scopes,
		&out.CodeChallenge,
		&out.CodeChallengeMethod,
		&expiresAt,
		&usedAt,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: authorization code", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning authorization code: %w", err)
	}

	if out.Scopes, err = decodeStrings(scopes); err != nil {
		return nil, fmt.Errorf("decoding scopes: %w", err)
	}
	out.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	out.CreatedAt = time.Unix(createdAt, 0).UTC()
	if usedAt.Valid {
		ts := time.Unix(usedAt.Int64, 0).UTC()
		out.UsedAt = &ts
	}

	return &out, nil
}

// ConsumeAuthorizationCode marks a code used, exactly once. The conditional
// UPDATE is atomic under SQLite's write serialization, so of any number of
// concurrent redemptions exactly one sees an affected row.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string, usedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE authorization_codes SET used_at = ? WHERE code = ? AND used_at IS NULL`,
		usedAt.Unix(), code,
	)
	if err != nil {
		return fmt.Errorf("marking authorization code used: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// No row updated: either the code does not exist or it is already used.
	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM authorization_codes WHERE code = ?`, code,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: authorization code", storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("checking authorization code: %w", err)
	}
	return storage.ErrCodeConsumed
}

// CreateTokenPair persists an access token and its linked refresh token in
// one transaction.
func (s *Store) CreateTokenPair(ctx context.Context, access *storage.AccessToken, refresh *storage.RefreshToken) error {
	accessScopes, err := encodeStrings(access.Scopes)
	if err != nil {
		return fmt.Errorf("encoding scopes: %w", err)
	}
	refreshScopes, err := encodeStrings(refresh.Scopes)
	if err != nil {
		return fmt.Errorf("encoding scopes: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO access_tokens (token, client_id, user_id, scopes, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		access.Token,
		access.ClientID,
		access.UserID,
		accessScopes,
		access.ExpiresAt.Unix(),
		access.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: access token", storage.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting access token: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, client_id, user_id, scopes, access_token, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		refresh.Token,
		refresh.ClientID,
		refresh.UserID,
		refreshScopes,
		refresh.AccessToken,
		refresh.ExpiresAt.Unix(),
		refresh.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: refresh token", storage.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetAccessToken retrieves an access token by value.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, client_id, user_id, scopes, expires_at, created_at
		FROM access_tokens WHERE token = ?`,
		token,
	)

	var (
		out       storage.AccessToken
		scopes    string
		expiresAt int64
		createdAt int64
	)
	err := row.Scan(&out.Token, &out.ClientID, &out.UserID, &scopes, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: access token", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning access token: %w", err)
	}

	if out.Scopes, err = decodeStrings(scopes); err != nil {
		return nil, fmt.Errorf("decoding scopes: %w", err)
	}
	out.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	out.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &out, nil
}

// GetRefreshToken retrieves a refresh token by value.
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, client_id, user_id, scopes, access_token, expires_at, created_at
		FROM refresh_tokens WHERE token = ?`,
		token,
	)

	var (
		out       storage.RefreshToken
		scopes    string
		expiresAt int64
		createdAt int64
	)
	err := row.Scan(&out.Token, &out.ClientID, &out.UserID, &scopes, &out.AccessToken, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: refresh token", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning refresh token: %w", err)
	}

	if out.Scopes, err = decodeStrings(scopes); err != nil {
		return nil, fmt.Errorf("decoding scopes: %w", err)
	}
	out.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	out.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &out, nil
}

// UpsertGrant inserts or updates the consent record for a (client, user)
// pair. The original created_at is preserved on update.
func (s *Store) UpsertGrant(ctx context.Context, grant *storage.Grant) error {
	scopes, err := encodeStrings(grant.Scopes)
	if err != nil {
		return fmt.Errorf("encoding scopes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO oauth_grants (client_id, user_id, scopes, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (client_id, user_id) DO UPDATE SET
			scopes = excluded.scopes,
			last_used_at = excluded.last_used_at`,
		grant.ClientID,
		grant.UserID,
		scopes,
		grant.CreatedAt.Unix(),
		grant.LastUsedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upserting grant: %w", err)
	}
	return nil
}

// GetGrant retrieves the consent record for a (client, user) pair.
func (s *Store) GetGrant(ctx context.Context, clientID, userID string) (*storage.Grant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT client_id, user_id, scopes, created_at, last_used_at
		FROM oauth_grants WHERE client_id = ? AND user_id = ?`,
		clientID, userID,
	)

	var (
		out        storage.Grant
		scopes     string
		createdAt  int64
		lastUsedAt int64
	)
	err := row.Scan(&out.ClientID, &out.UserID, &scopes, &createdAt, &lastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: grant", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning grant: %w", err)
	}

	if out.Scopes, err = decodeStrings(scopes); err != nil {
		return nil, fmt.Errorf("decoding scopes: %w", err)
	}
	out.CreatedAt = time.Unix(createdAt, 0).UTC()
	out.LastUsedAt = time.Unix(lastUsedAt, 0).UTC()
	return &out, nil
}

// PurgeExpired removes expired codes and tokens.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) error {
	ts := now.Unix()

	for _, stmt := range []string{
		`DELETE FROM authorization_codes WHERE expires_at < ?`,
		`DELETE FROM access_tokens WHERE expires_at < ?`,
		`DELETE FROM refresh_tokens WHERE expires_at < ?`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt, ts); err != nil {
			return fmt.Errorf("purging expired rows: %w", err)
		}
	}
	return nil
}

// encodeStrings marshals a string slice for a TEXT column.
func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshaling JSON: %w", err)
	}
	return string(data), nil
}

// decodeStrings unmarshals a TEXT column into a string slice.
func decodeStrings(data string) ([]string, error) {
	if data == "" {
		return nil, nil
	}
	var result []string
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("unmarshaling JSON: %w", err)
	}
	return result, nil
}

// isUniqueViolation checks for a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }

var _ storage.Store = (*Store)(nil)
