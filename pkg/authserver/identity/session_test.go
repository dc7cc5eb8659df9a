// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func signSessionToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func sessionClaims(sub string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub":   sub,
		"name":  "Alice",
		"email": "alice@example.com",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
}

func TestSessionValidatorValidateToken(t *testing.T) {
	t.Parallel()

	v, err := NewSessionValidator(SessionValidatorConfig{Secret: testSecret})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		t.Parallel()
		claims, err := v.ValidateToken(ctx, signSessionToken(t, testSecret, sessionClaims("user-1")))
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims["sub"])
	})

	t.Run("expired token", func(t *testing.T) {
		t.Parallel()
		claims := sessionClaims("user-1")
		claims["exp"] = time.Now().Add(-time.Minute).Unix()
		_, err := v.ValidateToken(ctx, signSessionToken(t, testSecret, claims))
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("wrong signing key", func(t *testing.T) {
		t.Parallel()
		other := []byte("ffffffffffffffffffffffffffffffff")
		_, err := v.ValidateToken(ctx, signSessionToken(t, other, sessionClaims("user-1")))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing expiry is rejected", func(t *testing.T) {
		t.Parallel()
		claims := sessionClaims("user-1")
		delete(claims, "exp")
		_, err := v.ValidateToken(ctx, signSessionToken(t, testSecret, claims))
		assert.Error(t, err)
	})

	t.Run("issuer pinning", func(t *testing.T) {
		t.Parallel()
		pinned, err := NewSessionValidator(SessionValidatorConfig{
			Secret: testSecret,
			Issuer: "spendora",
		})
		require.NoError(t, err)

		claims := sessionClaims("user-1")
		claims["iss"] = "someone-else"
		_, err = pinned.ValidateToken(ctx, signSessionToken(t, testSecret, claims))
		assert.Error(t, err)

		claims["iss"] = "spendora"
		_, err = pinned.ValidateToken(ctx, signSessionToken(t, testSecret, claims))
		assert.NoError(t, err)
	})
}

func TestSessionValidatorRejectsEmptySecret(t *testing.T) {
	t.Parallel()

	_, err := NewSessionValidator(SessionValidatorConfig{})
	assert.Error(t, err)
}

func TestSessionMiddleware(t *testing.T) {
	t.Parallel()

	v, err := NewSessionValidator(SessionValidatorConfig{Secret: testSecret})
	require.NoError(t, err)

	var captured *Identity
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid session reaches the handler", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/oauth/authorize", nil)
		req.Header.Set("Authorization", "Bearer "+signSessionToken(t, testSecret, sessionClaims("user-1")))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, captured)
		assert.Equal(t, "user-1", captured.Subject)
		assert.Equal(t, "Alice", captured.Name)
		assert.Equal(t, "alice@example.com", captured.Email)
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/oauth/authorize", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t,
			`{"error":"access_denied","error_description":"authorization header required"}`,
			rec.Body.String())
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/oauth/authorize", nil)
		req.Header.Set("Authorization", "Basic abc")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/oauth/authorize", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token without sub", func(t *testing.T) {
		claims := sessionClaims("user-1")
		delete(claims, "sub")
		req := httptest.NewRequest(http.MethodPost, "/oauth/authorize", nil)
		req.Header.Set("Authorization", "Bearer "+signSessionToken(t, testSecret, claims))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestLocalUserMiddleware(t *testing.T) {
	t.Parallel()

	var captured *Identity
	handler := LocalUserMiddleware("dev")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/oauth/authorize", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, "dev", captured.Subject)
}
