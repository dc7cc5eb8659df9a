// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Session validation errors.
var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrTokenExpired = errors.New("session token expired")
)

// SessionValidator validates platform session tokens presented as Bearer
// credentials on OAuth endpoints. Session tokens are HMAC-signed JWTs issued
// by the platform's login flow.
type SessionValidator struct {
	secret   []byte
	issuer   string
	audience string
}

// SessionValidatorConfig configures a SessionValidator.
type SessionValidatorConfig struct {
	// Secret is the HMAC signing key shared with the platform login service.
	Secret []byte

	// Issuer, if set, must match the token's 'iss' claim.
	Issuer string

	// Audience, if set, must match one of the token's 'aud' values.
	Audience string
}

// NewSessionValidator creates a validator for platform session tokens.
func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("session secret is required")
	}
	return &SessionValidator{
		secret:   cfg.Secret,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}, nil
}

// ValidateToken validates a session token and returns its claims.
func (v *SessionValidator) ValidateToken(_ context.Context, tokenString string) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse(tokenString, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware authenticates the request with a session token and stores the
// resulting Identity in the request context. Requests without a valid token
// are rejected with 401 before reaching the handler.
func (v *SessionValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := extractBearerToken(r)
		if err != nil {
			writeUnauthorized(w, err.Error())
			return
		}

		claims, err := v.ValidateToken(r.Context(), tokenString)
		if err != nil {
			writeUnauthorized(w, "invalid or expired session token")
			return
		}

		ident, err := claimsToIdentity(claims)
		if err != nil {
			writeUnauthorized(w, err.Error())
			return
		}

		ctx := WithIdentity(r.Context(), ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// claimsToIdentity converts session token claims to an Identity. The 'sub'
// claim is required; everything else is optional.
func claimsToIdentity(claims jwt.MapClaims) (*Identity, error) {
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, errors.New("missing or invalid 'sub' claim")
	}

	ident := &Identity{
		Subject: sub,
		Claims:  claims,
	}
	if name, ok := claims["name"].(string); ok {
		ident.Name = name
	}
	if email, ok := claims["email"].(string); ok {
		ident.Email = email
	}
	return ident, nil
}

func extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header required")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", errors.New("invalid authorization header format")
	}
	return strings.TrimPrefix(authHeader, "Bearer "), nil
}

// writeUnauthorized writes a 401 response in the OAuth error shape so all
// endpoint failures look alike to clients.
func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             "access_denied",
		"error_description": description,
	})
}
