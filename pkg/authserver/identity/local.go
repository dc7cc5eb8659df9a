// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LocalUserMiddleware creates an HTTP middleware that injects a fixed local
// user identity without validating any credentials. It is useful for
// development and testing and is heavily discouraged in production settings.
func LocalUserMiddleware(username string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			claims := jwt.MapClaims{
				"sub":   username,
				"iss":   "authserver-local",
				"exp":   now.Add(24 * time.Hour).Unix(),
				"iat":   now.Unix(),
				"email": username + "@localhost",
				"name":  "Local User: " + username,
			}

			ident := &Identity{
				Subject: username,
				Name:    "Local User: " + username,
				Email:   username + "@localhost",
				Claims:  claims,
			}

			ctx := WithIdentity(r.Context(), ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
