// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/spendora/authserver/pkg/authserver/storage"
	"github.com/spendora/authserver/pkg/oauth"
)

// invalidGrantDescription is the single description used for every code
// state failure. Unknown, expired, used and mismatched codes are not
// distinguishable from the outside.
const invalidGrantDescription = "Invalid or expired authorization code"

// tokenRequest is the JSON body of POST /oauth/token.
type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	CodeVerifier string `json:"code_verifier,omitempty"`
}

// tokenResponse is the success body of POST /oauth/token.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// Token handles POST /oauth/token. It authenticates the confidential
// client, redeems a single-use authorization code, verifies PKCE, and mints
// an access/refresh token pair.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorInvalidRequest, "Invalid JSON request body")
		return
	}

	if req.GrantType == "" {
		h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorInvalidRequest, "grant_type is required")
		return
	}
	if req.GrantType != "authorization_code" {
		h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorUnsupportedGrantType,
			"Only grant_type=authorization_code is supported")
		return
	}
	if req.Code == "" || req.RedirectURI == "" || req.ClientID == "" {
		h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorInvalidRequest,
			"code, redirect_uri and client_id are required")
		return
	}

	client, err := h.store.GetActiveClient(ctx, req.ClientID)
	if err != nil {
		if storage.IsNotFound(err) {
			h.writeOAuthError(w, http.StatusUnauthorized, oauth.ErrorInvalidClient, "Unknown client")
			return
		}
		h.writeServerError(w, r, "failed to look up client", err)
		return
	}

	// Confidential-client authentication: the supplied secret must equal
	// the stored secret. Public (secret-less) clients are not supported.
	if subtle.ConstantTimeCompare([]byte(req.ClientSecret), []byte(client.ClientSecret)) != 1 {
		h.writeOAuthError(w, http.StatusUnauthorized, oauth.ErrorInvalidClient, "Invalid client credentials")
		return
	}

	if !slices.Contains(client.RedirectURIs, req.RedirectURI) {
		h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorInvalidRequest, "Invalid redirect_uri")
		return
	}

	code, err := h.store.GetAuthorizationCode(ctx, req.Code)
	if err != nil {
		if storage.IsNotFound(err) {
			h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorInvalidGrant, invalidGrantDescription)
			return
		}
		h.writeServerError(w, r, "failed to look up authorization code", err)
		return
	}

	now := h.now()
	switch {
	case code.ClientID != req.ClientID,
		code.RedirectURI != req.RedirectURI,
		code.UsedAt != nil,
		now.After(code.ExpiresAt):
		if code.UsedAt != nil && h.metrics != nil {
			h.metrics.CodeRedemptionConflicts.Inc()
		}
		h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorInvalidGrant, invalidGrantDescription)
		return
	}

	// PKCE is all-or-nothing: a code issued with a challenge must be
	// redeemed with a verifier, and a verifier is rejected when the code
	// carries no challenge. Verification failures share the generic
	// invalid_grant shape.
	switch {
	case code.CodeChallenge != "" && req.CodeVerifier == "":
		h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorInvalidGrant, "Missing code_verifier")
		return
	case code.CodeChallenge == "" && req.CodeVerifier != "":
		h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorInvalidGrant, invalidGrantDescription)
		return
	case code.CodeChallenge != "":
		if !oauth.ValidatePKCE(req.CodeVerifier, code.CodeChallenge, code.CodeChallengeMethod) {
			h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorInvalidGrant, "Invalid code_verifier")
			return
		}
	}

	// Single-use transition. The storage layer guarantees that of any
	// number of concurrent redemptions, exactly one reaches this point
	// without ErrCodeConsumed.
	if err := h.store.ConsumeAuthorizationCode(ctx, req.Code, now); err != nil {
		if errors.Is(err, storage.ErrCodeConsumed) || storage.IsNotFound(err) {
			if h.metrics != nil {
				h.metrics.CodeRedemptionConflicts.Inc()
			}
			h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorInvalidGrant, invalidGrantDescription)
			return
		}
		h.writeServerError(w, r, "failed to consume authorization code", err)
		return
	}

	accessTokenValue, err := oauth.GenerateToken()
	if err != nil {
		h.writeServerError(w, r, "failed to generate access token", err)
		return
	}
	refreshTokenValue, err := oauth.GenerateToken()
	if err != nil {
		h.writeServerError(w, r, "failed to generate refresh token", err)
		return
	}

	access := &storage.AccessToken{
		Token:     accessTokenValue,
		ClientID:  code.ClientID,
		UserID:    code.UserID,
		Scopes:    code.Scopes,
		ExpiresAt: now.Add(h.accessTTL),
		CreatedAt: now,
	}
	refresh := &storage.RefreshToken{
		Token:       refreshTokenValue,
		ClientID:    code.ClientID,
		UserID:      code.UserID,
		Scopes:      code.Scopes,
		AccessToken: accessTokenValue,
		ExpiresAt:   now.Add(h.refreshTTL),
		CreatedAt:   now,
	}
	if err := h.store.CreateTokenPair(ctx, access, refresh); err != nil {
		h.writeServerError(w, r, "failed to persist token pair", err)
		return
	}

	if h.metrics != nil {
		h.metrics.TokenPairsIssued.Inc()
	}
	h.logger.InfoContext(ctx, "issued token pair",
		slog.String("client_id", code.ClientID),
		slog.String("user_id", code.UserID),
		slog.String("scope", oauth.FormatScopes(code.Scopes)),
	)

	h.writeJSON(w, r, http.StatusOK, tokenResponse{
		AccessToken:  accessTokenValue,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.accessTTL.Seconds()),
		RefreshToken: refreshTokenValue,
		Scope:        oauth.FormatScopes(code.Scopes),
	})
}
