// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"

	"github.com/spendora/authserver/pkg/authserver/identity"
	"github.com/spendora/authserver/pkg/authserver/storage"
	"github.com/spendora/authserver/pkg/oauth"
)

// authorizeRequest is the JSON body of POST /oauth/authorize.
type authorizeRequest struct {
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	ResponseType        string `json:"response_type"`
	Scope               string `json:"scope,omitempty"`
	State               string `json:"state,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
}

// authorizeResponse is the success body of POST /oauth/authorize.
type authorizeResponse struct {
	Code  string `json:"code"`
	State string `json:"state,omitempty"`
}

// Authorize handles POST /oauth/authorize. It runs the consent approval for
// an authenticated platform user: validates the client and redirect target,
// intersects the requested scopes with the client's allow-list, issues a
// short-lived single-use code, and records the consent grant.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorInvalidRequest, "Invalid JSON request body")
		return
	}

	if req.ClientID == "" || req.RedirectURI == "" || req.ResponseType == "" {
		h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorInvalidRequest,
			"client_id, redirect_uri and response_type are required")
		return
	}
	if req.ResponseType != "code" {
		h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorUnsupportedResponseType,
			"Only response_type=code is supported")
		return
	}

	client, err := h.store.GetActiveClient(ctx, req.ClientID)
	if err != nil {
		if storage.IsNotFound(err) {
			h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorInvalidClient, "Unknown client")
			return
		}
		h.writeServerError(w, r, "failed to look up client", err)
		return
	}

	// Exact string match against the registered set. Anything looser opens
	// a code-interception channel through an attacker-chosen redirect.
	if !slices.Contains(client.RedirectURIs, req.RedirectURI) {
		h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorInvalidRequest, "Invalid redirect_uri")
		return
	}

	user, ok := identity.FromContext(ctx)
	if !ok {
		h.writeOAuthError(w, http.StatusUnauthorized, oauth.ErrorAccessDenied, "User not authenticated")
		return
	}

	// Only the intersection is granted. Unknown or unauthorized scopes are
	// dropped silently rather than rejected.
	requested := oauth.ParseScopes(req.Scope)
	granted := oauth.IntersectScopes(requested, client.Scopes)
	if len(granted) == 0 {
		h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorInvalidScope,
			"None of the requested scopes are allowed for this client")
		return
	}

	code, err := oauth.GenerateAuthorizationCode()
	if err != nil {
		h.writeServerError(w, r, "failed to generate authorization code", err)
		return
	}

	now := h.now()
	authCode := &storage.AuthorizationCode{
		Code:        code,
		ClientID:    client.ClientID,
		UserID:      user.Subject,
		RedirectURI: req.RedirectURI,
		Scopes:      granted,
		// The challenge is stored verbatim; format checks happen at
		// redemption time.
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ExpiresAt:           now.Add(h.codeTTL),
		CreatedAt:           now,
	}
	if err := h.store.CreateAuthorizationCode(ctx, authCode); err != nil {
		h.writeServerError(w, r, "failed to persist authorization code", err)
		return
	}

	grant := &storage.Grant{
		ClientID:   client.ClientID,
		UserID:     user.Subject,
		Scopes:     granted,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if err := h.store.UpsertGrant(ctx, grant); err != nil {
		h.writeServerError(w, r, "failed to record grant", err)
		return
	}

	if h.metrics != nil {
		h.metrics.CodesIssued.Inc()
	}
	h.logger.InfoContext(ctx, "issued authorization code",
		slog.String("client_id", client.ClientID),
		slog.String("user_id", user.Subject),
		slog.String("scope", oauth.FormatScopes(granted)),
	)

	h.writeJSON(w, r, http.StatusOK, authorizeResponse{
		Code:  code,
		State: req.State,
	})
}
