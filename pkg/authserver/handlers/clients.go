// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/spendora/authserver/pkg/authserver/identity"
	"github.com/spendora/authserver/pkg/authserver/storage"
	"github.com/spendora/authserver/pkg/oauth"
)

// registerClientRequest is the JSON body of POST /oauth/clients.
type registerClientRequest struct {
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	RedirectURIs      []string `json:"redirect_uris"`
	Scopes            []string `json:"scopes,omitempty"`
	LogoURL           string   `json:"logo_url,omitempty"`
	WebsiteURL        string   `json:"website_url,omitempty"`
	PrivacyPolicyURL  string   `json:"privacy_policy_url,omitempty"`
	TermsOfServiceURL string   `json:"terms_of_service_url,omitempty"`
}

// registeredClient is the registration response payload. It is the only
// place the plaintext client secret ever appears.
type registeredClient struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	ClientID          string   `json:"client_id"`
	ClientSecret      string   `json:"client_secret"`
	RedirectURIs      []string `json:"redirect_uris"`
	Scopes            []string `json:"scopes"`
	LogoURL           string   `json:"logo_url,omitempty"`
	WebsiteURL        string   `json:"website_url,omitempty"`
	PrivacyPolicyURL  string   `json:"privacy_policy_url,omitempty"`
	TermsOfServiceURL string   `json:"terms_of_service_url,omitempty"`
	IsActive          bool     `json:"is_active"`
	IsVerified        bool     `json:"is_verified"`
	CreatedAt         int64    `json:"created_at"`
}

type registerClientResponse struct {
	App     registeredClient `json:"app"`
	Message string           `json:"message"`
}

// publicClient is the public-safe subset returned by the lookup endpoint.
// It never includes the secret or owner.
type publicClient struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	ClientID     string   `json:"client_id"`
	RedirectURIs []string `json:"redirect_uris"`
	Scopes       []string `json:"scopes"`
	LogoURL      string   `json:"logo_url,omitempty"`
	WebsiteURL   string   `json:"website_url,omitempty"`
	IsVerified   bool     `json:"is_verified"`
}

// RegisterClient handles POST /oauth/clients. The caller becomes the owner
// of the new client. The response carries the plaintext secret exactly once;
// it is never retrievable afterwards.
func (h *Handler) RegisterClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner, ok := identity.FromContext(ctx)
	if !ok {
		h.writeOAuthError(w, http.StatusUnauthorized, oauth.ErrorAccessDenied, "User not authenticated")
		return
	}

	var req registerClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorInvalidRequest, "Invalid JSON request body")
		return
	}

	if req.Name == "" {
		h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorInvalidRequest, "name is required")
		return
	}
	if len(req.RedirectURIs) == 0 {
		h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorInvalidRequest, "redirect_uris is required")
		return
	}
	for _, uri := range req.RedirectURIs {
		if !isAbsoluteURI(uri) {
			h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorInvalidRequest,
				fmt.Sprintf("Invalid redirect URI: %s", uri))
			return
		}
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = []string{oauth.DefaultScope}
	}

	clientID, err := oauth.GenerateClientID()
	if err != nil {
		h.writeServerError(w, r, "failed to generate client_id", err)
		return
	}
	clientSecret, err := oauth.GenerateClientSecret()
	if err != nil {
		h.writeServerError(w, r, "failed to generate client_secret", err)
		return
	}

	client := &storage.Client{
		ID:                uuid.NewString(),
		Name:              req.Name,
		Description:       req.Description,
		ClientID:          clientID,
		ClientSecret:      clientSecret,
		RedirectURIs:      req.RedirectURIs,
		Scopes:            scopes,
		OwnerID:           owner.Subject,
		LogoURL:           req.LogoURL,
		WebsiteURL:        req.WebsiteURL,
		PrivacyPolicyURL:  req.PrivacyPolicyURL,
		TermsOfServiceURL: req.TermsOfServiceURL,
		IsActive:          true,
		IsVerified:        false,
		CreatedAt:         h.now(),
	}
	if err := h.store.CreateClient(ctx, client); err != nil {
		h.writeServerError(w, r, "failed to persist client", err)
		return
	}

	if h.metrics != nil {
		h.metrics.ClientsRegistered.Inc()
	}
	h.logger.InfoContext(ctx, "registered OAuth client",
		slog.String("client_id", clientID),
		slog.String("owner_id", owner.Subject),
		slog.String("name", req.Name),
	)

	h.writeJSON(w, r, http.StatusCreated, registerClientResponse{
		App: registeredClient{
			ID:                client.ID,
			Name:              client.Name,
			Description:       client.Description,
			ClientID:          client.ClientID,
			ClientSecret:      clientSecret,
			RedirectURIs:      client.RedirectURIs,
			Scopes:            client.Scopes,
			LogoURL:           client.LogoURL,
			WebsiteURL:        client.WebsiteURL,
			PrivacyPolicyURL:  client.PrivacyPolicyURL,
			TermsOfServiceURL: client.TermsOfServiceURL,
			IsActive:          client.IsActive,
			IsVerified:        client.IsVerified,
			CreatedAt:         client.CreatedAt.Unix(),
		},
		Message: "Store the client_secret now; it will not be shown again.",
	})
}

// LookupClient handles GET /oauth/clients?client_id=. It returns the
// public-safe subset of an active client's metadata.
func (h *Handler) LookupClient(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		h.writeOAuthError(w, http.StatusBadRequest, oauth.ErrorInvalidRequest, "client_id is required")
		return
	}

	client, err := h.store.GetActiveClient(r.Context(), clientID)
	if err != nil {
		if storage.IsNotFound(err) {
			h.writeJSON(w, r, http.StatusNotFound, map[string]string{"error": "Client not found"})
			return
		}
		h.writeServerError(w, r, "failed to look up client", err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, publicClient{
		ID:           client.ID,
		Name:         client.Name,
		Description:  client.Description,
		ClientID:     client.ClientID,
		RedirectURIs: client.RedirectURIs,
		Scopes:       client.Scopes,
		LogoURL:      client.LogoURL,
		WebsiteURL:   client.WebsiteURL,
		IsVerified:   client.IsVerified,
	})
}

// isAbsoluteURI reports whether s parses as an absolute URI with a host.
func isAbsoluteURI(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.IsAbs() && u.Host != ""
}
