// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/spendora/authserver/pkg/oauth"
)

// writeOAuthError writes an OAuth error response in the standard
// {error, error_description} shape.
func (h *Handler) writeOAuthError(w http.ResponseWriter, statusCode int, code, description string) {
	if h.metrics != nil {
		h.metrics.RequestErrors.WithLabelValues(code).Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(oauth.NewError(code, description))
}

// writeServerError logs the internal cause and returns an opaque
// server_error to the caller. Internal details never cross the boundary.
func (h *Handler) writeServerError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg, slog.String("error", err.Error()))
	h.writeOAuthError(w, http.StatusInternalServerError, oauth.ErrorServerError, "Internal server error")
}

// writeJSON writes a success response.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to encode response",
			slog.String("error", err.Error()),
		)
	}
}
