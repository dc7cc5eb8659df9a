// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
)

// Health handles GET /health. It reports storage reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Health(r.Context()); err != nil {
		h.writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
		})
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
