// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handlers provides the HTTP handlers for the OAuth authorization
// server endpoints: authorization, token exchange, and client registration.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spendora/authserver/pkg/authserver/metrics"
	"github.com/spendora/authserver/pkg/authserver/storage"
)

// Handler provides HTTP handlers for the OAuth endpoints. Storage is
// injected, never global, so tests can run against any backend.
type Handler struct {
	logger  *slog.Logger
	store   storage.Store
	metrics *metrics.Metrics

	codeTTL    time.Duration
	accessTTL  time.Duration
	refreshTTL time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// Option configures a Handler instance.
type Option func(*Handler)

// WithLifespans overrides the default code and token lifetimes. Zero values
// keep the defaults.
func WithLifespans(code, access, refresh time.Duration) Option {
	return func(h *Handler) {
		if code > 0 {
			h.codeTTL = code
		}
		if access > 0 {
			h.accessTTL = access
		}
		if refresh > 0 {
			h.refreshTTL = refresh
		}
	}
}

// WithMetrics attaches Prometheus metrics to the handler.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithClock overrides the time source. Tests use this to issue codes in the
// past.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// New creates a Handler with the given dependencies.
func New(logger *slog.Logger, store storage.Store, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		logger:     logger,
		store:      store,
		codeTTL:    storage.DefaultAuthCodeTTL,
		accessTTL:  storage.DefaultAccessTokenTTL,
		refreshTTL: storage.DefaultRefreshTokenTTL,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Routes registers the OAuth endpoints on the provided router. The identity
// middleware wraps only the endpoints that need an authenticated platform
// user: the token endpoint authenticates the client itself and the public
// client lookup needs no caller identity.
func (h *Handler) Routes(r chi.Router, requireUser func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/oauth/authorize", h.Authorize)
		r.Post("/oauth/clients", h.RegisterClient)
	})

	r.Post("/oauth/token", h.Token)
	r.Get("/oauth/clients", h.LookupClient)
}
