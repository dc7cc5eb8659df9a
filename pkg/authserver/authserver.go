// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authserver wires the OAuth 2.0 authorization-code issuance
// service: storage, identity middleware, HTTP handlers and metrics.
package authserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spendora/authserver/pkg/authserver/handlers"
	"github.com/spendora/authserver/pkg/authserver/identity"
	"github.com/spendora/authserver/pkg/authserver/metrics"
	"github.com/spendora/authserver/pkg/authserver/storage"
)

const requestTimeout = 10 * time.Second

// NewRouter builds the HTTP router for the authorization server. The config
// must have been validated.
func NewRouter(logger *slog.Logger, store storage.Store, cfg *Config, reg *prometheus.Registry) (chi.Router, error) {
	requireUser, err := userMiddleware(cfg)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}

	h := handlers.New(logger, store,
		handlers.WithLifespans(cfg.AuthCodeLifespan, cfg.AccessTokenLifespan, cfg.RefreshTokenLifespan),
		handlers.WithMetrics(m),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	h.Routes(r, requireUser)
	r.Get("/health", h.Health)
	if reg != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	return r, nil
}

// userMiddleware picks the identity middleware for the deployment mode.
func userMiddleware(cfg *Config) (func(http.Handler) http.Handler, error) {
	if cfg.LocalUser != "" {
		return identity.LocalUserMiddleware(cfg.LocalUser), nil
	}

	validator, err := identity.NewSessionValidator(identity.SessionValidatorConfig{
		Secret:   cfg.SessionSecret,
		Issuer:   cfg.SessionIssuer,
		Audience: cfg.SessionAudience,
	})
	if err != nil {
		return nil, err
	}
	return validator.Middleware, nil
}

// RunJanitor periodically purges expired codes and tokens until ctx is
// canceled. PurgeExpired is a no-op on backends with native key expiry.
func RunJanitor(ctx context.Context, logger *slog.Logger, store storage.Store, interval time.Duration) {
	if interval <= 0 {
		interval = storage.DefaultCleanupInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.PurgeExpired(ctx, time.Now()); err != nil {
				logger.WarnContext(ctx, "failed to purge expired rows",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
