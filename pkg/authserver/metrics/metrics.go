// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes Prometheus instrumentation for the OAuth
// issuance flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the issuance flow.
type Metrics struct {
	// CodesIssued counts authorization codes issued by the authorization
	// endpoint.
	CodesIssued prometheus.Counter

	// TokenPairsIssued counts successful code redemptions.
	TokenPairsIssued prometheus.Counter

	// ClientsRegistered counts client registrations.
	ClientsRegistered prometheus.Counter

	// RequestErrors counts OAuth error responses by error code.
	RequestErrors *prometheus.CounterVec

	// CodeRedemptionConflicts counts redemption attempts that lost the
	// single-use race or replayed an already-used code.
	CodeRedemptionConflicts prometheus.Counter
}

// New creates and registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CodesIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "authserver_authorization_codes_issued_total",
			Help: "Number of authorization codes issued.",
		}),
		TokenPairsIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "authserver_token_pairs_issued_total",
			Help: "Number of access/refresh token pairs issued.",
		}),
		ClientsRegistered: factory.NewCounter(prometheus.CounterOpts{
			Name: "authserver_clients_registered_total",
			Help: "Number of OAuth clients registered.",
		}),
		RequestErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authserver_request_errors_total",
			Help: "Number of OAuth error responses by error code.",
		}, []string{"error"}),
		CodeRedemptionConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "authserver_code_redemption_conflicts_total",
			Help: "Number of redemption attempts on an already-used authorization code.",
		}),
	}
}
