// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Event names for keepsake_auth_events_total.
const (
	EventRegister  = "register"
	EventLogin     = "login"
	EventFederated = "federated"
	EventLogout    = "logout"
	EventSubmit    = "submit"
)

// Outcome labels for keepsake_auth_events_total.
const (
	OutcomeAuthenticated = "authenticated"
	OutcomeRejected      = "rejected"
	OutcomeRetryable     = "retryable"
	OutcomeAnonymous     = "anonymous"
	OutcomeOK            = "ok"
)

// AuthEvents counts orchestrator events by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var AuthEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "keepsake_auth_events_total",
		Help: "Total number of authentication events by event and outcome",
	},
	[]string{"event", "outcome", "reason"},
)

// FederatedResolutions counts federated find-or-create results.
var FederatedResolutions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "keepsake_federated_resolutions_total",
		Help: "Total number of federated identity resolutions by provider and result",
	},
	[]string{"provider", "result"},
)

// PasswordHashDuration observes time spent establishing and verifying
// credentials, including time queued for the hash pool.
var PasswordHashDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "keepsake_password_hash_duration_seconds",
		Help:    "Password establish/verify duration in seconds",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	},
	[]string{"scheme", "op"},
)

// RegisterMetrics registers auth metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AuthEvents)
	reg.MustRegister(FederatedResolutions)
	reg.MustRegister(PasswordHashDuration)
}

// RecordAuthEvent increments the event counter. reason is empty unless the
// outcome is a rejection.
func RecordAuthEvent(event, outcome string, reason Reason) {
	AuthEvents.WithLabelValues(event, outcome, string(reason)).Inc()
}

// RecordFederatedResolution increments the resolution counter.
func RecordFederatedResolution(provider, result string) {
	FederatedResolutions.WithLabelValues(provider, result).Inc()
}

// RecordHashDuration records one establish or verify call.
func RecordHashDuration(scheme Scheme, op string, d time.Duration) {
	PasswordHashDuration.WithLabelValues(string(scheme), op).Observe(d.Seconds())
}
