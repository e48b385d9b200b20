package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Authentication outcomes recorded per request
const (
	AuthOutcomeAnonymous     = "anonymous"
	AuthOutcomeInvalidToken  = "invalid_token"
	AuthOutcomeUnknownUser   = "unknown_user"
	AuthOutcomeLookupFailure = "lookup_failure"
	AuthOutcomeAuthenticated = "authenticated"
)

var authOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "filevault_auth_outcomes_total",
	Help: "Per-request authentication results",
}, []string{"outcome"})

var logins = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "filevault_logins_total",
	Help: "OAuth2 login callbacks by provider and result",
}, []string{"provider", "result"})

var usersCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "filevault_users_created_total",
	Help: "Users created on first login",
})

var uploadedBytes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "filevault_uploaded_bytes_total",
	Help: "Bytes accepted by the upload endpoint",
})

// RecordAuthOutcome counts one authentication pass
func RecordAuthOutcome(outcome string) {
	authOutcomes.WithLabelValues(outcome).Inc()
}

// RecordLogin counts one login callback
func RecordLogin(provider, result string) {
	logins.WithLabelValues(provider, result).Inc()
}

// RecordUserCreated counts a user created by reconciliation
func RecordUserCreated() {
	usersCreated.Inc()
}

// RecordUpload counts accepted upload bytes
func RecordUpload(size int64) {
	uploadedBytes.Add(float64(size))
}
