package internaldefs

import (
	custodyauth "github.com/MrEthical07/goCustodyAuth"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   custodyauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   custodyauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter.
var CounterDefs = []CounterDef{
	{ID: custodyauth.MetricLoginSuccess, Name: "custodyauth_login_success_total", Help: "Logins that passed the first factor."},
	{ID: custodyauth.MetricLoginFailure, Name: "custodyauth_login_failure_total", Help: "Failed login attempts."},
	{ID: custodyauth.MetricLoginRateLimited, Name: "custodyauth_login_rate_limited_total", Help: "Attempts rejected by a failure budget."},
	{ID: custodyauth.MetricTwoFactorRequired, Name: "custodyauth_two_factor_required_total", Help: "Logins held at the second factor."},
	{ID: custodyauth.MetricTwoFactorSuccess, Name: "custodyauth_two_factor_success_total", Help: "Accepted TOTP codes at login."},
	{ID: custodyauth.MetricTwoFactorFailure, Name: "custodyauth_two_factor_failure_total", Help: "Rejected TOTP codes and pending tokens."},
	{ID: custodyauth.MetricTwoFactorEnabled, Name: "custodyauth_two_factor_enabled_total", Help: "Second factor activations."},
	{ID: custodyauth.MetricTwoFactorDisabled, Name: "custodyauth_two_factor_disabled_total", Help: "Second factor removals."},
	{ID: custodyauth.MetricBiometricSuccess, Name: "custodyauth_biometric_success_total", Help: "Accepted biometric logins."},
	{ID: custodyauth.MetricBiometricFailure, Name: "custodyauth_biometric_failure_total", Help: "Rejected biometric logins."},
	{ID: custodyauth.MetricChallengeIssued, Name: "custodyauth_challenge_issued_total", Help: "Biometric challenges issued."},
	{ID: custodyauth.MetricDeviceEnrolled, Name: "custodyauth_device_enrolled_total", Help: "Device key enrollments."},
	{ID: custodyauth.MetricDeviceRevoked, Name: "custodyauth_device_revoked_total", Help: "Device key revocations."},
	{ID: custodyauth.MetricBackofficePrimarySuccess, Name: "custodyauth_backoffice_primary_success_total", Help: "Backoffice tokens from the connection endpoint."},
	{ID: custodyauth.MetricBackofficeRefreshFallback, Name: "custodyauth_backoffice_refresh_fallback_total", Help: "Backoffice tokens from the refresh fallback."},
	{ID: custodyauth.MetricBackofficeUnavailable, Name: "custodyauth_backoffice_unavailable_total", Help: "Logins failed because no backoffice token was obtained."},
	{ID: custodyauth.MetricDelegationMissing, Name: "custodyauth_delegation_missing_total", Help: "Logins of users without delegated state."},
	{ID: custodyauth.MetricSessionIssued, Name: "custodyauth_session_issued_total", Help: "Session tokens issued."},
	{ID: custodyauth.MetricSessionRejected, Name: "custodyauth_session_rejected_total", Help: "Session tokens that failed verification."},
	{ID: custodyauth.MetricPasswordRehashed, Name: "custodyauth_password_rehashed_total", Help: "Stored passwords upgraded on login."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: custodyauth.MetricBackofficeLatency, Name: "custodyauth_backoffice_latency_seconds", Help: "Backoffice token acquisition latency."},
}

// HistogramBounds are the upper bounds of the engine histogram buckets.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in a form usable in metric names.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero filling.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into cumulative counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
