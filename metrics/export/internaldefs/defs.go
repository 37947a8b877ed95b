package internaldefs

import (
	"github.com/MrEthical07/workgate"
)

// CounterDef names one Engine counter for export.
type CounterDef struct {
	ID   workgate.MetricID
	Name string
	Help string
}

// HistogramDef names one Engine latency histogram for export.
type HistogramDef struct {
	ID   workgate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter.
var CounterDefs = []CounterDef{
	{ID: workgate.MetricLoginSuccess, Name: "workgate_login_success_total", Help: "Successful logins."},
	{ID: workgate.MetricLoginFailure, Name: "workgate_login_failure_total", Help: "Failed logins."},
	{ID: workgate.MetricLoginRateLimited, Name: "workgate_login_rate_limited_total", Help: "Logins refused by the throttle."},
	{ID: workgate.MetricSessionCreated, Name: "workgate_session_created_total", Help: "Issued session tokens."},
	{ID: workgate.MetricLogout, Name: "workgate_logout_total", Help: "Logouts."},
	{ID: workgate.MetricVerifySuccess, Name: "workgate_verify_success_total", Help: "Accepted session tokens."},
	{ID: workgate.MetricVerifyExpired, Name: "workgate_verify_expired_total", Help: "Rejected expired tokens."},
	{ID: workgate.MetricVerifyInvalid, Name: "workgate_verify_invalid_total", Help: "Rejected malformed or forged tokens."},
	{ID: workgate.MetricVerifyBlacklisted, Name: "workgate_verify_blacklisted_total", Help: "Rejected logged-out tokens."},
	{ID: workgate.MetricSessionConflict, Name: "workgate_session_conflict_total", Help: "Tokens replaced by a newer login."},
	{ID: workgate.MetricAuthorizeAllow, Name: "workgate_authorize_allow_total", Help: "Allowed authorization checks."},
	{ID: workgate.MetricAuthorizeDeny, Name: "workgate_authorize_deny_total", Help: "Denied authorization checks."},
	{ID: workgate.MetricTwoFactorRequired, Name: "workgate_two_factor_required_total", Help: "Requests blocked pending two-factor verification."},
	{ID: workgate.MetricTwoFactorCodeSent, Name: "workgate_two_factor_code_sent_total", Help: "Issued two-factor codes."},
	{ID: workgate.MetricTwoFactorSuccess, Name: "workgate_two_factor_success_total", Help: "Successful two-factor verifications."},
	{ID: workgate.MetricTwoFactorFailure, Name: "workgate_two_factor_failure_total", Help: "Wrong two-factor codes."},
	{ID: workgate.MetricTwoFactorAttemptsExceeded, Name: "workgate_two_factor_attempts_exceeded_total", Help: "Two-factor submissions refused by the attempt limit."},
	{ID: workgate.MetricTwoFactorResend, Name: "workgate_two_factor_resend_total", Help: "Two-factor code resends."},
	{ID: workgate.MetricMailFailure, Name: "workgate_mail_failure_total", Help: "Mail that could not be delivered or queued."},
	{ID: workgate.MetricDeviceNew, Name: "workgate_device_new_total", Help: "First sightings of a device."},
	{ID: workgate.MetricDeviceSeen, Name: "workgate_device_seen_total", Help: "Repeat sightings of a known device."},
	{ID: workgate.MetricInternalError, Name: "workgate_internal_error_total", Help: "Store and infrastructure failures."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: workgate.MetricVerifyLatency, Name: "workgate_verify_latency_seconds", Help: "Verify latency."},
	{ID: workgate.MetricAuthorizeLatency, Name: "workgate_authorize_latency_seconds", Help: "Authorize latency."},
}

// HistogramBounds are the bucket upper bounds in seconds, without +Inf.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// flatten buckets into gauges.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "workgate_audit_dropped_total"

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
