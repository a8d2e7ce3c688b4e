package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

// CounterDef names one controller counter.
type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// HistogramDef names one controller histogram.
type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: goSession.MetricSignInSuccess, Name: "gosession_sign_in_success_total", Help: "Successful email/password sign-ins."},
	{ID: goSession.MetricSignInFailure, Name: "gosession_sign_in_failure_total", Help: "Failed sign-in attempts."},
	{ID: goSession.MetricFederatedSignIn, Name: "gosession_federated_sign_in_total", Help: "Successful federated sign-ins."},
	{ID: goSession.MetricAccountCreated, Name: "gosession_account_created_total", Help: "Accounts created."},
	{ID: goSession.MetricAccountCreateFailure, Name: "gosession_account_create_failure_total", Help: "Failed account creations."},
	{ID: goSession.MetricSignOut, Name: "gosession_sign_out_total", Help: "Sign-outs."},
	{ID: goSession.MetricPasswordResetRequest, Name: "gosession_password_reset_request_total", Help: "Password reset emails requested."},
	{ID: goSession.MetricVerificationEmailSent, Name: "gosession_verification_email_sent_total", Help: "Verification emails requested."},
	{ID: goSession.MetricProfileCreated, Name: "gosession_profile_created_total", Help: "Profile documents created on first sign-in."},
	{ID: goSession.MetricProfileSnapshot, Name: "gosession_profile_snapshot_total", Help: "Profile snapshots applied."},
	{ID: goSession.MetricProfileDecodeFailure, Name: "gosession_profile_decode_failure_total", Help: "Profile snapshots that failed to decode."},
	{ID: goSession.MetricProfileMissing, Name: "gosession_profile_missing_total", Help: "Snapshots reporting a missing profile."},
	{ID: goSession.MetricStaleProfileDropped, Name: "gosession_stale_profile_dropped_total", Help: "Profile results dropped because the identity changed."},
	{ID: goSession.MetricReauthConfirmed, Name: "gosession_reauth_confirmed_total", Help: "Reauthentication attempts that ran their action."},
	{ID: goSession.MetricReauthFailed, Name: "gosession_reauth_failed_total", Help: "Failed reauthentication attempts."},
	{ID: goSession.MetricReauthCancelled, Name: "gosession_reauth_cancelled_total", Help: "Reauthentication flows cancelled."},
	{ID: goSession.MetricPasswordChanged, Name: "gosession_password_changed_total", Help: "Passwords changed."},
	{ID: goSession.MetricAccountDeleted, Name: "gosession_account_deleted_total", Help: "Accounts deleted."},
	{ID: goSession.MetricAccountDeleteFailure, Name: "gosession_account_delete_failure_total", Help: "Failed account deletions."},
	{ID: goSession.MetricPropagationSuccess, Name: "gosession_propagation_success_total", Help: "Default-time propagations committed."},
	{ID: goSession.MetricPropagationFailure, Name: "gosession_propagation_failure_total", Help: "Default-time propagations that failed."},
	{ID: goSession.MetricPropagationDropped, Name: "gosession_propagation_dropped_total", Help: "Default-time requests dropped while one was in flight."},
	{ID: goSession.MetricSchedulesUpdated, Name: "gosession_schedules_updated_total", Help: "Day schedules rewritten by propagation."},
	{ID: goSession.MetricActivityPoints, Name: "gosession_activity_points_total", Help: "Points recorded through activity updates."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricPropagationLatency, Name: "gosession_propagation_latency_seconds", Help: "Default-time propagation latency."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The last
// snapshot bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// need one instrument per bucket.
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

// AuditDroppedName and AuditDroppedHelp describe the dispatcher drop counter.
const (
	AuditDroppedName = "gosession_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher queue was full."
)

// NormalizeBuckets pads or truncates raw to the eight snapshot buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
