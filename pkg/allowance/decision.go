package allowance

import "time"

// Reason explains the outcome of an allowance check.
type Reason string

const (
	// ReasonOK means the check passed without reserving an attempt.
	ReasonOK Reason = "ok"
	// ReasonReserved means the check passed and an attempt was reserved.
	ReasonReserved Reason = "reserved"
	// ReasonBackoffActive means a 429 backoff window is blocking all endpoints.
	ReasonBackoffActive Reason = "backoff_active"
	// ReasonDailyCapReached means the combined daily call cap is exhausted.
	ReasonDailyCapReached Reason = "daily_cap_reached"
	// ReasonUnderMinInterval means the endpoint was attempted too recently.
	ReasonUnderMinInterval Reason = "under_min_interval"
)

// Decision is the immutable outcome of an allowance check. It is only
// constructed through Allow and Deny so an allowed decision can never
// carry a denial reason. Denials are ordinary values, not errors; callers
// branch on Reason.
type Decision struct {
	allowed        bool
	reason         Reason
	nextEligibleAt time.Time
}

// Allow constructs an allowed decision.
func Allow(reason Reason) Decision {
	return Decision{allowed: true, reason: reason}
}

// Deny constructs a denied decision. nextEligibleAt is when the caller can
// expect the check to pass again; the zero time means unknown.
func Deny(reason Reason, nextEligibleAt time.Time) Decision {
	return Decision{reason: reason, nextEligibleAt: nextEligibleAt}
}

// Allowed reports whether the attempt was admitted.
func (d Decision) Allowed() bool { return d.allowed }

// Reason returns why the decision came out the way it did.
func (d Decision) Reason() Reason { return d.reason }

// NextEligibleAt returns when the caller may next be admitted. It is the
// zero time for allowed decisions and for denials with no known bound.
func (d Decision) NextEligibleAt() time.Time { return d.nextEligibleAt }
