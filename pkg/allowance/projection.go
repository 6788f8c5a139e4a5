package allowance

import (
	"context"
	"time"

	"github.com/gridpilot/gridpilot/pkg/types"
)

// EligibleTimes reports when each endpoint next becomes eligible. A zero
// time means unknown (no reset boundary recorded yet).
type EligibleTimes struct {
	Forecast time.Time `json:"forecast,omitzero"`
	Actual   time.Time `json:"actual,omitzero"`
}

// Project computes the next eligible time per endpoint from a status
// snapshot. It is purely advisory (dashboards), mutates nothing, and runs
// the same evaluate precedence the reservation path uses so the two cannot
// drift. Two display clamps apply on top: eligibility is never in the
// past, and interval arithmetic is never later than the reset boundary
// (the reset hands back a fresh budget). A backoff end is exempt from the
// reset clamp because the backoff outlives the reset.
func (s *Service) Project(status Status, now time.Time) EligibleTimes {
	return EligibleTimes{
		Forecast: s.projectEndpoint(status, types.EndpointForecast, now),
		Actual:   s.projectEndpoint(status, types.EndpointActual, now),
	}
}

func (s *Service) projectEndpoint(status Status, e types.Endpoint, now time.Time) time.Time {
	d := s.evaluate(status, e, now, false)

	candidate := now
	if !d.Allowed() {
		candidate = d.NextEligibleAt()
		if candidate.IsZero() {
			// denied with no known bound (cap reached before any reset
			// boundary was recorded)
			return time.Time{}
		}
		// A backoff survives the daily reset, so its end is reported as
		// is; clamping it to the reset boundary would promise a time the
		// admission path still denies.
		if d.Reason() == ReasonBackoffActive {
			return candidate
		}
	}
	if candidate.Before(now) {
		candidate = now
	}
	if !status.ResetAt.IsZero() && candidate.After(status.ResetAt) {
		candidate = status.ResetAt
	}
	return candidate
}

// NextEligibleTimes applies any pending rollover and projects from the
// fresh snapshot.
func (s *Service) NextEligibleTimes(ctx context.Context) (EligibleTimes, error) {
	status, err := s.CurrentStatus(ctx)
	if err != nil {
		return EligibleTimes{}, err
	}
	return s.Project(status, s.now()), nil
}
