package allowance

import (
	"fmt"
	"time"

	"github.com/gridpilot/gridpilot/pkg/types"
)

// Status is an immutable snapshot of the allowance state plus the
// configured cap. It is a read-side value: mutating it has no effect on
// the persisted state. Zero time values mean "never" / "not set".
type Status struct {
	Cap          int       `json:"cap"`
	Count        int       `json:"count"`
	ResetAt      time.Time `json:"resetAt,omitzero"`
	BackoffUntil time.Time `json:"backoffUntil,omitzero"`

	LastAttemptForecast time.Time `json:"lastAttemptForecast,omitzero"`
	LastAttemptActual   time.Time `json:"lastAttemptActual,omitzero"`
	LastSuccessForecast time.Time `json:"lastSuccessForecast,omitzero"`
	LastSuccessActual   time.Time `json:"lastSuccessActual,omitzero"`
}

// NewStatus builds a Status snapshot from a persisted state record.
func NewStatus(cap int, st *types.AllowanceState) (Status, error) {
	if cap < 0 {
		return Status{}, fmt.Errorf("negative cap: %d", cap)
	}
	if st == nil {
		return Status{Cap: cap}, nil
	}
	if st.Count < 0 {
		return Status{}, fmt.Errorf("negative count: %d", st.Count)
	}
	return Status{
		Cap:                 cap,
		Count:               st.Count,
		ResetAt:             st.ResetAt,
		BackoffUntil:        st.BackoffUntil,
		LastAttemptForecast: st.LastAttemptForecast,
		LastAttemptActual:   st.LastAttemptActual,
		LastSuccessForecast: st.LastSuccessForecast,
		LastSuccessActual:   st.LastSuccessActual,
	}, nil
}

// RemainingBudget returns how many combined attempts are left today.
func (s Status) RemainingBudget() int {
	if s.Count >= s.Cap {
		return 0
	}
	return s.Cap - s.Count
}

// IsBackoffActive reports whether a 429 backoff window blocks all
// endpoints at the given instant. An expired window no longer blocks even
// though it remains recorded.
func (s Status) IsBackoffActive(now time.Time) bool {
	return !s.BackoffUntil.IsZero() && now.Before(s.BackoffUntil)
}

// LastAttempt returns the most recent reserved-attempt time for the endpoint.
func (s Status) LastAttempt(e types.Endpoint) time.Time {
	if e == types.EndpointActual {
		return s.LastAttemptActual
	}
	return s.LastAttemptForecast
}

// LastSuccess returns the most recent confirmed-success time for the endpoint.
func (s Status) LastSuccess(e types.Endpoint) time.Time {
	if e == types.EndpointActual {
		return s.LastSuccessActual
	}
	return s.LastSuccessForecast
}
