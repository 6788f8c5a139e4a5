package types

import "time"

// Endpoint identifies which Solcast endpoint an allowance attempt is for.
type Endpoint string

const (
	EndpointForecast Endpoint = "forecast"
	EndpointActual   Endpoint = "actual"
)

// Valid reports whether e is a known endpoint.
func (e Endpoint) Valid() bool {
	return e == EndpointForecast || e == EndpointActual
}

// AllowanceState is the persisted singleton record tracking Solcast API
// usage for the current accounting day. There is exactly one live record;
// day boundaries roll it forward in place rather than creating new rows.
// All mutations happen inside the storage backend's exclusive-lock
// transaction (see storage.Database.MutateAllowanceState).
type AllowanceState struct {
	// DayKey is the date (in the reset timezone) this record counts for.
	DayKey string `json:"dayKey"`
	// Count is the combined number of reserved attempts across both
	// endpoints since the last reset.
	Count int `json:"count"`
	// ResetAt is the next daily reset boundary.
	ResetAt time.Time `json:"resetAt"`
	// BackoffUntil blocks all endpoints while in the future. It is never
	// cleared, only outlived.
	BackoffUntil time.Time `json:"backoffUntil,omitzero"`

	LastAttemptForecast time.Time `json:"lastAttemptForecast,omitzero"`
	LastAttemptActual   time.Time `json:"lastAttemptActual,omitzero"`
	LastSuccessForecast time.Time `json:"lastSuccessForecast,omitzero"`
	LastSuccessActual   time.Time `json:"lastSuccessActual,omitzero"`
}

// LastAttempt returns the most recent reserved-attempt time for the endpoint.
// The zero time means no attempt has been made.
func (s *AllowanceState) LastAttempt(e Endpoint) time.Time {
	if e == EndpointActual {
		return s.LastAttemptActual
	}
	return s.LastAttemptForecast
}

// SetLastAttempt records a reserved attempt for the endpoint.
func (s *AllowanceState) SetLastAttempt(e Endpoint, t time.Time) {
	if e == EndpointActual {
		s.LastAttemptActual = t
	} else {
		s.LastAttemptForecast = t
	}
}

// LastSuccess returns the most recent confirmed success time for the endpoint.
func (s *AllowanceState) LastSuccess(e Endpoint) time.Time {
	if e == EndpointActual {
		return s.LastSuccessActual
	}
	return s.LastSuccessForecast
}

// SetLastSuccess records a confirmed success for the endpoint.
func (s *AllowanceState) SetLastSuccess(e Endpoint, t time.Time) {
	if e == EndpointActual {
		s.LastSuccessActual = t
	} else {
		s.LastSuccessForecast = t
	}
}

// Clone returns a copy so storage backends can hand out state without
// aliasing their internal record.
func (s *AllowanceState) Clone() *AllowanceState {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
