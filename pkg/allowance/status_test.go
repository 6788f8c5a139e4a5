package allowance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpilot/gridpilot/pkg/types"
)

func TestNewStatus(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	status, err := NewStatus(6, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, status.RemainingBudget())
	assert.False(t, status.IsBackoffActive(now))

	status, err = NewStatus(6, &types.AllowanceState{Count: 4})
	require.NoError(t, err)
	assert.Equal(t, 2, status.RemainingBudget())

	// Count past the cap clamps to zero instead of going negative.
	status, err = NewStatus(6, &types.AllowanceState{Count: 9})
	require.NoError(t, err)
	assert.Equal(t, 0, status.RemainingBudget())

	_, err = NewStatus(-1, nil)
	assert.ErrorContains(t, err, "negative cap")

	_, err = NewStatus(6, &types.AllowanceState{Count: -1})
	assert.ErrorContains(t, err, "negative count")
}

func TestStatusBackoffWindow(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	status := Status{BackoffUntil: now.Add(time.Hour)}

	assert.True(t, status.IsBackoffActive(now))
	// The end instant itself no longer blocks.
	assert.False(t, status.IsBackoffActive(now.Add(time.Hour)))
	assert.False(t, status.IsBackoffActive(now.Add(2*time.Hour)))
}

func TestStatusPerEndpointTimes(t *testing.T) {
	f := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	a := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	status := Status{
		LastAttemptForecast: f,
		LastSuccessActual:   a,
	}

	assert.True(t, status.LastAttempt(types.EndpointForecast).Equal(f))
	assert.True(t, status.LastAttempt(types.EndpointActual).IsZero())
	assert.True(t, status.LastSuccess(types.EndpointActual).Equal(a))
	assert.True(t, status.LastSuccess(types.EndpointForecast).IsZero())
}

func TestDecisionConstruction(t *testing.T) {
	d := Allow(ReasonReserved)
	assert.True(t, d.Allowed())
	assert.Equal(t, ReasonReserved, d.Reason())
	assert.True(t, d.NextEligibleAt().IsZero())

	next := time.Date(2026, 3, 14, 14, 0, 0, 0, time.UTC)
	d = Deny(ReasonUnderMinInterval, next)
	assert.False(t, d.Allowed())
	assert.Equal(t, ReasonUnderMinInterval, d.Reason())
	assert.True(t, d.NextEligibleAt().Equal(next))
}
