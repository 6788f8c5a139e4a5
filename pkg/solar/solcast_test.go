package solar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpilot/gridpilot/pkg/types"
)

func TestSolcastGetForecasts(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rooftop_sites/site-123/forecasts", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "48", r.URL.Query().Get("hours"))

		response := `{
			"forecasts": [
				{"pv_estimate": 2.5, "pv_estimate10": 1.1, "pv_estimate90": 3.8, "period_end": "2026-03-14T10:30:00Z", "period": "PT30M"},
				{"pv_estimate": 2.9, "pv_estimate10": 1.3, "pv_estimate90": 4.1, "period_end": "2026-03-14T11:00:00Z", "period": "PT30M"}
			]
		}`
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	}))
	defer ts.Close()

	s := &Solcast{apiURL: ts.URL, apiKey: "test-key", client: ts.Client()}

	estimates, err := s.GetForecasts(context.Background(), "site-123")
	require.NoError(t, err)
	require.Len(t, estimates, 2)

	// period_end minus period gives the stored period start
	assert.True(t, estimates[0].PeriodStart.Equal(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, 30*time.Minute, estimates[0].Period)
	assert.Equal(t, types.EstimateKindForecast, estimates[0].Kind)
	assert.Equal(t, 2.5, estimates[0].PVEstimateKW)
	assert.Equal(t, 1.1, estimates[0].PVEstimate10)
	assert.Equal(t, 3.8, estimates[0].PVEstimate90)
}

func TestSolcastGetEstimatedActuals(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rooftop_sites/site-123/estimated_actuals", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("hours"))

		response := `{
			"estimated_actuals": [
				{"pv_estimate": 1.8, "period_end": "2026-03-14T09:30:00Z", "period": "PT30M"}
			]
		}`
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	}))
	defer ts.Close()

	s := &Solcast{apiURL: ts.URL, apiKey: "test-key", client: ts.Client()}

	estimates, err := s.GetEstimatedActuals(context.Background(), "site-123")
	require.NoError(t, err)
	require.Len(t, estimates, 1)
	assert.Equal(t, types.EstimateKindActual, estimates[0].Kind)
	assert.Equal(t, 1.8, estimates[0].PVEstimateKW)
}

func TestSolcastRateLimited(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"response_status": "rate limited"}`))
	}))
	defer ts.Close()

	s := &Solcast{apiURL: ts.URL, apiKey: "test-key", client: ts.Client()}

	_, err := s.GetForecasts(context.Background(), "site-123")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "rate limited")
}

func TestSolcastMissingSiteID(t *testing.T) {
	s := &Solcast{apiURL: "https://api.solcast.com.au", apiKey: "test-key"}
	_, err := s.GetForecasts(context.Background(), "")
	assert.ErrorContains(t, err, "site ID is required")
}

func TestSolcastValidate(t *testing.T) {
	s := &Solcast{apiURL: "https://api.solcast.com.au", apiKey: "k"}
	assert.NoError(t, s.Validate())

	s = &Solcast{apiURL: "https://api.solcast.com.au"}
	assert.ErrorContains(t, s.Validate(), "solcast-api-key")

	s = &Solcast{apiKey: "k"}
	assert.ErrorContains(t, s.Validate(), "solcast-api-url")
}
