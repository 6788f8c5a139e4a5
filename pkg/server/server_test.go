package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gridpilot/gridpilot/pkg/allowance"
	"github.com/gridpilot/gridpilot/pkg/solar"
	"github.com/gridpilot/gridpilot/pkg/storage"
	"github.com/gridpilot/gridpilot/pkg/storage/storagemock"
	"github.com/gridpilot/gridpilot/pkg/types"
)

// fakeSolar serves canned estimates and counts calls.
type fakeSolar struct {
	estimates []types.SolarEstimate
	err       error
	calls     int
}

func (f *fakeSolar) GetForecasts(ctx context.Context, siteID string) ([]types.SolarEstimate, error) {
	f.calls++
	return f.estimates, f.err
}

func (f *fakeSolar) GetEstimatedActuals(ctx context.Context, siteID string) ([]types.SolarEstimate, error) {
	f.calls++
	return f.estimates, f.err
}

func newTestServer(t *testing.T, client solar.Client) (*Server, *storage.Memory) {
	t.Helper()
	db := storage.NewMemory()
	svc, err := allowance.New(db, allowance.Config{})
	require.NoError(t, err)
	return &Server{
		storage:   db,
		allowance: svc,
		requester: solar.NewRequester(svc, client, db),
	}, db
}

func doRequest(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	srv.setupHandler().ServeHTTP(w, r)
	return w
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &fakeSolar{})
	w := doRequest(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, &fakeSolar{})
	srv.apiToken = "secret"

	w := doRequest(t, srv, http.MethodGet, "/api/rates", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	r := httptest.NewRequest(http.MethodGet, "/api/rates", nil)
	r.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	srv.setupHandler().ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/api/rates", nil)
	r.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	srv.setupHandler().ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	// healthz never requires auth
	w = doRequest(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAllowanceEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeSolar{})

	w := doRequest(t, srv, http.MethodGet, "/api/allowance", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp allowanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 6, resp.Status.Cap)
	assert.Equal(t, 0, resp.Status.Count)
	// A fresh budget means both endpoints are eligible right away.
	assert.False(t, resp.NextEligible.Forecast.IsZero())
	assert.False(t, resp.NextEligible.Actual.IsZero())
}

func TestRefreshEndpoint(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Minute)
	client := &fakeSolar{estimates: []types.SolarEstimate{
		{Kind: types.EstimateKindForecast, PeriodStart: now, Period: 30 * time.Minute, PVEstimateKW: 1.5},
	}}
	srv, db := newTestServer(t, client)
	ctx := context.Background()

	// no site configured yet
	w := doRequest(t, srv, http.MethodPost, "/api/refresh?endpoint=forecast", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	require.NoError(t, db.SetSettings(ctx, types.Settings{SolcastSiteID: "abc-123"}, types.CurrentSettingsVersion))

	w = doRequest(t, srv, http.MethodPost, "/api/refresh?endpoint=forecast", "")
	require.Equal(t, http.StatusOK, w.Code)
	var dec decisionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dec))
	assert.True(t, dec.Allowed)
	assert.Equal(t, allowance.ReasonReserved, dec.Reason)
	assert.Equal(t, 1, client.calls)

	// a second refresh inside the minimum interval is a denial, not an error
	w = doRequest(t, srv, http.MethodPost, "/api/refresh?endpoint=forecast", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dec))
	assert.False(t, dec.Allowed)
	assert.Equal(t, allowance.ReasonUnderMinInterval, dec.Reason)
	assert.False(t, dec.NextEligibleAt.IsZero())
	assert.Equal(t, 1, client.calls)

	w = doRequest(t, srv, http.MethodPost, "/api/refresh?endpoint=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRatesEndpoint(t *testing.T) {
	srv, db := newTestServer(t, &fakeSolar{})
	ctx := context.Background()

	now := time.Now().UTC().Truncate(30 * time.Minute)
	require.NoError(t, db.UpsertRates(ctx, []types.Rate{
		{Tariff: "E-1R-AGILE-24-10-01-C", TSStart: now, TSEnd: now.Add(30 * time.Minute), PencePerKWH: 12.5},
	}, types.CurrentRateHistoryVersion))

	w := doRequest(t, srv, http.MethodGet, "/api/rates", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rates []types.Rate
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rates))
	require.Len(t, rates, 1)
	assert.Equal(t, 12.5, rates[0].PencePerKWH)

	// explicit window excluding the rate
	start := now.Add(time.Hour).Format(time.RFC3339)
	end := now.Add(2 * time.Hour).Format(time.RFC3339)
	w = doRequest(t, srv, http.MethodGet, "/api/rates?start="+start+"&end="+end, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rates))
	assert.Empty(t, rates)

	w = doRequest(t, srv, http.MethodGet, "/api/rates?start=notatime", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/rates?start="+end+"&end="+start, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSolarEndpoint(t *testing.T) {
	srv, db := newTestServer(t, &fakeSolar{})
	ctx := context.Background()

	now := time.Now().UTC().Truncate(30 * time.Minute)
	require.NoError(t, db.UpsertSolarEstimates(ctx, []types.SolarEstimate{
		{Kind: types.EstimateKindForecast, PeriodStart: now, Period: 30 * time.Minute, PVEstimateKW: 3},
		{Kind: types.EstimateKindActual, PeriodStart: now, Period: 30 * time.Minute, PVEstimateKW: 2},
	}, types.CurrentSolarHistoryVersion))

	w := doRequest(t, srv, http.MethodGet, "/api/solar", "")
	require.Equal(t, http.StatusOK, w.Code)
	var estimates []types.SolarEstimate
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &estimates))
	require.Len(t, estimates, 1)
	assert.Equal(t, 3.0, estimates[0].PVEstimateKW)

	w = doRequest(t, srv, http.MethodGet, "/api/solar?kind=actual", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &estimates))
	require.Len(t, estimates, 1)
	assert.Equal(t, 2.0, estimates[0].PVEstimateKW)

	w = doRequest(t, srv, http.MethodGet, "/api/solar?kind=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTelemetryAndActionsEndpoints(t *testing.T) {
	srv, db := newTestServer(t, &fakeSolar{})
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, db.InsertTelemetry(ctx, types.InverterTelemetry{Timestamp: now, BatterySOC: 55}))
	require.NoError(t, db.InsertAction(ctx, types.Action{
		Timestamp: now, BatteryMode: types.BatteryModeCharge, Reason: types.ActionReasonChargeCheapWindow,
	}))

	w := doRequest(t, srv, http.MethodGet, "/api/telemetry", "")
	require.Equal(t, http.StatusOK, w.Code)
	var telemetry []types.InverterTelemetry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &telemetry))
	require.Len(t, telemetry, 1)
	assert.Equal(t, 55.0, telemetry[0].BatterySOC)

	w = doRequest(t, srv, http.MethodGet, "/api/actions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var actions []types.Action
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &actions))
	require.Len(t, actions, 1)
	assert.Equal(t, types.BatteryModeCharge, actions[0].BatteryMode)
}

func TestSettingsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, &fakeSolar{})

	w := doRequest(t, srv, http.MethodGet, "/api/settings", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	body := `{"dryRun":true,"minBatterySOC":20,"chargeTargetSOC":90,"cheapSlotCount":4}`
	w = doRequest(t, srv, http.MethodPost, "/api/settings", body)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, w.Code)
	var settings types.Settings
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &settings))
	assert.True(t, settings.DryRun)
	assert.Equal(t, 90.0, settings.ChargeTargetSOC)

	for _, body := range []string{
		`{"minBatterySOC":150}`,
		`{"minBatterySOC":50,"chargeTargetSOC":40}`,
		`{"cheapSlotCount":-1}`,
		`not json`,
	} {
		w = doRequest(t, srv, http.MethodPost, "/api/settings", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestSettingsMigratedOnRead(t *testing.T) {
	srv, db := newTestServer(t, &fakeSolar{})
	ctx := context.Background()

	require.NoError(t, db.SetSettings(ctx, types.Settings{TariffProduct: "AGILE-24-10-01"}, 1))

	w := doRequest(t, srv, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, w.Code)

	// the migrated settings were written back at the current version
	_, version, err := db.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.CurrentSettingsVersion, version)
}

func TestStorageErrorsReturn500(t *testing.T) {
	db := &storagemock.MockDatabase{}
	svc, err := allowance.New(db, allowance.Config{})
	require.NoError(t, err)
	srv := &Server{
		storage:   db,
		allowance: svc,
		requester: solar.NewRequester(svc, &fakeSolar{}, db),
	}

	db.On("GetRates", mock.Anything, mock.Anything, mock.Anything).
		Return([]types.Rate{}, errors.New("backend down"))
	db.On("GetSettings", mock.Anything).
		Return(types.Settings{}, 0, errors.New("backend down"))

	w := doRequest(t, srv, http.MethodGet, "/api/rates", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/settings", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	db.AssertExpectations(t)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeSolar{})
	w := doRequest(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
