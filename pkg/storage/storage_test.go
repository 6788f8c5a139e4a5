package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpilot/gridpilot/pkg/types"
)

// testDatabases returns a fresh instance of every locally-testable backend.
func testDatabases(t *testing.T) map[string]Database {
	t.Helper()
	sq := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, sq.Validate())
	require.NoError(t, sq.Init(context.Background()))
	t.Cleanup(func() { sq.Close() })
	return map[string]Database{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, db := range testDatabases(t) {
		t.Run(name, func(t *testing.T) {
			_, _, err := db.GetSettings(ctx)
			require.ErrorIs(t, err, ErrNoSettings)

			settings := types.Settings{
				DryRun:                       true,
				TariffProduct:                "AGILE-24-10-01",
				TariffCode:                   "E-1R-AGILE-24-10-01-C",
				SolcastSiteID:                "1234-5678",
				AlwaysChargeUnderPencePerKWH: 5,
				CheapSlotCount:               6,
				MinBatterySOC:                15,
				ChargeTargetSOC:              90,
			}
			require.NoError(t, db.SetSettings(ctx, settings, 3))

			got, version, err := db.GetSettings(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, version)
			assert.Equal(t, settings, got)

			// Overwrite
			settings.CheapSlotCount = 4
			require.NoError(t, db.SetSettings(ctx, settings, 4))
			got, version, err = db.GetSettings(ctx)
			require.NoError(t, err)
			assert.Equal(t, 4, version)
			assert.Equal(t, 4, got.CheapSlotCount)
		})
	}
}

func TestRates(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	for name, db := range testDatabases(t) {
		t.Run(name, func(t *testing.T) {
			latest, err := db.GetLatestRateTime(ctx)
			require.NoError(t, err)
			assert.True(t, latest.IsZero())

			rates := []types.Rate{
				{Tariff: "agile", TSStart: now, TSEnd: now.Add(30 * time.Minute), PencePerKWH: 12.5},
				{Tariff: "agile", TSStart: now.Add(30 * time.Minute), TSEnd: now.Add(time.Hour), PencePerKWH: 14.1},
				{Tariff: "agile", TSStart: now.Add(time.Hour), TSEnd: now.Add(90 * time.Minute), PencePerKWH: -2.1},
			}
			require.NoError(t, db.UpsertRates(ctx, rates, 1))

			// Range is [start, end)
			got, err := db.GetRates(ctx, now, now.Add(time.Hour))
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, 12.5, got[0].PencePerKWH)
			assert.Equal(t, 14.1, got[1].PencePerKWH)

			// Upsert replaces on the same period start
			rates[0].PencePerKWH = 13.0
			require.NoError(t, db.UpsertRates(ctx, rates[:1], 1))
			got, err = db.GetRates(ctx, now, now.Add(30*time.Minute))
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, 13.0, got[0].PencePerKWH)

			latest, err = db.GetLatestRateTime(ctx)
			require.NoError(t, err)
			assert.True(t, latest.Equal(now.Add(time.Hour)))
		})
	}
}

func TestSolarEstimates(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	for name, db := range testDatabases(t) {
		t.Run(name, func(t *testing.T) {
			estimates := []types.SolarEstimate{
				{Kind: types.EstimateKindForecast, PeriodStart: now, Period: 30 * time.Minute, PVEstimateKW: 2.5, PVEstimate10: 1.1, PVEstimate90: 3.8},
				{Kind: types.EstimateKindForecast, PeriodStart: now.Add(30 * time.Minute), Period: 30 * time.Minute, PVEstimateKW: 2.9},
				{Kind: types.EstimateKindActual, PeriodStart: now, Period: 30 * time.Minute, PVEstimateKW: 2.2},
			}
			require.NoError(t, db.UpsertSolarEstimates(ctx, estimates, 1))

			// Kinds do not bleed into each other even with the same period start
			forecasts, err := db.GetSolarEstimates(ctx, types.EstimateKindForecast, now, now.Add(time.Hour))
			require.NoError(t, err)
			require.Len(t, forecasts, 2)
			assert.Equal(t, 2.5, forecasts[0].PVEstimateKW)
			assert.Equal(t, 3.8, forecasts[0].PVEstimate90)

			actuals, err := db.GetSolarEstimates(ctx, types.EstimateKindActual, now, now.Add(time.Hour))
			require.NoError(t, err)
			require.Len(t, actuals, 1)
			assert.Equal(t, 2.2, actuals[0].PVEstimateKW)
		})
	}
}

func TestTelemetryAndActions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	for name, db := range testDatabases(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.InsertTelemetry(ctx, types.InverterTelemetry{
				Timestamp: now, BatterySOC: 55, PVPowerKW: 1.2,
			}))
			require.NoError(t, db.InsertTelemetry(ctx, types.InverterTelemetry{
				Timestamp: now.Add(5 * time.Minute), BatterySOC: 56, PVPowerKW: 1.4,
			}))

			readings, err := db.GetTelemetry(ctx, now, now.Add(10*time.Minute))
			require.NoError(t, err)
			require.Len(t, readings, 2)
			assert.Equal(t, 55.0, readings[0].BatterySOC)

			require.NoError(t, db.InsertAction(ctx, types.Action{
				Timestamp: now, BatteryMode: types.BatteryModeCharge,
				Reason: types.ActionReasonChargeCheapWindow, BatterySOC: 55,
			}))
			actions, err := db.GetActionHistory(ctx, now, now.Add(time.Minute))
			require.NoError(t, err)
			require.Len(t, actions, 1)
			assert.Equal(t, types.BatteryModeCharge, actions[0].BatteryMode)
		})
	}
}

func TestAllowanceStateMutate(t *testing.T) {
	ctx := context.Background()
	for name, db := range testDatabases(t) {
		t.Run(name, func(t *testing.T) {
			// Absent state surfaces as nil both ways
			st, err := db.GetAllowanceState(ctx)
			require.NoError(t, err)
			assert.Nil(t, st)

			require.NoError(t, db.MutateAllowanceState(ctx, func(cur *types.AllowanceState) (*types.AllowanceState, error) {
				require.Nil(t, cur)
				return &types.AllowanceState{
					DayKey:  "2026-03-14",
					Count:   1,
					ResetAt: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
				}, nil
			}))

			st, err = db.GetAllowanceState(ctx)
			require.NoError(t, err)
			require.NotNil(t, st)
			assert.Equal(t, "2026-03-14", st.DayKey)
			assert.Equal(t, 1, st.Count)

			// Returning nil discards the mutation
			require.NoError(t, db.MutateAllowanceState(ctx, func(cur *types.AllowanceState) (*types.AllowanceState, error) {
				cur.Count = 99
				return nil, nil
			}))
			st, err = db.GetAllowanceState(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, st.Count)

			// Errors abort without persisting
			wantErr := errors.New("boom")
			err = db.MutateAllowanceState(ctx, func(cur *types.AllowanceState) (*types.AllowanceState, error) {
				cur.Count = 99
				return cur, wantErr
			})
			require.ErrorIs(t, err, wantErr)
			st, err = db.GetAllowanceState(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, st.Count)
		})
	}
}

// TestAllowanceStateMutateConcurrent hammers the singleton from many
// goroutines and checks no increment is lost, which is the property the
// daily cap depends on.
func TestAllowanceStateMutateConcurrent(t *testing.T) {
	ctx := context.Background()
	const goroutines = 20
	const perGoroutine = 5
	for name, db := range testDatabases(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < goroutines; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < perGoroutine; j++ {
						err := db.MutateAllowanceState(ctx, func(cur *types.AllowanceState) (*types.AllowanceState, error) {
							if cur == nil {
								cur = &types.AllowanceState{DayKey: "2026-03-14"}
							}
							cur.Count++
							return cur, nil
						})
						assert.NoError(t, err)
					}
				}()
			}
			wg.Wait()

			st, err := db.GetAllowanceState(ctx)
			require.NoError(t, err)
			require.NotNil(t, st)
			assert.Equal(t, goroutines*perGoroutine, st.Count)
		})
	}
}

// TestMutateDoesNotAliasInternalState makes sure a caller holding on to the
// state it was handed cannot change what the store returns later.
func TestMutateDoesNotAliasInternalState(t *testing.T) {
	ctx := context.Background()
	for name, db := range testDatabases(t) {
		t.Run(name, func(t *testing.T) {
			var leaked *types.AllowanceState
			require.NoError(t, db.MutateAllowanceState(ctx, func(cur *types.AllowanceState) (*types.AllowanceState, error) {
				leaked = &types.AllowanceState{DayKey: "2026-03-14", Count: 2}
				return leaked, nil
			}))
			leaked.Count = 50

			st, err := db.GetAllowanceState(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, st.Count)
		})
	}
}
