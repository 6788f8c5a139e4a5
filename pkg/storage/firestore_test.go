package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpilot/gridpilot/pkg/types"
)

func TestFirestoreProvider(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	// Use a random database for isolation
	randDB := fmt.Sprintf("test-db-%d", time.Now().UnixNano())
	f := &FirestoreProvider{
		projectID: "test-project-id",
		database:  randDB,
	}

	ctx := context.Background()
	require.NoError(t, f.Validate())
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	t.Run("Settings", func(t *testing.T) {
		_, _, err := f.GetSettings(ctx)
		require.ErrorIs(t, err, ErrNoSettings)

		settings := types.Settings{
			DryRun:                       true,
			AlwaysChargeUnderPencePerKWH: 4.5,
			MinBatterySOC:                15,
		}
		require.NoError(t, f.SetSettings(ctx, settings, 1))

		got, version, err := f.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, version)
		assert.Equal(t, settings, got)
	})

	t.Run("Rates", func(t *testing.T) {
		// Firestore doc IDs are RFC3339, which is second precision
		now := time.Now().Truncate(time.Second).UTC()
		rates := []types.Rate{
			{Tariff: "agile", TSStart: now.Add(-time.Hour), TSEnd: now.Add(-30 * time.Minute), PencePerKWH: 10.2},
			{Tariff: "agile", TSStart: now, TSEnd: now.Add(30 * time.Minute), PencePerKWH: 12.4},
		}
		require.NoError(t, f.UpsertRates(ctx, rates, 1))

		got, err := f.GetRates(ctx, now.Add(-2*time.Hour), now.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 10.2, got[0].PencePerKWH)
		assert.Equal(t, 12.4, got[1].PencePerKWH)

		latest, err := f.GetLatestRateTime(ctx)
		require.NoError(t, err)
		assert.True(t, latest.Equal(now))
	})

	t.Run("AllowanceState", func(t *testing.T) {
		st, err := f.GetAllowanceState(ctx)
		require.NoError(t, err)
		assert.Nil(t, st)

		require.NoError(t, f.MutateAllowanceState(ctx, func(cur *types.AllowanceState) (*types.AllowanceState, error) {
			require.Nil(t, cur)
			return &types.AllowanceState{
				DayKey:  "2026-03-14",
				Count:   1,
				ResetAt: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
			}, nil
		}))

		require.NoError(t, f.MutateAllowanceState(ctx, func(cur *types.AllowanceState) (*types.AllowanceState, error) {
			require.NotNil(t, cur)
			cur.Count++
			return cur, nil
		}))

		// nil return discards
		require.NoError(t, f.MutateAllowanceState(ctx, func(cur *types.AllowanceState) (*types.AllowanceState, error) {
			cur.Count = 99
			return nil, nil
		}))

		st, err = f.GetAllowanceState(ctx)
		require.NoError(t, err)
		require.NotNil(t, st)
		assert.Equal(t, 2, st.Count)
		assert.Equal(t, "2026-03-14", st.DayKey)
	})
}
