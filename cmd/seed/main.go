package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/storage"
	"github.com/gridpilot/gridpilot/pkg/types"
)

// Seeds a day of plausible Agile rates, solar estimates, telemetry and
// planner actions into the configured store so the dashboard has
// something to render during development.
func main() {
	db := storage.Configured()
	lflag.Configure()

	ctx := context.Background()
	log.Ctx(ctx).InfoContext(ctx, "seeding mock data")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	// Write default settings unless some already exist.
	if _, _, err := db.GetSettings(ctx); errors.Is(err, storage.ErrNoSettings) {
		settings, _, merr := types.MigrateSettings(types.Settings{
			DryRun:            true,
			TariffProduct:     "AGILE-24-10-01",
			TariffCode:        "E-1R-AGILE-24-10-01-C",
			GridChargeBattery: true,
		}, 0)
		if merr != nil {
			fatal(ctx, "failed to build default settings", merr)
		}
		if err := db.SetSettings(ctx, settings, types.CurrentSettingsVersion); err != nil {
			fatal(ctx, "failed to seed settings", err)
		}
	} else if err != nil {
		fatal(ctx, "failed to check settings", err)
	}

	const (
		batteryCapacityKWH = 10.0
		solarPeakKW        = 4.0
		homeAvgKW          = 0.6
	)

	now := time.Now().UTC()
	start := now.Truncate(24 * time.Hour)
	currentSOC := 40.0

	var rates []types.Rate
	var forecasts []types.SolarEstimate

	for t := start; t.Before(start.Add(48 * time.Hour)); t = t.Add(30 * time.Minute) {
		hour := t.Hour()

		// Agile-ish shape: cheap overnight, a plunge mid-day, an evening peak.
		pence := 14.0
		switch {
		case hour < 5:
			pence = 8.0
		case hour >= 11 && hour < 15:
			pence = 4.0
		case hour >= 16 && hour < 19:
			pence = 34.0
		}
		pence += rng.Float64()*2 - 1

		rates = append(rates, types.Rate{
			Tariff:      "E-1R-AGILE-24-10-01-C",
			TSStart:     t,
			TSEnd:       t.Add(30 * time.Minute),
			PencePerKWH: pence,
		})

		// Solar bell curve peaking mid-day.
		solarKW := 0.0
		if hour > 6 && hour < 20 {
			dist := float64(hour) + float64(t.Minute())/60 - 13.0
			solarKW = solarPeakKW * math.Exp(-(dist*dist)/10.0)
		}
		forecasts = append(forecasts, types.SolarEstimate{
			Kind:         types.EstimateKindForecast,
			PeriodStart:  t,
			Period:       30 * time.Minute,
			PVEstimateKW: solarKW,
			PVEstimate10: solarKW * 0.6,
			PVEstimate90: solarKW * 1.2,
		})
	}

	if err := db.UpsertRates(ctx, rates, types.CurrentRateHistoryVersion); err != nil {
		fatal(ctx, "failed to seed rates", err)
	}
	if err := db.UpsertSolarEstimates(ctx, forecasts, types.CurrentSolarHistoryVersion); err != nil {
		fatal(ctx, "failed to seed solar estimates", err)
	}

	// Telemetry and actions from midnight until now, one per half hour.
	for t := start; t.Before(now); t = t.Add(30 * time.Minute) {
		hour := t.Hour()

		solarKW := 0.0
		if hour > 6 && hour < 20 {
			dist := float64(hour) - 13.0
			solarKW = solarPeakKW * math.Exp(-(dist*dist)/10.0)
		}
		homeKW := homeAvgKW + rng.Float64()*0.5
		if hour >= 17 && hour < 22 {
			homeKW += 1.5
		}

		var mode types.BatteryMode
		var reason types.ActionReason
		var desc string
		batteryKW := 0.0
		switch {
		case hour < 5 && currentSOC < 90:
			mode, reason, desc = types.BatteryModeCharge, types.ActionReasonChargeCheapWindow, "overnight cheap window"
			batteryKW = -3.0
		case hour >= 16 && hour < 19 && currentSOC > 20:
			mode, reason, desc = types.BatteryModeDischarge, types.ActionReasonDischargePeak, "evening peak"
			batteryKW = math.Min(homeKW-solarKW, 3.0)
		default:
			mode, reason, desc = types.BatteryModeAuto, types.ActionReasonIdle, "self consumption"
			batteryKW = math.Max(math.Min(homeKW-solarKW, 3.0), -3.0)
		}

		currentSOC -= (batteryKW * 0.5 / batteryCapacityKWH) * 100
		currentSOC = math.Max(5, math.Min(100, currentSOC))

		if err := db.InsertTelemetry(ctx, types.InverterTelemetry{
			Timestamp:          t,
			BatterySOC:         currentSOC,
			BatteryPowerKW:     batteryKW,
			PVPowerKW:          solarKW,
			LoadPowerKW:        homeKW,
			GridPowerKW:        homeKW - solarKW - batteryKW,
			BatteryCapacityKWH: batteryCapacityKWH,
		}); err != nil {
			fatal(ctx, "failed to seed telemetry", err)
		}

		rate := rates[int(t.Sub(start)/(30*time.Minute))]
		if err := db.InsertAction(ctx, types.Action{
			Timestamp:   t,
			BatteryMode: mode,
			Reason:      reason,
			Description: fmt.Sprintf("Mock: %s", desc),
			CurrentRate: &rate,
			BatterySOC:  currentSOC,
			DryRun:      true,
		}); err != nil {
			fatal(ctx, "failed to seed action", err)
		}

		fmt.Printf("Seeded %s: %s (%.1fp/kWh, SOC %.0f%%)\n",
			t.Format(time.Kitchen), desc, rate.PencePerKWH, currentSOC)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data successfully")
}

func fatal(ctx context.Context, msg string, err error) {
	log.Ctx(ctx).ErrorContext(ctx, msg, "error", err)
	os.Exit(1)
}
