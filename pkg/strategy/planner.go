// Package strategy decides what the battery should do for the current
// half-hour slot. The planner is pure: it looks at telemetry, stored
// rates and solar forecasts and produces an Action, and something else
// (the poller) applies it.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
)

// Inputs is everything the planner looks at for one decision.
type Inputs struct {
	Now       time.Time
	Telemetry types.InverterTelemetry
	// Rates should cover roughly the next 24 hours; the slot containing
	// Now must be present for a price-based decision.
	Rates []types.Rate
	// Forecasts are upcoming solar estimates, used to avoid grid-charging
	// ahead of a sunny afternoon.
	Forecasts []types.SolarEstimate
	Settings  types.Settings
}

// Planner holds the decision logic.
type Planner struct{}

// NewPlanner creates a new Planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Decide determines the best action for the slot containing in.Now.
func (p *Planner) Decide(ctx context.Context, in Inputs) types.Action {
	action := types.Action{
		Timestamp:  in.Now,
		BatterySOC: in.Telemetry.BatterySOC,
		DryRun:     in.Settings.DryRun,
	}

	current, ok := currentRate(in.Rates, in.Now)
	if !ok {
		action.BatteryMode = types.BatteryModeAuto
		action.Reason = types.ActionReasonMissingData
		action.Description = "no rate covers the current slot"
		log.Ctx(ctx).WarnContext(ctx, "planner missing current rate", slog.Time("now", in.Now))
		return action
	}
	action.CurrentRate = &current

	// Rule 1: never let the battery sit below its floor. This outranks
	// price logic because an empty battery can't ride out an outage.
	if in.Telemetry.BatterySOC < in.Settings.MinBatterySOC {
		action.BatteryMode = types.BatteryModeCharge
		action.TargetSOC = in.Settings.MinBatterySOC
		action.Reason = types.ActionReasonChargeBelowFloor
		action.Description = fmt.Sprintf("SOC %.0f%% below floor %.0f%%", in.Telemetry.BatterySOC, in.Settings.MinBatterySOC)
		return action
	}

	canGridCharge := in.Settings.GridChargeBattery && in.Telemetry.BatterySOC < in.Settings.ChargeTargetSOC

	// Rule 2: plunge pricing. Below the always-charge floor (which
	// includes negative rates) we charge regardless of slot ranking.
	if canGridCharge && current.PencePerKWH < in.Settings.AlwaysChargeUnderPencePerKWH {
		action.BatteryMode = types.BatteryModeCharge
		action.TargetSOC = in.Settings.ChargeTargetSOC
		action.Reason = types.ActionReasonChargeCheapWindow
		action.Description = fmt.Sprintf("rate %.1fp under always-charge floor %.1fp", current.PencePerKWH, in.Settings.AlwaysChargeUnderPencePerKWH)
		return action
	}

	// Rule 3: charge in the cheapest slots of the coming day, but not if
	// the solar forecast already covers the charge we would buy.
	if canGridCharge && inCheapWindow(in.Rates, in.Now, current, in.Settings.CheapSlotCount) {
		if neededKWH := chargeNeededKWH(in.Telemetry, in.Settings); forecastKWH(in.Forecasts, in.Now) >= neededKWH && neededKWH > 0 {
			action.BatteryMode = types.BatteryModeAuto
			action.Reason = types.ActionReasonSolarSufficient
			action.Description = fmt.Sprintf("forecast covers the %.1f kWh needed to reach target", neededKWH)
			return action
		}
		action.BatteryMode = types.BatteryModeCharge
		action.TargetSOC = in.Settings.ChargeTargetSOC
		action.Reason = types.ActionReasonChargeCheapWindow
		action.Description = fmt.Sprintf("rate %.1fp is in the %d cheapest slots", current.PencePerKWH, in.Settings.CheapSlotCount)
		return action
	}

	// Rule 4: discharge into expensive slots while staying above the floor.
	if current.PencePerKWH >= peakThreshold(in.Rates) && in.Telemetry.BatterySOC > in.Settings.MinBatterySOC {
		action.BatteryMode = types.BatteryModeDischarge
		action.Reason = types.ActionReasonDischargePeak
		action.Description = fmt.Sprintf("rate %.1fp is a peak slot", current.PencePerKWH)
		return action
	}

	// Rule 5: close to the floor, hold what we have instead of letting
	// self-consumption drain through it.
	if in.Telemetry.BatterySOC < in.Settings.MinBatterySOC+5 {
		action.BatteryMode = types.BatteryModeHold
		action.Reason = types.ActionReasonHoldReserve
		action.Description = fmt.Sprintf("SOC %.0f%% near floor %.0f%%", in.Telemetry.BatterySOC, in.Settings.MinBatterySOC)
		return action
	}

	action.BatteryMode = types.BatteryModeAuto
	action.Reason = types.ActionReasonIdle
	action.Description = "self-consumption"
	return action
}

// currentRate finds the rate whose slot contains now.
func currentRate(rates []types.Rate, now time.Time) (types.Rate, bool) {
	for _, r := range rates {
		if !now.Before(r.TSStart) && now.Before(r.TSEnd) {
			return r, true
		}
	}
	return types.Rate{}, false
}

// inCheapWindow reports whether current ranks among the n cheapest slots
// in the 24 hours from now.
func inCheapWindow(rates []types.Rate, now time.Time, current types.Rate, n int) bool {
	if n <= 0 {
		return false
	}
	end := now.Add(24 * time.Hour)
	var upcoming []float64
	for _, r := range rates {
		if r.TSEnd.After(now) && r.TSStart.Before(end) {
			upcoming = append(upcoming, r.PencePerKWH)
		}
	}
	if len(upcoming) == 0 {
		return false
	}
	sort.Float64s(upcoming)
	if n > len(upcoming) {
		n = len(upcoming)
	}
	return current.PencePerKWH <= upcoming[n-1]
}

// peakThreshold is the bar a slot must clear to be worth discharging
// into: double the mean of the known upcoming rates.
func peakThreshold(rates []types.Rate) float64 {
	if len(rates) == 0 {
		return 0
	}
	var sum float64
	for _, r := range rates {
		sum += r.PencePerKWH
	}
	return 2 * sum / float64(len(rates))
}

// chargeNeededKWH is the energy required to lift the battery from its
// current SOC to the charge target.
func chargeNeededKWH(tel types.InverterTelemetry, settings types.Settings) float64 {
	deficit := settings.ChargeTargetSOC - tel.BatterySOC
	if deficit <= 0 || tel.BatteryCapacityKWH <= 0 {
		return 0
	}
	return deficit / 100 * tel.BatteryCapacityKWH
}

// forecastKWH sums expected generation from now until the forecast ends.
func forecastKWH(forecasts []types.SolarEstimate, now time.Time) float64 {
	var kwh float64
	for _, f := range forecasts {
		if f.PeriodStart.Before(now) {
			continue
		}
		kwh += f.PVEstimateKW * f.Period.Hours()
	}
	return kwh
}
