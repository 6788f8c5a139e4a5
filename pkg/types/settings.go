package types

import (
	"fmt"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 3

// Settings represents the configuration stored in the database.
// These are dynamic settings that can be changed without redeploying.
type Settings struct {
	DryRun bool `json:"dryRun"`
	// Pause planner updates
	Pause bool `json:"pause"`

	// Tariff provider (Octopus product + tariff code, e.g. AGILE-24-10-01
	// and E-1R-AGILE-24-10-01-C)
	TariffProduct string `json:"tariffProduct"`
	TariffCode    string `json:"tariffCode"`

	// Solcast rooftop site to request forecasts/actuals for
	SolcastSiteID string `json:"solcastSiteID"`

	// Price Settings
	// Always charge when the unit rate is under this amount (in p/kWh)
	AlwaysChargeUnderPencePerKWH float64 `json:"alwaysChargeUnderPencePerKWH"`
	// Number of cheapest half-hour slots per day to charge in
	CheapSlotCount int `json:"cheapSlotCount"`

	// The minimum battery SOC the planner must preserve at all times.
	MinBatterySOC float64 `json:"minBatterySOC"`
	// The SOC the planner charges towards during cheap windows.
	ChargeTargetSOC float64 `json:"chargeTargetSOC"`

	// Can charge the battery from grid
	GridChargeBattery bool `json:"gridChargeBattery"`
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	// Loop through versions to apply migrations sequentially
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial
			if s.MinBatterySOC == 0 {
				s.MinBatterySOC = 15.0
				migrated = true
			}
			if s.ChargeTargetSOC == 0 {
				s.ChargeTargetSOC = 90.0
				migrated = true
			}
		case 2:
			// version 2: add cheap slot count
			if s.CheapSlotCount == 0 {
				s.CheapSlotCount = 6
				migrated = true
			}
		case 3:
			// version 3: default the always-charge floor
			if s.AlwaysChargeUnderPencePerKWH == 0 {
				s.AlwaysChargeUnderPencePerKWH = 5.0
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}
