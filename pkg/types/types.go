package types

import "time"

const (
	CurrentRateHistoryVersion      = 1
	CurrentSolarHistoryVersion     = 1
	CurrentTelemetryHistoryVersion = 1
)

// Rate represents a half-hourly electricity unit rate from the tariff provider.
type Rate struct {
	Tariff      string    `json:"tariff"`
	TSStart     time.Time `json:"tsStart"`
	TSEnd       time.Time `json:"tsEnd"`
	PencePerKWH float64   `json:"pencePerKWH"`
}

// EstimateKind distinguishes predicted solar output from measured output.
type EstimateKind string

const (
	EstimateKindForecast EstimateKind = "forecast"
	EstimateKindActual   EstimateKind = "actual"
)

// SolarEstimate represents a single solar generation period from Solcast.
// Periods are 30 minutes; the P10/P90 bounds are only present on forecasts.
type SolarEstimate struct {
	Kind          EstimateKind  `json:"kind"`
	PeriodStart   time.Time     `json:"periodStart"`
	Period        time.Duration `json:"period"`
	PVEstimateKW  float64       `json:"pvEstimateKW"`
	PVEstimate10  float64       `json:"pvEstimate10KW,omitempty"`
	PVEstimate90  float64       `json:"pvEstimate90KW,omitempty"`
}

// InverterTelemetry represents a single reading from the inverter cloud API.
type InverterTelemetry struct {
	Timestamp          time.Time `json:"timestamp"`
	BatterySOC         float64   `json:"batterySOC"`
	BatteryPowerKW     float64   `json:"batteryPowerKW"`
	PVPowerKW          float64   `json:"pvPowerKW"`
	LoadPowerKW        float64   `json:"loadPowerKW"`
	GridPowerKW        float64   `json:"gridPowerKW"`
	BatteryCapacityKWH float64   `json:"batteryCapacityKWH"`
}

// ActionReason represents why the planner chose a battery action.
type ActionReason string

const (
	ActionReasonChargeCheapWindow ActionReason = "chargeCheapWindow"
	ActionReasonChargeBelowFloor  ActionReason = "chargeBelowFloor"
	ActionReasonDischargePeak     ActionReason = "dischargePeak"
	ActionReasonHoldReserve       ActionReason = "holdReserve"
	ActionReasonSolarSufficient   ActionReason = "solarSufficient"
	ActionReasonIdle              ActionReason = "idle"
	ActionReasonMissingData       ActionReason = "missingData"
)

// BatteryMode is the commanded inverter battery behaviour.
type BatteryMode string

const (
	BatteryModeCharge    BatteryMode = "charge"
	BatteryModeDischarge BatteryMode = "discharge"
	BatteryModeHold      BatteryMode = "hold"
	BatteryModeAuto      BatteryMode = "auto"
)

// Action represents a control decision made by the planner.
type Action struct {
	Timestamp    time.Time    `json:"timestamp"`
	BatteryMode  BatteryMode  `json:"batteryMode"`
	Reason       ActionReason `json:"reason"`
	Description  string       `json:"description"`
	CurrentRate  *Rate        `json:"currentRate,omitempty"`
	BatterySOC   float64      `json:"batterySOC"`
	TargetSOC    float64      `json:"targetSOC,omitempty"`
	DryRun       bool         `json:"dryRun,omitempty"`
	Failed       bool         `json:"failed,omitempty"`
	Error        string       `json:"error,omitempty"`
}
