package inverter

import (
	"context"

	"github.com/gridpilot/gridpilot/pkg/types"
)

// System defines the interface for interacting with a hybrid inverter and
// its battery.
type System interface {
	// GetTelemetry returns the current inverter reading.
	GetTelemetry(ctx context.Context) (types.InverterTelemetry, error)

	// SetBatteryMode commands the battery behaviour. targetSOC only
	// applies to charge mode and is a percentage.
	SetBatteryMode(ctx context.Context, mode types.BatteryMode, targetSOC float64) error
}
