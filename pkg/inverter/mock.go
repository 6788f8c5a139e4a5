package inverter

import (
	"context"
	"sync"
	"time"

	"github.com/gridpilot/gridpilot/pkg/types"
)

// Mock is an in-process System used for dry runs and tests. It simulates
// a battery that charges or discharges at a fixed rate between readings.
type Mock struct {
	mu       sync.Mutex
	mode     types.BatteryMode
	target   float64
	soc      float64
	lastRead time.Time

	// now is swappable for tests
	now func() time.Time
}

var _ System = (*Mock)(nil)

const (
	mockCapacityKWH = 10
	mockRateKW      = 3
)

// NewMock returns a simulated inverter starting at the given SOC.
func NewMock(soc float64) *Mock {
	return &Mock{
		mode: types.BatteryModeAuto,
		soc:  soc,
		now:  time.Now,
	}
}

// GetTelemetry advances the simulation and returns the current reading.
func (m *Mock) GetTelemetry(ctx context.Context) (types.InverterTelemetry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !m.lastRead.IsZero() {
		hours := now.Sub(m.lastRead).Hours()
		deltaSOC := mockRateKW * hours / mockCapacityKWH * 100
		switch m.mode {
		case types.BatteryModeCharge:
			m.soc += deltaSOC
			if m.target > 0 && m.soc > m.target {
				m.soc = m.target
			}
		case types.BatteryModeDischarge:
			m.soc -= deltaSOC
		}
		if m.soc > 100 {
			m.soc = 100
		}
		if m.soc < 0 {
			m.soc = 0
		}
	}
	m.lastRead = now

	var batteryKW float64
	switch m.mode {
	case types.BatteryModeCharge:
		batteryKW = mockRateKW
	case types.BatteryModeDischarge:
		batteryKW = -mockRateKW
	}

	return types.InverterTelemetry{
		Timestamp:          now.UTC(),
		BatterySOC:         m.soc,
		BatteryPowerKW:     batteryKW,
		BatteryCapacityKWH: mockCapacityKWH,
	}, nil
}

// SetBatteryMode records the commanded mode.
func (m *Mock) SetBatteryMode(ctx context.Context, mode types.BatteryMode, targetSOC float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
	m.target = targetSOC
	return nil
}

// Mode returns the last commanded mode. Used by tests.
func (m *Mock) Mode() (types.BatteryMode, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode, m.target
}
