package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gridpilot/gridpilot/pkg/types"
)

// Memory is an in-process Database used for tests and throwaway local
// runs. A single mutex stands in for the row lock the durable backends
// take: every allowance mutation runs start to finish while holding it, so
// read-check-write stays atomic and totally ordered across goroutines.
type Memory struct {
	mu sync.Mutex

	settings        *types.Settings
	settingsVersion int

	rates     map[int64]types.Rate
	solar     map[types.EstimateKind]map[int64]types.SolarEstimate
	telemetry map[int64]types.InverterTelemetry
	actions   []types.Action

	allowance *types.AllowanceState
}

var _ Database = (*Memory)(nil)

// NewMemory creates an empty in-memory Database.
func NewMemory() *Memory {
	return &Memory{
		rates:     make(map[int64]types.Rate),
		solar:     make(map[types.EstimateKind]map[int64]types.SolarEstimate),
		telemetry: make(map[int64]types.InverterTelemetry),
	}
}

// GetSettings returns the stored settings, or ErrNoSettings.
func (m *Memory) GetSettings(ctx context.Context) (types.Settings, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings == nil {
		return types.Settings{}, 0, ErrNoSettings
	}
	return *m.settings, m.settingsVersion, nil
}

// SetSettings stores the settings with its schema version.
func (m *Memory) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = &settings
	m.settingsVersion = version
	return nil
}

// UpsertRates adds or replaces rate records keyed by period start.
func (m *Memory) UpsertRates(ctx context.Context, rates []types.Rate, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rates {
		m.rates[r.TSStart.UTC().Unix()] = r
	}
	return nil
}

// GetRates returns rates with TSStart in [start, end), sorted.
func (m *Memory) GetRates(ctx context.Context, start, end time.Time) ([]types.Rate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Rate
	for _, r := range m.rates {
		if !r.TSStart.Before(start) && r.TSStart.Before(end) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TSStart.Before(out[j].TSStart) })
	return out, nil
}

// GetLatestRateTime returns the most recent stored rate period start.
func (m *Memory) GetLatestRateTime(ctx context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest time.Time
	for _, r := range m.rates {
		if r.TSStart.After(latest) {
			latest = r.TSStart
		}
	}
	return latest, nil
}

// UpsertSolarEstimates adds or replaces estimates keyed by kind and period start.
func (m *Memory) UpsertSolarEstimates(ctx context.Context, estimates []types.SolarEstimate, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range estimates {
		byStart, ok := m.solar[e.Kind]
		if !ok {
			byStart = make(map[int64]types.SolarEstimate)
			m.solar[e.Kind] = byStart
		}
		byStart[e.PeriodStart.UTC().Unix()] = e
	}
	return nil
}

// GetSolarEstimates returns estimates of one kind with PeriodStart in [start, end), sorted.
func (m *Memory) GetSolarEstimates(ctx context.Context, kind types.EstimateKind, start, end time.Time) ([]types.SolarEstimate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.SolarEstimate
	for _, e := range m.solar[kind] {
		if !e.PeriodStart.Before(start) && e.PeriodStart.Before(end) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out, nil
}

// InsertTelemetry stores a telemetry reading keyed by timestamp.
func (m *Memory) InsertTelemetry(ctx context.Context, t types.InverterTelemetry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.telemetry[t.Timestamp.UTC().Unix()] = t
	return nil
}

// GetTelemetry returns readings with Timestamp in [start, end), sorted.
func (m *Memory) GetTelemetry(ctx context.Context, start, end time.Time) ([]types.InverterTelemetry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.InverterTelemetry
	for _, t := range m.telemetry {
		if !t.Timestamp.Before(start) && t.Timestamp.Before(end) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// InsertAction appends a planner action.
func (m *Memory) InsertAction(ctx context.Context, action types.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, action)
	return nil
}

// GetActionHistory returns actions with Timestamp in [start, end), sorted.
func (m *Memory) GetActionHistory(ctx context.Context, start, end time.Time) ([]types.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Action
	for _, a := range m.actions {
		if !a.Timestamp.Before(start) && a.Timestamp.Before(end) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// MutateAllowanceState runs fn with the singleton state while holding the
// store mutex.
func (m *Memory) MutateAllowanceState(ctx context.Context, fn func(cur *types.AllowanceState) (*types.AllowanceState, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := fn(m.allowance.Clone())
	if err != nil {
		return err
	}
	if next != nil {
		m.allowance = next.Clone()
	}
	return nil
}

// GetAllowanceState returns a copy of the singleton state, or nil.
func (m *Memory) GetAllowanceState(ctx context.Context) (*types.AllowanceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowance.Clone(), nil
}

// Close implements Database.
func (m *Memory) Close() error { return nil }
