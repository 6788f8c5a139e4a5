package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/gridpilot/gridpilot/pkg/storage"
	"github.com/gridpilot/gridpilot/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSettings(ctx context.Context) (types.Settings, int, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	args := m.Called(ctx, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) UpsertRates(ctx context.Context, rates []types.Rate, version int) error {
	args := m.Called(ctx, rates, version)
	return args.Error(0)
}

func (m *MockDatabase) GetRates(ctx context.Context, start, end time.Time) ([]types.Rate, error) {
	args := m.Called(ctx, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.Rate), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetLatestRateTime(ctx context.Context) (time.Time, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(time.Time), args.Error(1)
	}
	return time.Time{}, nil
}

func (m *MockDatabase) UpsertSolarEstimates(ctx context.Context, estimates []types.SolarEstimate, version int) error {
	args := m.Called(ctx, estimates, version)
	return args.Error(0)
}

func (m *MockDatabase) GetSolarEstimates(ctx context.Context, kind types.EstimateKind, start, end time.Time) ([]types.SolarEstimate, error) {
	args := m.Called(ctx, kind, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.SolarEstimate), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) InsertTelemetry(ctx context.Context, t types.InverterTelemetry) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockDatabase) GetTelemetry(ctx context.Context, start, end time.Time) ([]types.InverterTelemetry, error) {
	args := m.Called(ctx, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.InverterTelemetry), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) InsertAction(ctx context.Context, action types.Action) error {
	args := m.Called(ctx, action)
	return args.Error(0)
}

func (m *MockDatabase) GetActionHistory(ctx context.Context, start, end time.Time) ([]types.Action, error) {
	args := m.Called(ctx, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.Action), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDatabase) MutateAllowanceState(ctx context.Context, fn func(cur *types.AllowanceState) (*types.AllowanceState, error)) error {
	args := m.Called(ctx, fn)
	return args.Error(0)
}

func (m *MockDatabase) GetAllowanceState(ctx context.Context) (*types.AllowanceState, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		if st := args.Get(0); st != nil {
			return st.(*types.AllowanceState), args.Error(1)
		}
		return nil, args.Error(1)
	}
	return nil, nil
}
