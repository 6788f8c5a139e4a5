package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/gridpilot/gridpilot/pkg/types"
)

var (
	// ErrNoSettings is returned when no settings document has been stored yet.
	ErrNoSettings = errors.New("settings not found")
)

// Database defines the interface for persisting data and retrieving settings.
type Database interface {
	// Settings
	GetSettings(ctx context.Context) (types.Settings, int, error)
	SetSettings(ctx context.Context, settings types.Settings, version int) error

	// Tariff rates
	UpsertRates(ctx context.Context, rates []types.Rate, version int) error
	GetRates(ctx context.Context, start, end time.Time) ([]types.Rate, error)
	GetLatestRateTime(ctx context.Context) (time.Time, error)

	// Solar estimates (forecasts and measured actuals)
	UpsertSolarEstimates(ctx context.Context, estimates []types.SolarEstimate, version int) error
	GetSolarEstimates(ctx context.Context, kind types.EstimateKind, start, end time.Time) ([]types.SolarEstimate, error)

	// Inverter telemetry
	InsertTelemetry(ctx context.Context, t types.InverterTelemetry) error
	GetTelemetry(ctx context.Context, start, end time.Time) ([]types.InverterTelemetry, error)

	// Planner actions
	InsertAction(ctx context.Context, action types.Action) error
	GetActionHistory(ctx context.Context, start, end time.Time) ([]types.Action, error)

	// Allowance state. MutateAllowanceState runs fn with the singleton
	// state under an exclusive lock; fn receives nil when no state exists
	// and a private copy otherwise. Returning a non-nil state persists it
	// before the lock is released; returning nil discards the mutation.
	MutateAllowanceState(ctx context.Context, fn func(cur *types.AllowanceState) (*types.AllowanceState, error)) error
	GetAllowanceState(ctx context.Context) (*types.AllowanceState, error)

	// Lifecycle
	Close() error
}

// Configured sets up the storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "sqlite", "Storage provider to use (available: sqlite, firestore, memory)")

	var p struct{ Database }

	fs := configuredFirestore()
	sq := configuredSQLite()

	lflag.Do(func() {
		switch *provider {
		case "sqlite":
			if err := sq.Validate(); err != nil {
				panic(fmt.Sprintf("sqlite validation failed: %v", err))
			}
			if err := sq.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("sqlite init failed: %v", err))
			}
			p.Database = sq
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
			p.Database = fs
		case "memory":
			p.Database = NewMemory()
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
