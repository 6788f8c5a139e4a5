package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	_ "modernc.org/sqlite"

	"github.com/gridpilot/gridpilot/pkg/types"
)

// SQLite implements Database on a local SQLite file. Records are stored as
// JSON blobs keyed by RFC3339 UTC timestamps so range queries are plain
// lexicographic comparisons. The connection pool is capped at one
// connection and transactions begin immediately, which gives every
// MutateAllowanceState call an exclusive write lock for its whole
// read-check-write cycle.
type SQLite struct {
	path *string
	db   *sql.DB
}

var _ Database = (*SQLite)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS settings (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	json TEXT NOT NULL,
	version INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS rates (
	ts_start TEXT PRIMARY KEY,
	json TEXT NOT NULL,
	version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS solar_estimates (
	kind TEXT NOT NULL,
	period_start TEXT NOT NULL,
	json TEXT NOT NULL,
	version INTEGER NOT NULL,
	PRIMARY KEY (kind, period_start)
);
CREATE TABLE IF NOT EXISTS telemetry (
	ts TEXT PRIMARY KEY,
	json TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS actions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS actions_ts ON actions (ts);
CREATE TABLE IF NOT EXISTS allowance_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	json TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

func configuredSQLite() *SQLite {
	return &SQLite{
		path: lflag.String("sqlite-path", "gridpilot.db", "Path to the SQLite database file"),
	}
}

// NewSQLite returns an instance backed by the given file path. Init must be
// called before use.
func NewSQLite(path string) *SQLite {
	return &SQLite{path: &path}
}

// Validate implements the provider interface for Configured.
func (s *SQLite) Validate() error {
	if *s.path == "" {
		return errors.New("sqlite-path is required")
	}
	return nil
}

// Init opens the database and creates the schema.
func (s *SQLite) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", *s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("opening sqlite database: %w", err)
	}
	// modernc.org/sqlite is not safe for concurrent writers on one file,
	// so serialize everything through a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return fmt.Errorf("creating schema: %w", err)
	}
	s.db = db
	return nil
}

// tsKey formats a timestamp as the canonical UTC string key.
func tsKey(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func (s *SQLite) GetSettings(ctx context.Context) (types.Settings, int, error) {
	var blob string
	var version int
	err := s.db.QueryRowContext(ctx, `SELECT json, version FROM settings WHERE id = 1`).Scan(&blob, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Settings{}, 0, ErrNoSettings
	} else if err != nil {
		return types.Settings{}, 0, fmt.Errorf("getting settings: %w", err)
	}
	var settings types.Settings
	if err := json.Unmarshal([]byte(blob), &settings); err != nil {
		return types.Settings{}, 0, fmt.Errorf("unmarshaling settings: %w", err)
	}
	return settings, version, nil
}

func (s *SQLite) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	blob, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (id, json, version, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET json = excluded.json, version = excluded.version, updated_at = excluded.updated_at
	`, string(blob), version, tsKey(time.Now()))
	if err != nil {
		return fmt.Errorf("setting settings: %w", err)
	}
	return nil
}

func (s *SQLite) UpsertRates(ctx context.Context, rates []types.Rate, version int) error {
	if len(rates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	for _, r := range rates {
		blob, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshaling rate: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO rates (ts_start, json, version) VALUES (?, ?, ?)
			ON CONFLICT (ts_start) DO UPDATE SET json = excluded.json, version = excluded.version
		`, tsKey(r.TSStart), string(blob), version)
		if err != nil {
			return fmt.Errorf("upserting rate %v: %w", r.TSStart, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) GetRates(ctx context.Context, start, end time.Time) ([]types.Rate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT json FROM rates WHERE ts_start >= ? AND ts_start < ? ORDER BY ts_start
	`, tsKey(start), tsKey(end))
	if err != nil {
		return nil, fmt.Errorf("querying rates: %w", err)
	}
	defer rows.Close()
	var out []types.Rate
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scanning rate: %w", err)
		}
		var r types.Rate
		if err := json.Unmarshal([]byte(blob), &r); err != nil {
			return nil, fmt.Errorf("unmarshaling rate: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) GetLatestRateTime(ctx context.Context) (time.Time, error) {
	var key sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(ts_start) FROM rates`).Scan(&key)
	if err != nil {
		return time.Time{}, fmt.Errorf("querying latest rate: %w", err)
	}
	if !key.Valid {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, key.String)
}

func (s *SQLite) UpsertSolarEstimates(ctx context.Context, estimates []types.SolarEstimate, version int) error {
	if len(estimates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	for _, e := range estimates {
		blob, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshaling estimate: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO solar_estimates (kind, period_start, json, version) VALUES (?, ?, ?, ?)
			ON CONFLICT (kind, period_start) DO UPDATE SET json = excluded.json, version = excluded.version
		`, string(e.Kind), tsKey(e.PeriodStart), string(blob), version)
		if err != nil {
			return fmt.Errorf("upserting estimate %v: %w", e.PeriodStart, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) GetSolarEstimates(ctx context.Context, kind types.EstimateKind, start, end time.Time) ([]types.SolarEstimate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT json FROM solar_estimates WHERE kind = ? AND period_start >= ? AND period_start < ? ORDER BY period_start
	`, string(kind), tsKey(start), tsKey(end))
	if err != nil {
		return nil, fmt.Errorf("querying estimates: %w", err)
	}
	defer rows.Close()
	var out []types.SolarEstimate
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scanning estimate: %w", err)
		}
		var e types.SolarEstimate
		if err := json.Unmarshal([]byte(blob), &e); err != nil {
			return nil, fmt.Errorf("unmarshaling estimate: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) InsertTelemetry(ctx context.Context, t types.InverterTelemetry) error {
	blob, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshaling telemetry: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO telemetry (ts, json) VALUES (?, ?)
		ON CONFLICT (ts) DO UPDATE SET json = excluded.json
	`, tsKey(t.Timestamp), string(blob))
	if err != nil {
		return fmt.Errorf("inserting telemetry: %w", err)
	}
	return nil
}

func (s *SQLite) GetTelemetry(ctx context.Context, start, end time.Time) ([]types.InverterTelemetry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT json FROM telemetry WHERE ts >= ? AND ts < ? ORDER BY ts
	`, tsKey(start), tsKey(end))
	if err != nil {
		return nil, fmt.Errorf("querying telemetry: %w", err)
	}
	defer rows.Close()
	var out []types.InverterTelemetry
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scanning telemetry: %w", err)
		}
		var t types.InverterTelemetry
		if err := json.Unmarshal([]byte(blob), &t); err != nil {
			return nil, fmt.Errorf("unmarshaling telemetry: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) InsertAction(ctx context.Context, action types.Action) error {
	blob, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshaling action: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO actions (ts, json) VALUES (?, ?)`, tsKey(action.Timestamp), string(blob))
	if err != nil {
		return fmt.Errorf("inserting action: %w", err)
	}
	return nil
}

func (s *SQLite) GetActionHistory(ctx context.Context, start, end time.Time) ([]types.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT json FROM actions WHERE ts >= ? AND ts < ? ORDER BY ts, id
	`, tsKey(start), tsKey(end))
	if err != nil {
		return nil, fmt.Errorf("querying actions: %w", err)
	}
	defer rows.Close()
	var out []types.Action
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scanning action: %w", err)
		}
		var a types.Action
		if err := json.Unmarshal([]byte(blob), &a); err != nil {
			return nil, fmt.Errorf("unmarshaling action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MutateAllowanceState runs fn inside an immediate transaction so the
// single-row state cannot change between the read and the write.
func (s *SQLite) MutateAllowanceState(ctx context.Context, fn func(cur *types.AllowanceState) (*types.AllowanceState, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var cur *types.AllowanceState
	var blob string
	err = tx.QueryRowContext(ctx, `SELECT json FROM allowance_state WHERE id = 1`).Scan(&blob)
	if err == nil {
		cur = new(types.AllowanceState)
		if err := json.Unmarshal([]byte(blob), cur); err != nil {
			return fmt.Errorf("unmarshaling allowance state: %w", err)
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("getting allowance state: %w", err)
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	nextBlob, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshaling allowance state: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO allowance_state (id, json, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET json = excluded.json, updated_at = excluded.updated_at
	`, string(nextBlob), tsKey(time.Now()))
	if err != nil {
		return fmt.Errorf("writing allowance state: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) GetAllowanceState(ctx context.Context) (*types.AllowanceState, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT json FROM allowance_state WHERE id = 1`).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("getting allowance state: %w", err)
	}
	st := new(types.AllowanceState)
	if err := json.Unmarshal([]byte(blob), st); err != nil {
		return nil, fmt.Errorf("unmarshaling allowance state: %w", err)
	}
	return st, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
