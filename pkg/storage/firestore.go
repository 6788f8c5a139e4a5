package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
)

// FirestoreProvider implements Database using Google Cloud Firestore.
// Records are stored as JSON-string blobs under a "json" field, with
// RFC3339 UTC timestamps as document IDs so range reads are document-ID
// range queries. The allowance singleton lives at state/allowance and is
// only mutated inside RunTransaction, whose optimistic retry gives the
// same serialized read-check-write the SQL backends get from locking.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

var _ Database = (*FirestoreProvider)(nil)

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID may be empty if it can be inferred from the environment.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// jsonField extracts the JSON-string blob from a document snapshot and
// unmarshals it into out.
func jsonField(doc *firestore.DocumentSnapshot, out interface{}) error {
	val, err := doc.DataAt("json")
	if err != nil {
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return fmt.Errorf("document %s 'json' field is not a string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), out); err != nil {
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}

// GetSettings retrieves the dynamic configuration from the "config/settings" document.
func (f *FirestoreProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	doc, err := f.client.Collection("config").Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Settings{}, 0, ErrNoSettings
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	// Read version if available (default 0)
	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	var s types.Settings
	if err := jsonField(doc, &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to read settings doc", slog.Any("err", err))
		return types.Settings{}, 0, err
	}
	return s, version, nil
}

// SetSettings saves the dynamic configuration to the "config/settings" document.
// It stores the settings as a JSON string for portability.
func (f *FirestoreProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = f.client.Collection("config").Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// UpsertRates adds or updates rate records in the "rate_history" collection.
// The document ID is the RFC3339 timestamp of TSStart.
func (f *FirestoreProvider) UpsertRates(ctx context.Context, rates []types.Rate, version int) error {
	coll := f.client.Collection("rate_history")
	for _, r := range rates {
		jsonBytes, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal rate: %w", err)
		}
		docID := r.TSStart.UTC().Format(time.RFC3339)
		_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
			"json":      string(jsonBytes),
			"timestamp": r.TSStart,
			"version":   version,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert rate %s: %w", docID, err)
		}
	}
	return nil
}

// GetRates retrieves rate records within the specified time range.
// Uses document ID range queries for efficient filtering without reading all documents.
func (f *FirestoreProvider) GetRates(ctx context.Context, start, end time.Time) ([]types.Rate, error) {
	coll := f.client.Collection("rate_history")
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(start.UTC().Format(time.RFC3339))).
		Where(firestore.DocumentID, "<", coll.Doc(end.UTC().Format(time.RFC3339))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var rates []types.Rate
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating rates: %w", err)
		}
		var r types.Rate
		if err := jsonField(doc, &r); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to read rate doc", slog.Any("err", err))
			return nil, err
		}
		rates = append(rates, r)
	}
	return rates, nil
}

// GetLatestRateTime retrieves the period start of the last stored rate record.
func (f *FirestoreProvider) GetLatestRateTime(ctx context.Context) (time.Time, error) {
	iter := f.client.Collection("rate_history").
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest rate doc: %w", err)
	}
	var r types.Rate
	if err := jsonField(doc, &r); err != nil {
		return time.Time{}, err
	}
	return r.TSStart, nil
}

func solarCollection(kind types.EstimateKind) string {
	if kind == types.EstimateKindActual {
		return "solar_actual"
	}
	return "solar_forecast"
}

// UpsertSolarEstimates adds or updates solar estimates, split by kind into
// the "solar_forecast" and "solar_actual" collections.
func (f *FirestoreProvider) UpsertSolarEstimates(ctx context.Context, estimates []types.SolarEstimate, version int) error {
	for _, e := range estimates {
		jsonBytes, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal solar estimate: %w", err)
		}
		docID := e.PeriodStart.UTC().Format(time.RFC3339)
		_, err = f.client.Collection(solarCollection(e.Kind)).Doc(docID).Set(ctx, map[string]interface{}{
			"json":      string(jsonBytes),
			"timestamp": e.PeriodStart,
			"version":   version,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert solar estimate %s: %w", docID, err)
		}
	}
	return nil
}

// GetSolarEstimates retrieves solar estimates of one kind within the specified time range.
func (f *FirestoreProvider) GetSolarEstimates(ctx context.Context, kind types.EstimateKind, start, end time.Time) ([]types.SolarEstimate, error) {
	coll := f.client.Collection(solarCollection(kind))
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(start.UTC().Format(time.RFC3339))).
		Where(firestore.DocumentID, "<", coll.Doc(end.UTC().Format(time.RFC3339))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var estimates []types.SolarEstimate
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating solar estimates: %w", err)
		}
		var e types.SolarEstimate
		if err := jsonField(doc, &e); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to read solar estimate doc", slog.Any("err", err))
			return nil, err
		}
		estimates = append(estimates, e)
	}
	return estimates, nil
}

// InsertTelemetry adds an inverter reading to the "telemetry" collection.
func (f *FirestoreProvider) InsertTelemetry(ctx context.Context, t types.InverterTelemetry) error {
	jsonBytes, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal telemetry: %w", err)
	}
	docID := t.Timestamp.UTC().Format(time.RFC3339)
	_, err = f.client.Collection("telemetry").Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": t.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to insert telemetry %s: %w", docID, err)
	}
	return nil
}

// GetTelemetry retrieves inverter readings within the specified time range.
func (f *FirestoreProvider) GetTelemetry(ctx context.Context, start, end time.Time) ([]types.InverterTelemetry, error) {
	coll := f.client.Collection("telemetry")
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(start.UTC().Format(time.RFC3339))).
		Where(firestore.DocumentID, "<", coll.Doc(end.UTC().Format(time.RFC3339))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var readings []types.InverterTelemetry
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating telemetry: %w", err)
		}
		var t types.InverterTelemetry
		if err := jsonField(doc, &t); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to read telemetry doc", slog.Any("err", err))
			return nil, err
		}
		readings = append(readings, t)
	}
	return readings, nil
}

// InsertAction adds a new action record to the "action_history" collection as a JSON blob.
// The document ID is the RFC3339 timestamp for efficient range queries.
func (f *FirestoreProvider) InsertAction(ctx context.Context, action types.Action) error {
	jsonBytes, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}
	docID := action.Timestamp.UTC().Format(time.RFC3339)
	_, err = f.client.Collection("action_history").Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": action.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to insert action: %w", err)
	}
	return nil
}

// GetActionHistory retrieves action records within the specified time range.
func (f *FirestoreProvider) GetActionHistory(ctx context.Context, start, end time.Time) ([]types.Action, error) {
	coll := f.client.Collection("action_history")
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(start.UTC().Format(time.RFC3339))).
		Where(firestore.DocumentID, "<", coll.Doc(end.UTC().Format(time.RFC3339))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var actions []types.Action
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating actions: %w", err)
		}
		var a types.Action
		if err := jsonField(doc, &a); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to read action doc", slog.Any("err", err))
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// allowanceDoc returns the singleton state document reference.
func (f *FirestoreProvider) allowanceDoc() *firestore.DocumentRef {
	return f.client.Collection("state").Doc("allowance")
}

// MutateAllowanceState runs fn against the "state/allowance" document
// inside a Firestore transaction. The transaction re-runs on contention,
// so fn must be safe to call more than once.
func (f *FirestoreProvider) MutateAllowanceState(ctx context.Context, fn func(cur *types.AllowanceState) (*types.AllowanceState, error)) error {
	return f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var cur *types.AllowanceState
		doc, err := tx.Get(f.allowanceDoc())
		if err == nil {
			cur = new(types.AllowanceState)
			if err := jsonField(doc, cur); err != nil {
				return err
			}
		} else if status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to fetch allowance state: %w", err)
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}

		jsonBytes, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal allowance state: %w", err)
		}
		return tx.Set(f.allowanceDoc(), map[string]interface{}{
			"json":      string(jsonBytes),
			"updatedAt": time.Now().UTC(),
		})
	})
}

// GetAllowanceState retrieves the singleton state, or nil if none exists.
func (f *FirestoreProvider) GetAllowanceState(ctx context.Context) (*types.AllowanceState, error) {
	doc, err := f.allowanceDoc().Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch allowance state: %w", err)
	}
	st := new(types.AllowanceState)
	if err := jsonField(doc, st); err != nil {
		return nil, err
	}
	return st, nil
}
