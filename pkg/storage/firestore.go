package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. It is useful when the optimiser's state should survive the
// controller box itself (e.g. remote diagnostics of the ledger).
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
	homeID    string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	homeID := lflag.String("firestore-home-id", "default", "Document ID of this home under the homes collection")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.homeID = *homeID

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	if f.homeID == "" {
		return fmt.Errorf("firestore-home-id is required")
	}
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

func (f *FirestoreProvider) collection(name string) *firestore.CollectionRef {
	return f.client.Collection("homes").Doc(f.homeID).Collection(name)
}

// GetSettings retrieves the dynamic configuration from the "config/settings"
// document.
func (f *FirestoreProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	doc, err := f.collection("config").Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Settings{}, 0, ErrNotFound
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	val, err := doc.DataAt("json")
	if err != nil {
		return types.Settings{}, 0, fmt.Errorf("settings document missing 'json' field: %w", err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return types.Settings{}, 0, fmt.Errorf("settings 'json' field is not a string")
	}

	var s types.Settings
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings json: %w", err)
	}
	return s, version, nil
}

// SetSettings saves the dynamic configuration to the "config/settings"
// document. It stores the settings as a JSON string for portability.
func (f *FirestoreProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	_, err = f.collection("config").Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// GetDailyDrawdown loads the date-keyed drawdown ledger from the
// "risk/drawdown" document.
func (f *FirestoreProvider) GetDailyDrawdown(ctx context.Context) (types.DailyDrawdown, error) {
	doc, err := f.collection("risk").Doc("drawdown").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.DailyDrawdown{}, nil
		}
		return nil, fmt.Errorf("failed to fetch drawdown doc: %w", err)
	}

	dd := types.DailyDrawdown{}
	for key, val := range doc.Data() {
		if drop, ok := val.(float64); ok {
			dd[key] = drop
		}
	}
	return dd, nil
}

// SetDailyDrawdown replaces the "risk/drawdown" document with the given map.
func (f *FirestoreProvider) SetDailyDrawdown(ctx context.Context, dd types.DailyDrawdown) error {
	data := make(map[string]interface{}, len(dd))
	for key, drop := range dd {
		data[key] = drop
	}
	if _, err := f.collection("risk").Doc("drawdown").Set(ctx, data); err != nil {
		return fmt.Errorf("failed to save drawdown ledger: %w", err)
	}
	return nil
}

// UpsertPlan stores the plan keyed by its date.
func (f *FirestoreProvider) UpsertPlan(ctx context.Context, plan types.DailySellingPlan) error {
	jsonBytes, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	docID := types.DrawdownDateKey(plan.PlanDate)
	_, err = f.collection("plans").Doc(docID).Set(ctx, map[string]interface{}{
		"json":     string(jsonBytes),
		"planDate": plan.PlanDate,
	})
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

// GetPlan retrieves the plan for the day containing date.
func (f *FirestoreProvider) GetPlan(ctx context.Context, date time.Time) (types.DailySellingPlan, error) {
	doc, err := f.collection("plans").Doc(types.DrawdownDateKey(date)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.DailySellingPlan{}, ErrNotFound
		}
		return types.DailySellingPlan{}, fmt.Errorf("failed to fetch plan doc: %w", err)
	}
	return unmarshalJSONField[types.DailySellingPlan](doc.Data())
}

// InsertCompletedSession adds a finished session to the "session_history"
// collection. The document ID is the RFC3339 start time for efficient range
// queries.
func (f *FirestoreProvider) InsertCompletedSession(ctx context.Context, session types.CompletedSession) error {
	jsonBytes, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	docID := session.StartTime.UTC().Format(time.RFC3339)
	_, err = f.collection("session_history").Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"sessionID": session.SessionID,
	})
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetCompletedSessions retrieves session records within the specified range.
// Uses document ID range queries for efficient filtering without reading all
// documents.
func (f *FirestoreProvider) GetCompletedSessions(ctx context.Context, start, end time.Time) ([]types.CompletedSession, error) {
	coll := f.collection("session_history")
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(start.UTC().Format(time.RFC3339))).
		Where(firestore.DocumentID, "<", coll.Doc(end.UTC().Format(time.RFC3339))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var sessions []types.CompletedSession
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate sessions: %w", err)
		}
		session, err := unmarshalJSONField[types.CompletedSession](doc.Data())
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// InsertOpportunity appends an emitted decision to the "decision_history"
// collection.
func (f *FirestoreProvider) InsertOpportunity(ctx context.Context, opp types.SellingOpportunity) error {
	jsonBytes, err := json.Marshal(opp)
	if err != nil {
		return fmt.Errorf("failed to marshal opportunity: %w", err)
	}
	docID := opp.Timestamp.UTC().Format(time.RFC3339Nano)
	_, err = f.collection("decision_history").Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": opp.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to insert opportunity: %w", err)
	}
	return nil
}

// UpsertConsumption stores one hour of measured consumption keyed by the
// hour start.
func (f *FirestoreProvider) UpsertConsumption(ctx context.Context, rec types.ConsumptionRecord) error {
	docID := rec.TSHourStart.UTC().Truncate(time.Hour).Format(time.RFC3339)
	_, err := f.collection("consumption").Doc(docID).Set(ctx, map[string]interface{}{
		"tsHourStart": rec.TSHourStart.UTC().Truncate(time.Hour),
		"homeKWH":     rec.HomeKWH,
	})
	if err != nil {
		return fmt.Errorf("failed to save consumption: %w", err)
	}
	return nil
}

// GetConsumptionHistory returns hourly consumption in [start, end).
func (f *FirestoreProvider) GetConsumptionHistory(ctx context.Context, start, end time.Time) ([]types.ConsumptionRecord, error) {
	coll := f.collection("consumption")
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(start.UTC().Format(time.RFC3339))).
		Where(firestore.DocumentID, "<", coll.Doc(end.UTC().Format(time.RFC3339))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var records []types.ConsumptionRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate consumption: %w", err)
		}
		var rec types.ConsumptionRecord
		if err := doc.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("failed to decode consumption doc: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// unmarshalJSONField decodes the "json" field convention used for documents
// stored as JSON strings.
func unmarshalJSONField[T any](data map[string]interface{}) (T, error) {
	var out T
	val, ok := data["json"]
	if !ok {
		return out, fmt.Errorf("document missing 'json' field")
	}
	jsonStr, ok := val.(string)
	if !ok {
		return out, fmt.Errorf("document 'json' field is not a string")
	}
	if err := json.Unmarshal([]byte(jsonStr), &out); err != nil {
		return out, fmt.Errorf("failed to unmarshal document json: %w", err)
	}
	return out, nil
}
