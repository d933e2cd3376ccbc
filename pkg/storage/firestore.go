package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/peakshift/peakshift/pkg/log"
	"github.com/peakshift/peakshift/pkg/types"
)

const (
	usersCollection     = "users"
	eventsCollection    = "schedule_events"
	historyCollection   = "execution_history"
	auditCollection     = "audit_events"
	firestoreInOperands = 30
)

// FirestoreProvider implements the Database interface using Google Cloud Firestore.
// Every user is a document under "users" and owns sub-collections for its
// schedule events, execution history and audit events. Each record is stored
// as a JSON blob next to the few fields that queries filter on.
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
	// an empty project id is detected from the environment
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

func (f *FirestoreProvider) userCollection(userID, name string) (*firestore.CollectionRef, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID cannot be empty")
	}
	return f.client.Collection(usersCollection).Doc(userID).Collection(name), nil
}

// decodeJSON reads the "json" field of doc into v.
func decodeJSON(ctx context.Context, doc *firestore.DocumentSnapshot, v any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("path", doc.Ref.Path), slog.Any("error", err))
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("path", doc.Ref.Path))
		return fmt.Errorf("document %s 'json' field is not a string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal doc json", slog.String("path", doc.Ref.Path), slog.Any("error", err))
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}

func collectDocs[T any](ctx context.Context, iter *firestore.DocumentIterator) ([]T, error) {
	defer iter.Stop()
	var out []T
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating documents: %w", err)
		}
		var v T
		if err := decodeJSON(ctx, doc, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ListScheduleEvents returns every event owned by the user.
func (f *FirestoreProvider) ListScheduleEvents(ctx context.Context, userID string) ([]types.ScheduleEvent, error) {
	coll, err := f.userCollection(userID, eventsCollection)
	if err != nil {
		return nil, err
	}
	events, err := collectDocs[types.ScheduleEvent](ctx, coll.Documents(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule events for user %s: %w", userID, err)
	}
	return events, nil
}

// ListEnabledScheduleEvents returns enabled events across all users.
func (f *FirestoreProvider) ListEnabledScheduleEvents(ctx context.Context) ([]types.ScheduleEvent, error) {
	iter := f.client.CollectionGroup(eventsCollection).Where("enabled", "==", true).Documents(ctx)
	events, err := collectDocs[types.ScheduleEvent](ctx, iter)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled schedule events: %w", err)
	}
	return events, nil
}

// GetScheduleGroup returns every event sharing groupID.
func (f *FirestoreProvider) GetScheduleGroup(ctx context.Context, groupID string) ([]types.ScheduleEvent, error) {
	iter := f.client.CollectionGroup(eventsCollection).Where("groupID", "==", groupID).Documents(ctx)
	events, err := collectDocs[types.ScheduleEvent](ctx, iter)
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule group %s: %w", groupID, err)
	}
	return events, nil
}

// ListUsers returns every user.
func (f *FirestoreProvider) ListUsers(ctx context.Context) ([]types.User, error) {
	iter := f.client.Collection(usersCollection).Documents(ctx)
	defer iter.Stop()

	var users []types.User
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating users: %w", err)
		}
		var u types.User
		if err := decodeJSON(ctx, doc, &u); err != nil {
			// skip malformed documents
			continue
		}
		users = append(users, u)
	}
	return users, nil
}

// GetUser retrieves a user from the "users" collection.
func (f *FirestoreProvider) GetUser(ctx context.Context, userID string) (types.User, error) {
	doc, err := f.client.Collection(usersCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return types.User{}, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	var user types.User
	if err := decodeJSON(ctx, doc, &user); err != nil {
		return types.User{}, fmt.Errorf("failed to read user %s: %w", userID, err)
	}
	return user, nil
}

// CreateUser creates a new user document in the "users" collection.
func (f *FirestoreProvider) CreateUser(ctx context.Context, user types.User) error {
	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user %s: %w", user.ID, err)
	}
	_, err = f.client.Collection(usersCollection).Doc(user.ID).Create(ctx, map[string]interface{}{
		"json": string(userJSON),
	})
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", user.ID, err)
	}
	return nil
}

// QueryExecutionHistory returns a page of the user's history, newest first.
func (f *FirestoreProvider) QueryExecutionHistory(ctx context.Context, userID string, statuses []types.ExecutionStatus, page types.PageRequest) (types.Page[types.ExecutionHistory], error) {
	page = page.Normalize()
	coll, err := f.userCollection(userID, historyCollection)
	if err != nil {
		return types.Page[types.ExecutionHistory]{}, err
	}
	q := coll.Query
	if len(statuses) > 0 {
		if len(statuses) > firestoreInOperands {
			return types.Page[types.ExecutionHistory]{}, fmt.Errorf("too many status filters: %d", len(statuses))
		}
		q = q.Where("status", "in", statusStrings(statuses))
	}
	iter := q.OrderBy("timestamp", firestore.Desc).Offset(page.Offset()).Limit(page.Size + 1).Documents(ctx)
	rows, err := collectDocs[types.ExecutionHistory](ctx, iter)
	if err != nil {
		return types.Page[types.ExecutionHistory]{}, fmt.Errorf("failed to query execution history for user %s: %w", userID, err)
	}
	return trimPage(rows, page), nil
}

// QueryAuditEvents returns a page of the user's audit trail, newest first.
func (f *FirestoreProvider) QueryAuditEvents(ctx context.Context, userID string, actions []types.AuditAction, page types.PageRequest) (types.Page[types.AuditEvent], error) {
	page = page.Normalize()
	coll, err := f.userCollection(userID, auditCollection)
	if err != nil {
		return types.Page[types.AuditEvent]{}, err
	}
	q := coll.Query
	if len(actions) > 0 {
		if len(actions) > firestoreInOperands {
			return types.Page[types.AuditEvent]{}, fmt.Errorf("too many action filters: %d", len(actions))
		}
		q = q.Where("action", "in", actionStrings(actions))
	}
	iter := q.OrderBy("timestamp", firestore.Desc).Offset(page.Offset()).Limit(page.Size + 1).Documents(ctx)
	rows, err := collectDocs[types.AuditEvent](ctx, iter)
	if err != nil {
		return types.Page[types.AuditEvent]{}, fmt.Errorf("failed to query audit events for user %s: %w", userID, err)
	}
	return trimPage(rows, page), nil
}

// Commit writes the batch inside a single Firestore transaction.
func (f *FirestoreProvider) Commit(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}

	type write struct {
		ref  *firestore.DocumentRef
		data map[string]interface{}
	}
	var (
		sets    []write
		deletes []*firestore.DocumentRef
	)

	for _, e := range b.PutEvents {
		coll, err := f.userCollection(e.UserID, eventsCollection)
		if err != nil {
			return err
		}
		js, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal schedule event %s: %w", e.ID, err)
		}
		sets = append(sets, write{coll.Doc(e.ID), map[string]interface{}{
			"json":    string(js),
			"groupID": e.GroupID,
			"userID":  e.UserID,
			"enabled": e.Enabled,
		}})
	}
	for _, e := range b.DeleteEvents {
		coll, err := f.userCollection(e.UserID, eventsCollection)
		if err != nil {
			return err
		}
		deletes = append(deletes, coll.Doc(e.ID))
	}
	for _, h := range b.History {
		coll, err := f.userCollection(h.UserID, historyCollection)
		if err != nil {
			return err
		}
		js, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("failed to marshal execution history %s: %w", h.ID, err)
		}
		sets = append(sets, write{coll.Doc(h.ID), map[string]interface{}{
			"json":      string(js),
			"status":    string(h.Status),
			"timestamp": h.ExecutionTime,
		}})
	}
	for _, a := range b.Audit {
		coll, err := f.userCollection(a.UserID, auditCollection)
		if err != nil {
			return err
		}
		js, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal audit event %s: %w", a.ID, err)
		}
		sets = append(sets, write{coll.Doc(a.ID), map[string]interface{}{
			"json":      string(js),
			"action":    string(a.Action),
			"timestamp": a.Timestamp,
		}})
	}
	for _, u := range b.Users {
		js, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("failed to marshal user %s: %w", u.ID, err)
		}
		sets = append(sets, write{f.client.Collection(usersCollection).Doc(u.ID), map[string]interface{}{
			"json": string(js),
		}})
	}

	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, w := range sets {
			if err := tx.Set(w.ref, w.data); err != nil {
				return err
			}
		}
		for _, ref := range deletes {
			if err := tx.Delete(ref); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}
