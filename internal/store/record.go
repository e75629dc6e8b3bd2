package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/3112shubham/test-hub-sub000/internal/log"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// ErrTestNotFound is returned when a test id matches no document.
var ErrTestNotFound = errors.New("test not found")

const testsCollection = "tests"

// RecordStore is the system of record: the authoritative Mongo store where
// committed submissions live, embedded in their owning test document. The
// client is a single shared handle, connected lazily on first use.
type RecordStore struct {
	uri      string
	database string
	logger   *log.Logger

	once    sync.Once
	client  *mongo.Client
	connErr error
}

func NewRecordStore(uri, database string, logger *log.Logger) *RecordStore {
	return &RecordStore{uri: uri, database: database, logger: logger}
}

func (r *RecordStore) connect(ctx context.Context) (*mongo.Client, error) {
	r.once.Do(func() {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(r.uri))
		if err != nil {
			r.connErr = fmt.Errorf("connect mongo: %w", err)
			return
		}
		r.client = client
	})
	return r.client, r.connErr
}

func (r *RecordStore) tests(ctx context.Context) (*mongo.Collection, error) {
	client, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	return client.Database(r.database).Collection(testsCollection), nil
}

func (r *RecordStore) Ping(ctx context.Context) error {
	client, err := r.connect(ctx)
	if err != nil {
		return err
	}
	return client.Ping(ctx, nil)
}

func (r *RecordStore) Close(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Disconnect(ctx)
}

// AddSubmission appends a payload to the identified test's response
// collection and returns the created record. Fails when the test does not
// exist or the write fails; the append is atomic from the caller's side.
func (r *RecordStore) AddSubmission(ctx context.Context, testID string, payload map[string]interface{}) (SubmissionRecord, error) {
	coll, err := r.tests(ctx)
	if err != nil {
		return SubmissionRecord{}, err
	}
	oid, err := primitive.ObjectIDFromHex(testID)
	if err != nil {
		return SubmissionRecord{}, fmt.Errorf("invalid test id %q", testID)
	}

	rec := newSubmissionRecord(payload)
	res, err := coll.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$push": bson.M{"responses": rec}},
	)
	if err != nil {
		r.logger.Error("Failed to append submission", zap.Error(err), zap.String("testId", testID))
		return SubmissionRecord{}, fmt.Errorf("append submission: %w", err)
	}
	if res.MatchedCount == 0 {
		return SubmissionRecord{}, ErrTestNotFound
	}
	return rec, nil
}

// newSubmissionRecord shapes an opaque queue payload into a durable record:
// answer bundles from responsesArray (or the older response field), every
// other payload field carried through untouched.
func newSubmissionRecord(payload map[string]interface{}) SubmissionRecord {
	rec := SubmissionRecord{
		ID:          primitive.NewObjectID(),
		SubmittedAt: time.Now(),
	}
	answers, ok := payload["responsesArray"].([]interface{})
	if !ok {
		answers, _ = payload["response"].([]interface{})
	}
	rec.Answers = answers

	for k, v := range payload {
		switch k {
		case "testId", "responsesArray", "response":
			continue
		}
		if rec.Fields == nil {
			rec.Fields = make(map[string]interface{})
		}
		rec.Fields[k] = v
	}
	return rec
}

func (r *RecordStore) CreateTest(ctx context.Context, t Test) (string, error) {
	coll, err := r.tests(ctx)
	if err != nil {
		return "", err
	}
	if t.ID.IsZero() {
		t.ID = primitive.NewObjectID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Responses == nil {
		t.Responses = []SubmissionRecord{}
	}
	if _, err := coll.InsertOne(ctx, t); err != nil {
		r.logger.Error("Failed to create test", zap.Error(err))
		return "", fmt.Errorf("create test: %w", err)
	}
	return t.ID.Hex(), nil
}

// GetTest fetches a test without its responses, the shape the test runner
// needs.
func (r *RecordStore) GetTest(ctx context.Context, testID string) (Test, error) {
	coll, err := r.tests(ctx)
	if err != nil {
		return Test{}, err
	}
	oid, err := primitive.ObjectIDFromHex(testID)
	if err != nil {
		return Test{}, ErrTestNotFound
	}
	var t Test
	err = coll.FindOne(ctx, bson.M{"_id": oid},
		options.FindOne().SetProjection(bson.M{"responses": 0}),
	).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Test{}, ErrTestNotFound
	}
	if err != nil {
		return Test{}, fmt.Errorf("get test: %w", err)
	}
	return t, nil
}

// ListResponses returns the committed submissions of a test.
func (r *RecordStore) ListResponses(ctx context.Context, testID string) ([]SubmissionRecord, error) {
	coll, err := r.tests(ctx)
	if err != nil {
		return nil, err
	}
	oid, err := primitive.ObjectIDFromHex(testID)
	if err != nil {
		return nil, ErrTestNotFound
	}
	var t Test
	err = coll.FindOne(ctx, bson.M{"_id": oid},
		options.FindOne().SetProjection(bson.M{"responses": 1}),
	).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrTestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	if t.Responses == nil {
		t.Responses = []SubmissionRecord{}
	}
	return t.Responses, nil
}
