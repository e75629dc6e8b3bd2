package store

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Status of a staged queue item. There is no in-flight state: an item is
// read, attempted and immediately resolved. Success deletes the item,
// failure marks it and keeps it in place.
type Status string

const (
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// QueueItem is one buffered submission awaiting commit to the system of
// record. The payload is opaque to the queue except for the testId routing
// key.
type QueueItem struct {
	ID        int64                  `json:"id"`
	Payload   map[string]interface{} `json:"payload"`
	Status    Status                 `json:"status"`
	LastError *string                `json:"error,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// RoutingKey returns the testId carried by the payload, or "" when the
// payload does not carry one.
func (q QueueItem) RoutingKey() string {
	v, _ := q.Payload["testId"].(string)
	return v
}

// Test is the authoritative test document. Committed submissions live
// embedded in Responses.
type Test struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title     string             `bson:"title" json:"title"`
	Questions []Question         `bson:"questions" json:"questions"`
	Responses []SubmissionRecord `bson:"responses" json:"responses,omitempty"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

type Question struct {
	ID       string   `bson:"id" json:"id"`
	Type     string   `bson:"type" json:"type"`
	Prompt   string   `bson:"prompt" json:"prompt"`
	Options  []string `bson:"options,omitempty" json:"options,omitempty"`
	Required bool     `bson:"required" json:"required"`
}

// SubmissionRecord is the durable form of a submission once the drain worker
// commits it. Created only by the drain worker, never by the intake path.
type SubmissionRecord struct {
	ID          primitive.ObjectID     `bson:"_id" json:"id"`
	Answers     []interface{}          `bson:"answers" json:"answers"`
	Fields      map[string]interface{} `bson:"fields,omitempty" json:"fields,omitempty"`
	SubmittedAt time.Time              `bson:"submittedAt" json:"submittedAt"`
}
