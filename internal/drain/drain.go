package drain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/3112shubham/test-hub-sub000/internal/log"
	"github.com/3112shubham/test-hub-sub000/internal/store"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Outcome statuses reported per item.
const (
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

const reasonMissingTestID = "missing testId"

// StagingQueue is the slice of the staging store the drainer needs.
type StagingQueue interface {
	ReadPendingBatch(ctx context.Context, limit int) ([]store.QueueItem, error)
	MarkFailed(ctx context.Context, itemID int64, reason string) error
	Remove(ctx context.Context, itemID int64) error
}

// RecordStore commits a payload into the system of record. The commit is
// atomic from the drainer's perspective.
type RecordStore interface {
	AddSubmission(ctx context.Context, testID string, payload map[string]interface{}) (store.SubmissionRecord, error)
}

type Outcome struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Report is one invocation's result: every attempted item gets exactly one
// outcome.
type Report struct {
	Processed int       `json:"processed"`
	Details   []Outcome `json:"details"`
}

// Drainer commits pending queue items into the system of record. Stateless
// and externally triggered: each invocation handles one bounded batch,
// sequentially, and exits. It holds no lease on items, so overlapping
// invocations may double-commit; the record append tolerates duplicates.
type Drainer struct {
	staging   StagingQueue
	records   RecordStore
	batchSize int
	logger    *log.Logger
	cb        *gobreaker.CircuitBreaker
}

func NewDrainer(staging StagingQueue, records RecordStore, batchSize int, logger *log.Logger) *Drainer {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "record-commit",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	})
	return &Drainer{
		staging:   staging,
		records:   records,
		batchSize: batchSize,
		logger:    logger,
		cb:        cb,
	}
}

// Drain runs one pass: read up to the batch size of pending items, then per
// item check the routing key, commit, and resolve. A failure on one item
// never aborts the batch; only a failure reading the batch itself fails the
// invocation. When the circuit breaker opens mid-batch the remaining items
// are left pending for the next pass rather than marked failed.
func (d *Drainer) Drain(ctx context.Context) (Report, error) {
	items, err := d.staging.ReadPendingBatch(ctx, d.batchSize)
	if err != nil {
		return Report{}, fmt.Errorf("read pending batch: %w", err)
	}

	report := Report{Details: make([]Outcome, 0, len(items))}
	for _, item := range items {
		testID := item.RoutingKey()
		if testID == "" {
			// Terminal for this item; no commit attempt is made.
			if err := d.staging.MarkFailed(ctx, item.ID, reasonMissingTestID); err != nil {
				d.logger.Error("Failed to mark item failed", zap.Error(err), zap.Int64("id", item.ID))
			}
			report.Details = append(report.Details, Outcome{ID: item.ID, Status: StatusFailed, Reason: reasonMissingTestID})
			continue
		}

		_, err := d.cb.Execute(func() (interface{}, error) {
			return d.records.AddSubmission(ctx, testID, item.Payload)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				d.logger.Warn("Record store circuit open, stopping batch",
					zap.Int64("id", item.ID), zap.Int("attempted", len(report.Details)))
				break
			}
			if markErr := d.staging.MarkFailed(ctx, item.ID, err.Error()); markErr != nil {
				d.logger.Error("Failed to mark item failed", zap.Error(markErr), zap.Int64("id", item.ID))
			}
			report.Details = append(report.Details, Outcome{ID: item.ID, Status: StatusFailed, Reason: err.Error()})
			continue
		}

		if err := d.staging.Remove(ctx, item.ID); err != nil {
			// The commit stands; a leftover pending item means the next
			// pass may commit it again.
			d.logger.Error("Failed to remove committed item", zap.Error(err), zap.Int64("id", item.ID))
		}
		report.Details = append(report.Details, Outcome{ID: item.ID, Status: StatusProcessed})
	}

	report.Processed = len(report.Details)
	return report, nil
}
