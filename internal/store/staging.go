package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/3112shubham/test-hub-sub000/internal/id"
	"github.com/3112shubham/test-hub-sub000/internal/log"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrNotRequeueable is returned by Requeue when the item does not exist or
// is not in the failed state.
var ErrNotRequeueable = errors.New("item not found or not failed")

const stagingSchema = `
CREATE TABLE IF NOT EXISTS submission_queue (
    id         BIGINT PRIMARY KEY,
    payload    JSONB NOT NULL,
    status     TEXT NOT NULL DEFAULT 'pending',
    last_error TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS submission_queue_status_idx
    ON submission_queue (status, created_at);
`

// StagingStore is the durable staging queue: the buffer between "accepted
// from the client" and "committed to the system of record". Strictly a
// retry buffer, not an audit log; committed items are deleted.
type StagingStore struct {
	db     *sql.DB
	node   *id.Node
	logger *log.Logger
}

func NewStagingStore(databaseURL string, nodeID int64, logger *log.Logger) (*StagingStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)

	node, err := id.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("init id node: %w", err)
	}

	s := &StagingStore{db: db, node: node, logger: logger}
	if _, err := db.Exec(stagingSchema); err != nil {
		return nil, fmt.Errorf("ensure staging schema: %w", err)
	}
	return s, nil
}

func (s *StagingStore) DB() *sql.DB {
	return s.db
}

func (s *StagingStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *StagingStore) Close() error {
	return s.db.Close()
}

// Append stages a payload as a new pending item and returns the assigned id.
// The payload is stored as received; nothing beyond JSON-object shape is
// assumed about it.
func (s *StagingStore) Append(ctx context.Context, payload map[string]interface{}) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	itemID := s.node.Generate()
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO submission_queue (id, payload, status)
        VALUES ($1, $2, $3)
    `, itemID, data, StatusPending)
	if err != nil {
		s.logger.Error("Failed to append queue item", zap.Error(err))
		return 0, fmt.Errorf("append queue item: %w", err)
	}
	return itemID, nil
}

// ReadPendingBatch returns up to limit pending items in insertion order.
// Failed items are never part of the read set.
func (s *StagingStore) ReadPendingBatch(ctx context.Context, limit int) ([]QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, payload, status, last_error, created_at
        FROM submission_queue
        WHERE status = $1
        ORDER BY created_at, id
        LIMIT $2
    `, StatusPending, limit)
	if err != nil {
		s.logger.Error("Failed to read pending batch", zap.Error(err))
		return nil, fmt.Errorf("read pending batch: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// MarkFailed records the last failure on an item. Idempotent; marking an
// already-failed or missing item is not an error.
func (s *StagingStore) MarkFailed(ctx context.Context, itemID int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE submission_queue SET status = $1, last_error = $2 WHERE id = $3
    `, StatusFailed, reason, itemID)
	if err != nil {
		s.logger.Error("Failed to mark item failed", zap.Error(err), zap.Int64("id", itemID))
		return fmt.Errorf("mark item failed: %w", err)
	}
	return nil
}

// Remove deletes an item. Idempotent; deleting an already-removed item is
// not an error.
func (s *StagingStore) Remove(ctx context.Context, itemID int64) error {
	_, err := s.db.ExecContext(ctx, `
        DELETE FROM submission_queue WHERE id = $1
    `, itemID)
	if err != nil {
		s.logger.Error("Failed to remove item", zap.Error(err), zap.Int64("id", itemID))
		return fmt.Errorf("remove item: %w", err)
	}
	return nil
}

// Requeue is the explicit remediation path for failed items: it flips
// failed back to pending and clears the recorded error. Failed items are
// never folded back into pending reads implicitly.
func (s *StagingStore) Requeue(ctx context.Context, itemID int64) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE submission_queue SET status = $1, last_error = NULL
        WHERE id = $2 AND status = $3
    `, StatusPending, itemID, StatusFailed)
	if err != nil {
		s.logger.Error("Failed to requeue item", zap.Error(err), zap.Int64("id", itemID))
		return fmt.Errorf("requeue item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("requeue item: %w", err)
	}
	if affected == 0 {
		return ErrNotRequeueable
	}
	return nil
}

func (s *StagingStore) GetItem(ctx context.Context, itemID int64) (QueueItem, error) {
	var item QueueItem
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
        SELECT id, payload, status, last_error, created_at
        FROM submission_queue WHERE id = $1
    `, itemID).Scan(&item.ID, &payload, &item.Status, &item.LastError, &item.CreatedAt)
	if err != nil {
		return QueueItem{}, fmt.Errorf("get item: %w", err)
	}
	if err := json.Unmarshal(payload, &item.Payload); err != nil {
		return QueueItem{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	return item, nil
}

// ListByStatus is the inspection surface for the remediation endpoints.
func (s *StagingStore) ListByStatus(ctx context.Context, status Status, limit int) ([]QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, payload, status, last_error, created_at
        FROM submission_queue
        WHERE status = $1
        ORDER BY created_at, id
        LIMIT $2
    `, status, limit)
	if err != nil {
		s.logger.Error("Failed to list items", zap.Error(err), zap.String("status", string(status)))
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func (s *StagingStore) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT status, COUNT(*) FROM submission_queue GROUP BY status
    `)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int64)
	for rows.Next() {
		var status Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func scanItems(rows *sql.Rows) ([]QueueItem, error) {
	var items []QueueItem
	for rows.Next() {
		var item QueueItem
		var payload []byte
		err := rows.Scan(&item.ID, &payload, &item.Status, &item.LastError, &item.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if err := json.Unmarshal(payload, &item.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
