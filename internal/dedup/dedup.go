package dedup

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/3112shubham/test-hub-sub000/internal/log"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "testhub:dedup:"

// Deduper maps client idempotency keys to previously assigned queue ids so
// an intake retry replays the original id instead of staging a duplicate.
// Best effort: Redis being down degrades to no dedup, never to a failed
// intake.
type Deduper struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

func NewDeduper(client *redis.Client, ttl time.Duration, logger *log.Logger) *Deduper {
	return &Deduper{client: client, ttl: ttl, logger: logger}
}

func (d *Deduper) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

// Lookup returns the queue id previously remembered for key, if any.
func (d *Deduper) Lookup(ctx context.Context, key string) (int64, bool) {
	val, err := d.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false
	}
	if err != nil {
		d.logger.Warn("Dedup lookup failed, proceeding without dedup", zap.Error(err))
		return 0, false
	}
	itemID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return itemID, true
}

// Remember associates key with the assigned queue id for the dedup TTL.
func (d *Deduper) Remember(ctx context.Context, key string, itemID int64) {
	err := d.client.Set(ctx, keyPrefix+key, strconv.FormatInt(itemID, 10), d.ttl).Err()
	if err != nil {
		d.logger.Warn("Failed to remember dedup key", zap.Error(err), zap.String("key", key))
	}
}
