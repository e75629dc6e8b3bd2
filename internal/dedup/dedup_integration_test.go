//go:build integration
// +build integration

package dedup

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/3112shubham/test-hub-sub000/internal/log"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func setupTestRedis(ctx context.Context) (string, func(), error) {
	if addr := os.Getenv("TEST_REDIS_ADDR"); addr != "" {
		return addr, func() {}, nil
	}
	redisContainer, err := tcRedis.RunContainer(ctx, testcontainers.WithImage("redis:7"))
	if err != nil {
		return "", nil, fmt.Errorf("failed to start redis container: %w", err)
	}
	redisAddr, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		return "", nil, fmt.Errorf("failed to get redis endpoint: %w", err)
	}
	cleanup := func() {
		redisContainer.Terminate(ctx)
	}
	return redisAddr, cleanup, nil
}

func TestDeduperIntegration(t *testing.T) {
	ctx := context.Background()

	redisAddr, cleanupRedis, err := setupTestRedis(ctx)
	if err != nil {
		t.Fatalf("setup redis failed: %s", err)
	}
	defer cleanupRedis()

	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer client.Close()

	d := NewDeduper(client, time.Minute, log.NewLogger())
	if err := d.Ping(ctx); err != nil {
		t.Fatalf("ping: %s", err)
	}

	if _, ok := d.Lookup(ctx, "abc"); ok {
		t.Fatal("unexpected hit for unknown key")
	}

	d.Remember(ctx, "abc", 42)
	itemID, ok := d.Lookup(ctx, "abc")
	if !ok || itemID != 42 {
		t.Fatalf("expected hit with id 42, got %d (hit=%v)", itemID, ok)
	}
}
