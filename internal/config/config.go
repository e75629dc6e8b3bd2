package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/3112shubham/test-hub-sub000/internal/log"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	DatabaseURL      string
	MongoURI         string
	MongoDatabase    string
	RedisAddr        string
	RedisPassword    string
	JWTSecret        string
	HTTPAddr         string
	JournalDir       string
	JournalRetention time.Duration
	DrainBatchSize   int
	DrainInterval    time.Duration
	DedupTTL         time.Duration
	NodeID           int64
}

func Load() (*Config, error) {
	logger := log.NewLogger()

	// .env is optional as long as the variables are set elsewhere.
	if err := godotenv.Load(); err != nil {
		logger.Warn("Failed to load .env file", zap.Error(err))
	}

	cfg := &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDatabase:    os.Getenv("MONGO_DB"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		HTTPAddr:         os.Getenv("HTTP_ADDR"),
		JournalDir:       os.Getenv("JOURNAL_DIR"),
		JournalRetention: 7 * 24 * time.Hour,
		DrainBatchSize:   100,
		DrainInterval:    0,
		DedupTTL:         24 * time.Hour,
		NodeID:           0,
	}

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.MongoURI == "" {
		logger.Error("MONGO_URI is required")
		return nil, fmt.Errorf("MONGO_URI is required")
	}
	if cfg.RedisAddr == "" {
		logger.Error("REDIS_ADDR is required")
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required")
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.MongoDatabase == "" {
		cfg.MongoDatabase = "testhub"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.JournalDir == "" {
		cfg.JournalDir = "journal"
	}

	if v := os.Getenv("DRAIN_BATCH_SIZE"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size <= 0 {
			logger.Error("Invalid DRAIN_BATCH_SIZE", zap.String("value", v))
			return nil, fmt.Errorf("invalid DRAIN_BATCH_SIZE: %s", v)
		}
		cfg.DrainBatchSize = size
	}
	if v := os.Getenv("DRAIN_INTERVAL"); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil {
			logger.Error("Invalid DRAIN_INTERVAL", zap.String("value", v))
			return nil, fmt.Errorf("invalid DRAIN_INTERVAL: %s", v)
		}
		cfg.DrainInterval = interval
	}
	if v := os.Getenv("DEDUP_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			logger.Error("Invalid DEDUP_TTL", zap.String("value", v))
			return nil, fmt.Errorf("invalid DEDUP_TTL: %s", v)
		}
		cfg.DedupTTL = ttl
	}
	if v := os.Getenv("JOURNAL_RETENTION"); v != "" {
		retention, err := time.ParseDuration(v)
		if err != nil {
			logger.Error("Invalid JOURNAL_RETENTION", zap.String("value", v))
			return nil, fmt.Errorf("invalid JOURNAL_RETENTION: %s", v)
		}
		cfg.JournalRetention = retention
	}
	if v := os.Getenv("NODE_ID"); v != "" {
		nodeID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			logger.Error("Invalid NODE_ID", zap.String("value", v))
			return nil, fmt.Errorf("invalid NODE_ID: %s", v)
		}
		cfg.NodeID = nodeID
	}

	logger.Info("Config loaded successfully")
	return cfg, nil
}
