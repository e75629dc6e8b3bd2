package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/3112shubham/test-hub-sub000/internal/config"
	"github.com/3112shubham/test-hub-sub000/internal/dedup"
	"github.com/3112shubham/test-hub-sub000/internal/drain"
	"github.com/3112shubham/test-hub-sub000/internal/journal"
	"github.com/3112shubham/test-hub-sub000/internal/log"
	"github.com/3112shubham/test-hub-sub000/internal/metrics"
	"github.com/3112shubham/test-hub-sub000/internal/server"
	"github.com/3112shubham/test-hub-sub000/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	logger := log.NewLogger()
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	staging, err := store.NewStagingStore(cfg.DatabaseURL, cfg.NodeID, logger)
	if err != nil {
		logger.Fatal("Failed to initialize staging store", zap.Error(err))
	}
	defer staging.Close()
	if err := staging.Ping(context.Background()); err != nil {
		logger.Fatal("Failed to connect to staging store", zap.Error(err))
	}

	records := store.NewRecordStore(cfg.MongoURI, cfg.MongoDatabase, logger)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	err = records.Ping(pingCtx)
	cancelPing()
	if err != nil {
		logger.Fatal("Failed to connect to record store", zap.Error(err))
	}
	defer records.Close(context.Background())

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	deduper := dedup.NewDeduper(redisClient, cfg.DedupTTL, logger)

	jnl, err := journal.New(cfg.JournalDir)
	if err != nil {
		logger.Fatal("Failed to initialize drain journal", zap.Error(err))
	}
	defer jnl.Close()

	pipelineMetrics := metrics.NewPipelineMetrics(staging, records, deduper, logger)
	drainer := drain.NewDrainer(staging, records, cfg.DrainBatchSize, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go pipelineMetrics.Run(ctx)

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := jnl.Cleanup(cfg.JournalRetention); err != nil {
					logger.Error("Failed to clean journal", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Drain is normally triggered by an external scheduler hitting
	// /api/drain. DRAIN_INTERVAL opts into a built-in ticker instead.
	if cfg.DrainInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.DrainInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					report, err := drainer.Drain(ctx)
					if err != nil {
						logger.Error("Scheduled drain failed", zap.Error(err))
						continue
					}
					pipelineMetrics.ObserveReport(report)
					if err := jnl.Append(report); err != nil {
						logger.Error("Failed to journal drain report", zap.Error(err))
					}
					logger.Info("Scheduled drain complete", zap.Int("processed", report.Processed))
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	r := chi.NewRouter()
	server.SetupRouter(r, cfg, staging, records, drainer, deduper, jnl, pipelineMetrics, staging, records, deduper)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	certFile := os.Getenv("TLS_CERT_FILE")
	keyFile := os.Getenv("TLS_KEY_FILE")
	var tlsConfig *tls.Config
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			logger.Fatal("Failed to load TLS certificates", zap.Error(err))
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	} else {
		logger.Warn("TLS_CERT_FILE or TLS_KEY_FILE not set, using HTTP")
	}

	go func() {
		if tlsConfig != nil {
			srv.TLSConfig = tlsConfig
			logger.Info("Server starting with TLS", zap.String("addr", cfg.HTTPAddr))
			if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				logger.Fatal("Server failed", zap.Error(err))
			}
		} else {
			logger.Info("Server starting without TLS", zap.String("addr", cfg.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("Server failed", zap.Error(err))
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
}
