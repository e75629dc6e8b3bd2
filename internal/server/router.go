package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/3112shubham/test-hub-sub000/internal/config"
	"github.com/3112shubham/test-hub-sub000/internal/drain"
	"github.com/3112shubham/test-hub-sub000/internal/journal"
	"github.com/3112shubham/test-hub-sub000/internal/log"
	"github.com/3112shubham/test-hub-sub000/internal/metrics"
	"github.com/3112shubham/test-hub-sub000/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

// StagingQueue is the slice of the staging store the HTTP surface needs.
type StagingQueue interface {
	Append(ctx context.Context, payload map[string]interface{}) (int64, error)
	GetItem(ctx context.Context, itemID int64) (store.QueueItem, error)
	ListByStatus(ctx context.Context, status store.Status, limit int) ([]store.QueueItem, error)
	Requeue(ctx context.Context, itemID int64) error
}

// RecordStore is the authoring/export slice of the system of record.
type RecordStore interface {
	CreateTest(ctx context.Context, t store.Test) (string, error)
	GetTest(ctx context.Context, testID string) (store.Test, error)
	ListResponses(ctx context.Context, testID string) ([]store.SubmissionRecord, error)
}

type Drainer interface {
	Drain(ctx context.Context) (drain.Report, error)
}

// Deduper replays a previously assigned queue id for a client idempotency
// key. Best effort.
type Deduper interface {
	Lookup(ctx context.Context, key string) (int64, bool)
	Remember(ctx context.Context, key string, itemID int64)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

func SetupRouter(r *chi.Mux, cfg *config.Config, staging StagingQueue, records RecordStore, drainer Drainer, deduper Deduper, jnl *journal.Journal, m *metrics.PipelineMetrics, pingers ...Pinger) {
	logger := log.NewLogger()
	r.Use(httprate.Limit(300, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		for _, p := range pingers {
			if err := p.Ping(r.Context()); err != nil {
				logger.Error("Health check failed", zap.Error(err))
				http.Error(w, "Store unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.Write([]byte("OK"))
	})

	// Intake: accept a submission and stage it. The client sees success as
	// soon as the item is staged; the system of record is never on this
	// path. Minimal validation only: the body must be a JSON object.
	r.Post("/api/submissions", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload == nil {
			logger.Error("Failed to decode submission body", zap.Error(err))
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		idempotencyKey := r.Header.Get("Idempotency-Key")
		if idempotencyKey != "" && deduper != nil {
			if itemID, ok := deduper.Lookup(r.Context(), idempotencyKey); ok {
				if m != nil {
					m.DedupHitsTotal.Inc()
				}
				logger.Info("Replayed staged submission", zap.Int64("id", itemID), zap.String("idempotency_key", idempotencyKey))
				writeJSON(w, map[string]int64{"insertedId": itemID})
				return
			}
		}

		start := time.Now()
		itemID, err := staging.Append(r.Context(), payload)
		if err != nil {
			logger.Error("Failed to stage submission", zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if idempotencyKey != "" && deduper != nil {
			deduper.Remember(r.Context(), idempotencyKey, itemID)
		}
		if m != nil {
			m.StagedTotal.Inc()
		}
		logger.Info("Staged submission", zap.Int64("id", itemID), zap.Duration("duration", time.Since(start)))
		writeJSON(w, map[string]int64{"insertedId": itemID})
	})

	// Test runner fetch; responses excluded.
	r.Get("/api/tests/{id}", func(w http.ResponseWriter, r *http.Request) {
		t, err := records.GetTest(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, store.ErrTestNotFound) {
			writeError(w, http.StatusNotFound, "test not found")
			return
		}
		if err != nil {
			logger.Error("Failed to get test", zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, t)
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(cfg.JWTSecret, logger))

		// Drain trigger, invoked by an external scheduler. One bounded
		// batch per call.
		r.Post("/api/drain", func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			report, err := drainer.Drain(r.Context())
			if err != nil {
				logger.Error("Drain invocation failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if m != nil {
				m.ObserveReport(report)
			}
			if jnl != nil {
				if err := jnl.Append(report); err != nil {
					logger.Error("Failed to journal drain report", zap.Error(err))
				}
			}
			logger.Info("Drain pass complete", zap.Int("processed", report.Processed), zap.Duration("duration", time.Since(start)))
			writeJSON(w, report)
		})

		r.Get("/api/queue", func(w http.ResponseWriter, r *http.Request) {
			status := store.Status(r.URL.Query().Get("status"))
			if status == "" {
				status = store.StatusFailed
			}
			if status != store.StatusPending && status != store.StatusFailed {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			if limit <= 0 {
				limit = 50
			}
			items, err := staging.ListByStatus(r.Context(), status, limit)
			if err != nil {
				logger.Error("Failed to list queue items", zap.Error(err))
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if items == nil {
				items = []store.QueueItem{}
			}
			writeJSON(w, items)
		})

		r.Get("/api/queue/{id}", func(w http.ResponseWriter, r *http.Request) {
			itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid item id")
				return
			}
			item, err := staging.GetItem(r.Context(), itemID)
			if err != nil {
				writeError(w, http.StatusNotFound, "item not found")
				return
			}
			writeJSON(w, item)
		})

		// Explicit remediation: failed -> pending. Never automatic.
		r.Post("/api/queue/{id}/requeue", func(w http.ResponseWriter, r *http.Request) {
			itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid item id")
				return
			}
			if err := staging.Requeue(r.Context(), itemID); err != nil {
				if errors.Is(err, store.ErrNotRequeueable) {
					writeError(w, http.StatusNotFound, err.Error())
					return
				}
				logger.Error("Failed to requeue item", zap.Error(err), zap.Int64("id", itemID))
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			logger.Info("Requeued item", zap.Int64("id", itemID))
			w.Write([]byte("OK"))
		})

		r.Post("/api/tests", func(w http.ResponseWriter, r *http.Request) {
			var t store.Test
			if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
				logger.Error("Failed to decode test body", zap.Error(err))
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if t.Title == "" {
				writeError(w, http.StatusBadRequest, "missing title")
				return
			}
			testID, err := records.CreateTest(r.Context(), t)
			if err != nil {
				logger.Error("Failed to create test", zap.Error(err))
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			logger.Info("Created test", zap.String("testId", testID))
			writeJSON(w, map[string]string{"id": testID})
		})

		r.Get("/api/tests/{id}/responses", func(w http.ResponseWriter, r *http.Request) {
			responses, err := records.ListResponses(r.Context(), chi.URLParam(r, "id"))
			if errors.Is(err, store.ErrTestNotFound) {
				writeError(w, http.StatusNotFound, "test not found")
				return
			}
			if err != nil {
				logger.Error("Failed to list responses", zap.Error(err))
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, responses)
		})
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type ctxKey string

const claimsKey ctxKey = "claims"

func authMiddleware(jwtSecret string, logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := r.Header.Get("Authorization")
			if tokenStr == "" {
				logger.Error("Missing authorization token")
				writeError(w, http.StatusUnauthorized, "missing token")
				return
			}
			if len(tokenStr) > 7 && tokenStr[:7] == "Bearer " {
				tokenStr = tokenStr[7:]
			}
			token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				logger.Error("Invalid JWT token", zap.Error(err))
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, token.Claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
