package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/3112shubham/test-hub-sub000/internal/dedup"
	"github.com/3112shubham/test-hub-sub000/internal/drain"
	"github.com/3112shubham/test-hub-sub000/internal/log"
	"github.com/3112shubham/test-hub-sub000/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type PipelineMetrics struct {
	StagedTotal        prometheus.Counter
	DedupHitsTotal     prometheus.Counter
	DrainRunsTotal     prometheus.Counter
	DrainOutcomesTotal *prometheus.CounterVec
	QueueDepth         *prometheus.GaugeVec
	StoreHealth        *prometheus.GaugeVec

	staging *store.StagingStore
	records *store.RecordStore
	deduper *dedup.Deduper
	logger  *log.Logger
}

func NewPipelineMetrics(staging *store.StagingStore, records *store.RecordStore, deduper *dedup.Deduper, logger *log.Logger) *PipelineMetrics {
	m := &PipelineMetrics{
		StagedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "testhub_submissions_staged_total",
			Help: "Total number of submissions appended to the staging queue",
		}),
		DedupHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "testhub_intake_dedup_hits_total",
			Help: "Total number of intake requests answered from the idempotency cache",
		}),
		DrainRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "testhub_drain_runs_total",
			Help: "Total number of drain worker invocations",
		}),
		DrainOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testhub_drain_outcomes_total",
				Help: "Total number of drained items by outcome status",
			},
			[]string{"status"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "testhub_queue_depth",
				Help: "Number of staged items by status",
			},
			[]string{"status"},
		),
		StoreHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "testhub_store_health",
				Help: "Health of the backing stores (1 = healthy, 0 = unhealthy)",
			},
			[]string{"store"},
		),
		staging: staging,
		records: records,
		deduper: deduper,
		logger:  logger,
	}

	prometheus.MustRegister(
		m.StagedTotal,
		m.DedupHitsTotal,
		m.DrainRunsTotal,
		m.DrainOutcomesTotal,
		m.QueueDepth,
		m.StoreHealth,
	)

	return m
}

// ObserveReport folds one drain report into the counters.
func (m *PipelineMetrics) ObserveReport(report drain.Report) {
	m.DrainRunsTotal.Inc()
	for _, outcome := range report.Details {
		m.DrainOutcomesTotal.WithLabelValues(outcome.Status).Inc()
	}
}

// Run serves /metrics on :2112 and polls queue depth and store health until
// the context is canceled.
func (m *PipelineMetrics) Run(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    ":2112",
		Handler: mux,
	}

	go m.collect(ctx)

	go func() {
		m.logger.Info("Metrics server starting on :2112")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	if err := srv.Shutdown(context.Background()); err != nil {
		m.logger.Error("Metrics server shutdown failed", zap.Error(err))
	}
}

func (m *PipelineMetrics) collect(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Metrics collection shutting down")
			return
		case <-ticker.C:
			counts, err := m.staging.CountByStatus(ctx)
			if err != nil {
				m.logger.Error("Failed to count queue depth", zap.Error(err))
			} else {
				for _, status := range []store.Status{store.StatusPending, store.StatusFailed} {
					m.QueueDepth.WithLabelValues(string(status)).Set(float64(counts[status]))
				}
			}

			if err := m.staging.Ping(ctx); err != nil {
				m.StoreHealth.WithLabelValues("staging").Set(0)
				m.logger.Error("Staging store unhealthy", zap.Error(err))
			} else {
				m.StoreHealth.WithLabelValues("staging").Set(1)
			}
			if err := m.records.Ping(ctx); err != nil {
				m.StoreHealth.WithLabelValues("record").Set(0)
				m.logger.Error("Record store unhealthy", zap.Error(err))
			} else {
				m.StoreHealth.WithLabelValues("record").Set(1)
			}
			if err := m.deduper.Ping(ctx); err != nil {
				m.StoreHealth.WithLabelValues("dedup").Set(0)
				m.logger.Error("Dedup store unhealthy", zap.Error(err))
			} else {
				m.StoreHealth.WithLabelValues("dedup").Set(1)
			}
		}
	}
}
