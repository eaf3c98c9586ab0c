package sched

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"ai-analysis-pipeline/internal/infra/metrics"
)

// PoolStatter is satisfied by *pgxpool.Pool.
type PoolStatter interface {
	Stat() *pgxpool.Stat
}

// PoolStatsWorker exports connection pool gauges on an interval.
type PoolStatsWorker struct {
	interval time.Duration
	snapshot func() metrics.DBPoolSnapshot
	log      *zerolog.Logger
}

func NewPoolStatsWorker(interval time.Duration, pool PoolStatter, logger *zerolog.Logger) *PoolStatsWorker {
	compLog := logger.With().Str("component", "PoolStatsWorker").Logger()
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &PoolStatsWorker{interval: interval, snapshot: func() metrics.DBPoolSnapshot { return snapshotOf(pool.Stat()) }, log: &compLog}
}

func snapshotOf(st *pgxpool.Stat) metrics.DBPoolSnapshot {
	return metrics.DBPoolSnapshot{
		Total:         st.TotalConns(),
		Idle:          st.IdleConns(),
		Acquired:      st.AcquiredConns(),
		Max:           st.MaxConns(),
		EmptyAcquires: st.EmptyAcquireCount(),
	}
}

func (w *PoolStatsWorker) Run(ctx context.Context) error {
	w.log.Debug().Msg("Starting pool stats worker")
	// once on startup, then on every tick
	w.collect()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.collect()
		}
	}
}

func (w *PoolStatsWorker) collect() {
	metrics.SetDBPoolStats(w.snapshot())
}
