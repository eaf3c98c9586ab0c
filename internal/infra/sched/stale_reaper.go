package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ai-analysis-pipeline/internal/domain/model"
	"ai-analysis-pipeline/internal/domain/ports/adapter"
	"ai-analysis-pipeline/internal/domain/ports/repository"
	"ai-analysis-pipeline/internal/infra/metrics"
)

// StaleReaper fails subjects left in processing by a crashed or abandoned run.
type StaleReaper struct {
	interval   time.Duration
	staleAfter time.Duration
	subjects   repository.SubjectRepository
	progress   adapter.ProgressBroadcaster
	log        *zerolog.Logger
	now        func() time.Time
}

// NewStaleReaper builds the worker. progress may be nil.
func NewStaleReaper(interval, staleAfter time.Duration, subjects repository.SubjectRepository, progress adapter.ProgressBroadcaster, logger *zerolog.Logger) *StaleReaper {
	compLog := logger.With().Str("component", "StaleReaper").Logger()
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &StaleReaper{
		interval:   interval,
		staleAfter: staleAfter,
		subjects:   subjects,
		progress:   progress,
		log:        &compLog,
		now:        time.Now,
	}
}

func (w *StaleReaper) Run(ctx context.Context) error {
	w.log.Info().Dur("stale_after", w.staleAfter).Msg("Starting stale reaper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping stale reaper")
			return ctx.Err()
		case <-ticker.C:
			w.ReapOnce(ctx)
		}
	}
}

// ReapOnce runs a single pass and returns the number of subjects failed.
func (w *StaleReaper) ReapOnce(ctx context.Context) int {
	ids, err := w.subjects.FailStale(ctx, w.now().Add(-w.staleAfter))
	if err != nil {
		w.log.Error().Err(err).Msg("stale reaper error")
		return 0
	}
	if len(ids) == 0 {
		return 0
	}

	metrics.AddStaleReaped(len(ids))
	w.log.Warn().Int("count", len(ids)).Strs("subject_ids", ids).Msg("stale subjects failed")
	if w.progress != nil {
		for _, id := range ids {
			w.progress.Publish(id, model.NewProgressEvent(id, "", model.StageError, "processing timed out"))
		}
	}
	return len(ids)
}
