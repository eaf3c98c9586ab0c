//go:build !integration

package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ai-analysis-pipeline/internal/infra/metrics"
)

func TestPoolStatsWorker(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("should collect on start and on every tick until ctx ends", func(t *testing.T) {
		w := NewPoolStatsWorker(5*time.Millisecond, nil, &logger)
		var reads int32
		w.snapshot = func() metrics.DBPoolSnapshot {
			atomic.AddInt32(&reads, 1)
			return metrics.DBPoolSnapshot{Total: 4, Idle: 1, Acquired: 3, Max: 10}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
		defer cancel()
		if err := w.Run(ctx); err != context.DeadlineExceeded {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
		if got := atomic.LoadInt32(&reads); got < 2 {
			t.Errorf("expected the initial read plus ticks, got %d", got)
		}
	})
}
