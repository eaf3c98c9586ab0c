package ai

import (
	"context"

	"ai-analysis-pipeline/internal/domain/ports/adapter"
	"ai-analysis-pipeline/internal/infra/metrics"
)

// Compile-time check
var (
	_ adapter.AIServiceAdapter = (*limitedAI)(nil)
	_ adapter.VisionAdapter    = (*limitedVision)(nil)
)

// limiter is a counting semaphore that gives up when ctx ends.
type limiter struct {
	name string
	sem  chan struct{}
}

func (l *limiter) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	default:
	}
	metrics.LimiterWaited(l.name)
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limiter) release() { <-l.sem }

type limitedAI struct {
	inner adapter.AIServiceAdapter
	lim   *limiter
}

// NewLimitedAI bounds concurrent calls to inner. maxConcurrent <= 0 disables
// the bound.
func NewLimitedAI(name string, inner adapter.AIServiceAdapter, maxConcurrent int) adapter.AIServiceAdapter {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedAI{inner: inner, lim: &limiter{name: name, sem: make(chan struct{}, maxConcurrent)}}
}

func (l *limitedAI) GetModelInfo(model string) (adapter.ModelInfo, error) {
	return l.inner.GetModelInfo(model)
}

func (l *limitedAI) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	if err := l.lim.acquire(ctx); err != nil {
		return "", adapter.Usage{}, err
	}
	defer l.lim.release()
	return l.inner.ChatWithUsage(ctx, model, messages)
}

func (l *limitedAI) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	return l.inner.CountTokens(ctx, model, messages)
}

type limitedVision struct {
	inner adapter.VisionAdapter
	lim   *limiter
}

// NewLimitedVision bounds concurrent media analyses, which are the slowest
// and most expensive calls.
func NewLimitedVision(name string, inner adapter.VisionAdapter, maxConcurrent int) adapter.VisionAdapter {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedVision{inner: inner, lim: &limiter{name: name, sem: make(chan struct{}, maxConcurrent)}}
}

func (l *limitedVision) AnalyzeMedia(ctx context.Context, model string, media adapter.Media, messages []adapter.Message) (string, adapter.Usage, error) {
	if err := l.lim.acquire(ctx); err != nil {
		return "", adapter.Usage{}, err
	}
	defer l.lim.release()
	return l.inner.AnalyzeMedia(ctx, model, media, messages)
}
