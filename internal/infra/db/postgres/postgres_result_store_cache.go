package postgres

import (
	"context"
	"encoding/json"
	"time"

	"ai-analysis-pipeline/internal/domain/model"
	"ai-analysis-pipeline/internal/domain/ports/repository"
	"ai-analysis-pipeline/internal/infra/metrics"
	red "ai-analysis-pipeline/internal/infra/redis"
)

var _ repository.ResultStore = (*resultStoreCacheDecorator)(nil)

// resultStoreCacheDecorator caches report bundles for the read endpoint.
// Writes to a report drop its entry.
type resultStoreCacheDecorator struct {
	inner repository.ResultStore
	cache red.RedisClient
	ttl   time.Duration
}

func NewResultStoreCacheDecorator(inner repository.ResultStore, cache red.RedisClient) repository.ResultStore {
	return &resultStoreCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   30 * time.Minute,
	}
}

func reportCacheKey(reportID string) string { return "report:" + reportID }

func (d *resultStoreCacheDecorator) SaveAnalysis(ctx context.Context, report *model.AnalysisReport, errs []model.AnalysisError, exercises []model.Exercise, stats []model.SubjectStat) (string, error) {
	return d.inner.SaveAnalysis(ctx, report, errs, exercises, stats)
}

func (d *resultStoreCacheDecorator) SavePlan(ctx context.Context, reportID string, exercises []model.Exercise) error {
	_ = d.cache.Del(ctx, reportCacheKey(reportID))
	return d.inner.SavePlan(ctx, reportID, exercises)
}

func (d *resultStoreCacheDecorator) GetAnalysis(ctx context.Context, reportID string) (*model.AnalysisBundle, error) {
	key := reportCacheKey(reportID)
	val, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		var bundle model.AnalysisBundle
		if json.Unmarshal([]byte(val), &bundle) == nil {
			metrics.IncCacheRequest("report", "hit")
			return &bundle, nil
		}
		metrics.IncCacheRequest("report", "error")
	case red.IsMiss(err):
		metrics.IncCacheRequest("report", "miss")
	default:
		metrics.IncCacheRequest("report", "error")
	}

	bundle, err := d.inner.GetAnalysis(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(bundle); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return bundle, nil
}
