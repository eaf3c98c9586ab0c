//go:build !integration

package postgres

import (
	"context"
	"time"

	"ai-analysis-pipeline/internal/domain/model"
	red "ai-analysis-pipeline/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerResultStore mocks the database store the cache decorator wraps.
type mockInnerResultStore struct {
	SaveAnalysisFunc func(ctx context.Context, report *model.AnalysisReport, errs []model.AnalysisError, exercises []model.Exercise, stats []model.SubjectStat) (string, error)
	SavePlanFunc     func(ctx context.Context, reportID string, exercises []model.Exercise) error
	GetAnalysisFunc  func(ctx context.Context, reportID string) (*model.AnalysisBundle, error)
}

func (m *mockInnerResultStore) SaveAnalysis(ctx context.Context, report *model.AnalysisReport, errs []model.AnalysisError, exercises []model.Exercise, stats []model.SubjectStat) (string, error) {
	return m.SaveAnalysisFunc(ctx, report, errs, exercises, stats)
}
func (m *mockInnerResultStore) SavePlan(ctx context.Context, reportID string, exercises []model.Exercise) error {
	return m.SavePlanFunc(ctx, reportID, exercises)
}
func (m *mockInnerResultStore) GetAnalysis(ctx context.Context, reportID string) (*model.AnalysisBundle, error) {
	return m.GetAnalysisFunc(ctx, reportID)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc    func(ctx context.Context, key string) (string, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc    func(ctx context.Context, keys ...string) error
	PingFunc   func(ctx context.Context) error
	IncrFunc   func(ctx context.Context, key string) (int64, error)
	ExpireFunc func(ctx context.Context, key string, expiration time.Duration) error
	CloseFunc  func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return m.ExpireFunc(ctx, key, expiration)
}
func (m *mockRedisClient) Close() error { return m.CloseFunc() }
