// Package memstore holds in-memory implementations of the persistence and
// locking ports for dev mode and single-instance runs.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"ai-analysis-pipeline/internal/domain"
	"ai-analysis-pipeline/internal/domain/model"
	"ai-analysis-pipeline/internal/domain/ports/repository"
)

var _ repository.ResultStore = (*ResultStore)(nil)

type ResultStore struct {
	mu      sync.RWMutex
	bundles map[string]*model.AnalysisBundle
}

func NewResultStore() *ResultStore {
	return &ResultStore{bundles: make(map[string]*model.AnalysisBundle)}
}

func (s *ResultStore) SaveAnalysis(ctx context.Context, report *model.AnalysisReport, errs []model.AnalysisError, exercises []model.Exercise, stats []model.SubjectStat) (string, error) {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bundles[report.ID]; exists {
		return "", domain.ErrAlreadyExists
	}
	b := &model.AnalysisBundle{Report: *report}
	for _, e := range errs {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		e.ReportID = report.ID
		b.Errors = append(b.Errors, e)
	}
	b.Exercises = withReport(report.ID, exercises)
	for _, st := range stats {
		if st.ID == "" {
			st.ID = uuid.NewString()
		}
		st.ReportID = report.ID
		b.Stats = append(b.Stats, st)
	}
	s.bundles[report.ID] = b
	return report.ID, nil
}

func (s *ResultStore) SavePlan(ctx context.Context, reportID string, exercises []model.Exercise) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[reportID]
	if !ok {
		return domain.ErrNotFound
	}
	b.Exercises = append(b.Exercises, withReport(reportID, exercises)...)
	return nil
}

// GetAnalysis returns a copy; callers may not mutate stored slices.
func (s *ResultStore) GetAnalysis(ctx context.Context, reportID string) (*model.AnalysisBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bundles[reportID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &model.AnalysisBundle{
		Report:    b.Report,
		Errors:    append([]model.AnalysisError(nil), b.Errors...),
		Exercises: append([]model.Exercise(nil), b.Exercises...),
		Stats:     append([]model.SubjectStat(nil), b.Stats...),
	}, nil
}

func withReport(reportID string, exercises []model.Exercise) []model.Exercise {
	out := make([]model.Exercise, 0, len(exercises))
	for _, ex := range exercises {
		if ex.ID == "" {
			ex.ID = uuid.NewString()
		}
		ex.ReportID = reportID
		out = append(out, ex)
	}
	return out
}
