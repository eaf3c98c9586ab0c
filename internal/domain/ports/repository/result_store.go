package repository

import (
	"context"
	"time"

	"ai-analysis-pipeline/internal/domain/model"
)

// ResultStore persists the artifacts of a run. The report row is written
// first and is addressable even when no child rows follow.
type ResultStore interface {
	// SaveAnalysis stores the report and its children, returning the report id.
	SaveAnalysis(ctx context.Context, report *model.AnalysisReport, errs []model.AnalysisError, exercises []model.Exercise, stats []model.SubjectStat) (string, error)
	// SavePlan appends exercises to an existing report.
	SavePlan(ctx context.Context, reportID string, exercises []model.Exercise) error
	// GetAnalysis returns domain.ErrNotFound for unknown ids.
	GetAnalysis(ctx context.Context, reportID string) (*model.AnalysisBundle, error)
}

// UsageRepository holds per-account counters. Increment must be atomic.
type UsageRepository interface {
	GetUsed(ctx context.Context, tx Tx, accountID string, capability model.Capability) (int, error)
	Increment(ctx context.Context, tx Tx, accountID string, capability model.Capability) (int, error)
	// Reserve increments only while used < limit, in one statement. When
	// refused, ok is false and used is the current count.
	Reserve(ctx context.Context, tx Tx, accountID string, capability model.Capability, limit int) (used int, ok bool, err error)
	// Release gives back one unit; it never drops below zero.
	Release(ctx context.Context, tx Tx, accountID string, capability model.Capability) error
}

// SubjectRepository tracks the processing status of subjects.
type SubjectRepository interface {
	// UpdateStatus returns domain.ErrNotFound when the subject does not exist.
	UpdateStatus(ctx context.Context, tx Tx, subjectID string, status model.SubjectStatus) error
	FindByID(ctx context.Context, tx Tx, subjectID string) (*model.Subject, error)
	// FailStale marks subjects stuck in processing since before `before` as
	// failed and returns their ids.
	FailStale(ctx context.Context, before time.Time) ([]string, error)
}

// NotificationTargetRepository resolves where to deliver account messages.
type NotificationTargetRepository interface {
	TelegramChatID(ctx context.Context, tx Tx, accountID string) (int64, error)
}
