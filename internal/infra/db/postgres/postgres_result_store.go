package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ai-analysis-pipeline/internal/domain"
	"ai-analysis-pipeline/internal/domain/model"
	"ai-analysis-pipeline/internal/domain/ports/repository"
)

var _ repository.ResultStore = (*resultStore)(nil)

type resultStore struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewResultStore(pool *pgxpool.Pool, tm repository.TransactionManager) *resultStore {
	return &resultStore{pool: pool, tm: tm}
}

// SaveAnalysis writes the report row on its own and then all child rows in a
// single batched transaction. A child failure leaves the report addressable.
func (s *resultStore) SaveAnalysis(ctx context.Context, report *model.AnalysisReport, errs []model.AnalysisError, exercises []model.Exercise, stats []model.SubjectStat) (string, error) {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	const q = `
INSERT INTO analysis_reports (id, subject_id, account_id, overall_score, summary, rally_count,
  points_won, points_lost, error_count, model, analysis_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	if _, err := execSQL(ctx, s.pool, repository.NoTX, q,
		report.ID, report.SubjectID, report.AccountID, report.OverallScore, report.Summary, report.RallyCount,
		report.PointsWon, report.PointsLost, report.ErrorCount, report.Model, report.AnalysisMs, report.CreatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", domain.ErrAlreadyExists
		}
		return "", fmt.Errorf("insert report: %w", err)
	}

	if len(errs)+len(exercises)+len(stats) == 0 {
		return report.ID, nil
	}

	b := &pgx.Batch{}
	for i := range errs {
		queueError(b, report.ID, &errs[i])
	}
	for i := range exercises {
		queueExercise(b, report.ID, &exercises[i])
	}
	for i := range stats {
		queueStat(b, report.ID, &stats[i])
	}
	if err := s.sendBatch(ctx, b); err != nil {
		return report.ID, fmt.Errorf("insert report children: %w", err)
	}
	return report.ID, nil
}

func (s *resultStore) SavePlan(ctx context.Context, reportID string, exercises []model.Exercise) error {
	if len(exercises) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for i := range exercises {
		queueExercise(b, reportID, &exercises[i])
	}
	if err := s.sendBatch(ctx, b); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return domain.ErrNotFound
		}
		return fmt.Errorf("insert exercises: %w", err)
	}
	return nil
}

func (s *resultStore) sendBatch(ctx context.Context, b *pgx.Batch) error {
	return s.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ex, err := getExecutor(s.pool, tx)
		if err != nil {
			return err
		}
		br := ex.SendBatch(ctx, b)
		for i := 0; i < b.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return err
			}
		}
		return br.Close()
	})
}

func queueError(b *pgx.Batch, reportID string, e *model.AnalysisError) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.ReportID = reportID
	b.Queue(`
INSERT INTO analysis_errors (id, report_id, category, severity, description, timestamp_sec)
VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, reportID, string(e.Category), string(e.Severity), e.Description, e.TimestampSec)
}

func queueExercise(b *pgx.Batch, reportID string, ex *model.Exercise) {
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	ex.ReportID = reportID
	b.Queue(`
INSERT INTO exercises (id, report_id, title, description, category, duration_min, repetitions,
  difficulty, priority, source)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ex.ID, reportID, ex.Title, ex.Description, string(ex.Category), ex.DurationMin, ex.Repetitions,
		ex.Difficulty, ex.Priority, string(ex.Source))
}

func queueStat(b *pgx.Batch, reportID string, st *model.SubjectStat) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	st.ReportID = reportID
	b.Queue(`
INSERT INTO subject_stats (id, report_id, metric, value, unit)
VALUES ($1, $2, $3, $4, $5)`,
		st.ID, reportID, st.Metric, st.Value, st.Unit)
}

func (s *resultStore) GetAnalysis(ctx context.Context, reportID string) (*model.AnalysisBundle, error) {
	if _, err := uuid.Parse(reportID); err != nil {
		return nil, domain.ErrNotFound
	}

	const q = `
SELECT id, subject_id, account_id, overall_score, summary, rally_count, points_won, points_lost,
  error_count, model, analysis_ms, created_at
FROM analysis_reports WHERE id = $1`
	row, err := pickRow(ctx, s.pool, repository.NoTX, q, reportID)
	if err != nil {
		return nil, err
	}

	var bundle model.AnalysisBundle
	r := &bundle.Report
	if err := row.Scan(&r.ID, &r.SubjectID, &r.AccountID, &r.OverallScore, &r.Summary, &r.RallyCount,
		&r.PointsWon, &r.PointsLost, &r.ErrorCount, &r.Model, &r.AnalysisMs, &r.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}

	if bundle.Errors, err = s.listErrors(ctx, reportID); err != nil {
		return nil, err
	}
	if bundle.Exercises, err = s.listExercises(ctx, reportID); err != nil {
		return nil, err
	}
	if bundle.Stats, err = s.listStats(ctx, reportID); err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (s *resultStore) listErrors(ctx context.Context, reportID string) ([]model.AnalysisError, error) {
	const q = `
SELECT id, report_id, category, severity, description, timestamp_sec
FROM analysis_errors WHERE report_id = $1
ORDER BY seq`
	rows, err := queryRows(ctx, s.pool, repository.NoTX, q, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AnalysisError
	for rows.Next() {
		var e model.AnalysisError
		var category, severity string
		if err := rows.Scan(&e.ID, &e.ReportID, &category, &severity, &e.Description, &e.TimestampSec); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		e.Category, e.Severity = model.ErrorCategory(category), model.Severity(severity)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *resultStore) listExercises(ctx context.Context, reportID string) ([]model.Exercise, error) {
	const q = `
SELECT id, report_id, title, description, category, duration_min, repetitions, difficulty, priority, source
FROM exercises WHERE report_id = $1
ORDER BY seq`
	rows, err := queryRows(ctx, s.pool, repository.NoTX, q, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Exercise
	for rows.Next() {
		var ex model.Exercise
		var category, source string
		if err := rows.Scan(&ex.ID, &ex.ReportID, &ex.Title, &ex.Description, &category, &ex.DurationMin,
			&ex.Repetitions, &ex.Difficulty, &ex.Priority, &source); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		ex.Category, ex.Source = model.ErrorCategory(category), model.ExerciseSource(source)
		out = append(out, ex)
	}
	return out, rows.Err()
}

func (s *resultStore) listStats(ctx context.Context, reportID string) ([]model.SubjectStat, error) {
	const q = `SELECT id, report_id, metric, value, unit FROM subject_stats WHERE report_id = $1 ORDER BY metric`
	rows, err := queryRows(ctx, s.pool, repository.NoTX, q, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SubjectStat
	for rows.Next() {
		var st model.SubjectStat
		if err := rows.Scan(&st.ID, &st.ReportID, &st.Metric, &st.Value, &st.Unit); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
