package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ai-analysis-pipeline/internal/domain"
	"ai-analysis-pipeline/internal/domain/model"
	"ai-analysis-pipeline/internal/domain/ports/repository"
)

var _ repository.SubjectRepository = (*subjectRepo)(nil)

type subjectRepo struct {
	pool *pgxpool.Pool
}

func NewSubjectRepo(pool *pgxpool.Pool) *subjectRepo {
	return &subjectRepo{pool: pool}
}

// Save upserts a subject. Used by seeding and the upload path.
func (r *subjectRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subject) error {
	if s.Status == "" {
		s.Status = model.SubjectIdle
	}
	s.UpdatedAt = time.Now().UTC()
	const q = `
INSERT INTO subjects (id, account_id, status, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  updated_at = EXCLUDED.updated_at`
	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.AccountID, string(s.Status), s.UpdatedAt)
	return err
}

func (r *subjectRepo) UpdateStatus(ctx context.Context, tx repository.Tx, subjectID string, status model.SubjectStatus) error {
	const q = `UPDATE subjects SET status = $2, updated_at = NOW() WHERE id = $1`
	ct, err := execSQL(ctx, r.pool, tx, q, subjectID, string(status))
	if err != nil {
		return fmt.Errorf("update subject status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *subjectRepo) FindByID(ctx context.Context, tx repository.Tx, subjectID string) (*model.Subject, error) {
	const q = `SELECT id, account_id, status, updated_at FROM subjects WHERE id = $1`
	row, err := pickRow(ctx, r.pool, tx, q, subjectID)
	if err != nil {
		return nil, err
	}
	var s model.Subject
	var status string
	if err := row.Scan(&s.ID, &s.AccountID, &status, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	s.Status = model.SubjectStatus(status)
	return &s, nil
}

func (r *subjectRepo) FailStale(ctx context.Context, before time.Time) ([]string, error) {
	const q = `
UPDATE subjects SET status = 'failed', updated_at = NOW()
WHERE status = 'processing' AND updated_at < $1
RETURNING id`
	rows, err := queryRows(ctx, r.pool, repository.NoTX, q, before)
	if err != nil {
		return nil, fmt.Errorf("fail stale subjects: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
