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

var _ repository.UsageRepository = (*usageRepo)(nil)

// usageRepo keeps one counter row per account, capability and monthly period.
type usageRepo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewUsageRepo(pool *pgxpool.Pool) *usageRepo {
	return &usageRepo{pool: pool, now: time.Now}
}

func (r *usageRepo) GetUsed(ctx context.Context, tx repository.Tx, accountID string, capability model.Capability) (int, error) {
	const q = `
SELECT used FROM usage_counters
WHERE account_id = $1 AND capability = $2 AND period_end = $3`
	row, err := pickRow(ctx, r.pool, tx, q, accountID, string(capability), model.PeriodEnd(r.now()))
	if err != nil {
		return 0, err
	}
	var used int
	if err := row.Scan(&used); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, domain.ErrReadDatabaseRow
	}
	return used, nil
}

// Increment is a single upsert so concurrent completions never lose a unit.
func (r *usageRepo) Increment(ctx context.Context, tx repository.Tx, accountID string, capability model.Capability) (int, error) {
	const q = `
INSERT INTO usage_counters (account_id, capability, period_end, used, updated_at)
VALUES ($1, $2, $3, 1, NOW())
ON CONFLICT (account_id, capability, period_end) DO UPDATE SET
  used = usage_counters.used + 1,
  updated_at = NOW()
RETURNING used`
	row, err := pickRow(ctx, r.pool, tx, q, accountID, string(capability), model.PeriodEnd(r.now()))
	if err != nil {
		return 0, err
	}
	var used int
	if err := row.Scan(&used); err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}
	return used, nil
}

// Reserve takes a unit only while the counter is below limit. The guard sits
// in the upsert itself, so concurrent runs of one account cannot overshoot.
func (r *usageRepo) Reserve(ctx context.Context, tx repository.Tx, accountID string, capability model.Capability, limit int) (int, bool, error) {
	if limit == model.UnlimitedQuota {
		used, err := r.Increment(ctx, tx, accountID, capability)
		return used, err == nil, err
	}
	if limit <= 0 {
		used, err := r.GetUsed(ctx, tx, accountID, capability)
		return used, false, err
	}

	const q = `
INSERT INTO usage_counters (account_id, capability, period_end, used, updated_at)
VALUES ($1, $2, $3, 1, NOW())
ON CONFLICT (account_id, capability, period_end) DO UPDATE SET
  used = usage_counters.used + 1,
  updated_at = NOW()
WHERE usage_counters.used < $4
RETURNING used`
	row, err := pickRow(ctx, r.pool, tx, q, accountID, string(capability), model.PeriodEnd(r.now()), limit)
	if err != nil {
		return 0, false, err
	}
	var used int
	if err := row.Scan(&used); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			used, err := r.GetUsed(ctx, tx, accountID, capability)
			return used, false, err
		}
		return 0, false, fmt.Errorf("reserve usage: %w", err)
	}
	return used, true, nil
}

func (r *usageRepo) Release(ctx context.Context, tx repository.Tx, accountID string, capability model.Capability) error {
	const q = `
UPDATE usage_counters SET used = used - 1, updated_at = NOW()
WHERE account_id = $1 AND capability = $2 AND period_end = $3 AND used > 0`
	if _, err := execSQL(ctx, r.pool, tx, q, accountID, string(capability), model.PeriodEnd(r.now())); err != nil {
		return fmt.Errorf("release usage: %w", err)
	}
	return nil
}
