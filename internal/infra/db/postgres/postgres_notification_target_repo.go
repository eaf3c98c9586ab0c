package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ai-analysis-pipeline/internal/domain"
	"ai-analysis-pipeline/internal/domain/ports/repository"
)

var _ repository.NotificationTargetRepository = (*notificationTargetRepo)(nil)

type notificationTargetRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationTargetRepo(pool *pgxpool.Pool) *notificationTargetRepo {
	return &notificationTargetRepo{pool: pool}
}

// Link stores or replaces the Telegram chat of an account.
func (r *notificationTargetRepo) Link(ctx context.Context, tx repository.Tx, accountID string, chatID int64) error {
	const q = `
INSERT INTO notification_targets (account_id, telegram_chat_id, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (account_id) DO UPDATE SET
  telegram_chat_id = EXCLUDED.telegram_chat_id,
  updated_at = NOW()`
	_, err := execSQL(ctx, r.pool, tx, q, accountID, chatID)
	return err
}

func (r *notificationTargetRepo) TelegramChatID(ctx context.Context, tx repository.Tx, accountID string) (int64, error) {
	const q = `SELECT telegram_chat_id FROM notification_targets WHERE account_id = $1`
	row, err := pickRow(ctx, r.pool, tx, q, accountID)
	if err != nil {
		return 0, err
	}
	var chatID int64
	if err := row.Scan(&chatID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, domain.ErrReadDatabaseRow
	}
	return chatID, nil
}
