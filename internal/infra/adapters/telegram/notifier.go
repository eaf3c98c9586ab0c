package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"ai-analysis-pipeline/internal/domain"
	"ai-analysis-pipeline/internal/domain/model"
	"ai-analysis-pipeline/internal/domain/ports/adapter"
	"ai-analysis-pipeline/internal/domain/ports/repository"
	"ai-analysis-pipeline/internal/infra/metrics"
)

var _ adapter.Notifier = (*Notifier)(nil)

// Notifier delivers notifications to the chat linked to an account.
type Notifier struct {
	bot     adapter.TelegramBotAdapter
	targets repository.NotificationTargetRepository
	log     *zerolog.Logger
}

func NewNotifier(bot adapter.TelegramBotAdapter, targets repository.NotificationTargetRepository, logger *zerolog.Logger) *Notifier {
	l := logger.With().Str("component", "TelegramNotifier").Logger()
	return &Notifier{bot: bot, targets: targets, log: &l}
}

// Notify returns nil for accounts without a linked chat.
func (n *Notifier) Notify(ctx context.Context, msg model.Notification) error {
	chatID, err := n.targets.TelegramChatID(ctx, nil, msg.AccountID)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.IncNotification("telegram", "no_target")
		n.log.Debug().Str("account_id", msg.AccountID).Msg("no telegram chat linked")
		return nil
	}
	if err != nil {
		metrics.IncNotification("telegram", "error")
		return fmt.Errorf("resolve chat: %w", err)
	}

	if err := n.bot.SendMessage(ctx, chatID, render(msg)); err != nil {
		metrics.IncNotification("telegram", "error")
		return fmt.Errorf("send telegram message: %w", err)
	}
	metrics.IncNotification("telegram", "sent")
	return nil
}

func render(msg model.Notification) string {
	var b strings.Builder
	b.WriteString(msg.Title)
	if msg.Body != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(msg.Body)
	}
	return b.String()
}
