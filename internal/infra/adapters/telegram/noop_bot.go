package telegram

import (
	"context"

	"github.com/rs/zerolog"

	"ai-analysis-pipeline/internal/domain/model"
	"ai-analysis-pipeline/internal/domain/ports/adapter"
	"ai-analysis-pipeline/internal/infra/logging"
	"ai-analysis-pipeline/internal/infra/metrics"
)

var _ adapter.Notifier = (*LogNotifier)(nil)

// LogNotifier writes notifications to the log instead of sending them. Used
// in dev mode and when no bot token is set; outside dev the body is redacted.
type LogNotifier struct {
	log *zerolog.Logger
	dev bool
}

func NewLogNotifier(logger *zerolog.Logger, dev bool) *LogNotifier {
	l := logger.With().Str("component", "LogNotifier").Logger()
	return &LogNotifier{log: &l, dev: dev}
}

func (n *LogNotifier) Notify(ctx context.Context, msg model.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.log.Info().
		Str("account_id", msg.AccountID).
		Str("type", string(msg.Type)).
		Str("title", msg.Title).
		Str("body", logging.Redact(msg.Body, n.dev)).
		Interface("data", msg.Data).
		Msg("notification")
	metrics.IncNotification("log", "sent")
	return nil
}
