package adapter

import (
	"context"
	"time"

	"ai-analysis-pipeline/internal/domain/model"
)

// Notifier delivers a message to an account. Callers treat it as
// fire-and-forget and only log failures.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// ProgressBroadcaster fans progress events out to subscribers of a subject.
// Publish never blocks and never reports delivery failure.
type ProgressBroadcaster interface {
	Publish(subjectID string, ev model.ProgressEvent)
	// Subscribe returns a channel of events for subjectID and a cancel func.
	// The channel is closed after cancel or when ctx ends.
	Subscribe(ctx context.Context, subjectID string) (<-chan model.ProgressEvent, func())
}

// SubjectLocker provides per-subject exclusivity. TryLock never waits: it
// returns ok=false when another run holds the subject.
type SubjectLocker interface {
	TryLock(ctx context.Context, subjectID string, ttl time.Duration) (unlock func(), ok bool, err error)
}
