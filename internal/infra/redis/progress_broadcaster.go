package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"ai-analysis-pipeline/internal/domain/model"
	"ai-analysis-pipeline/internal/domain/ports/adapter"
	"ai-analysis-pipeline/internal/infra/metrics"
)

var _ adapter.ProgressBroadcaster = (*ProgressBroadcaster)(nil)

const (
	progressQueueSize  = 256
	progressSubBuffer  = 32
	progressPublishTTL = 2 * time.Second
)

type outgoing struct {
	subjectID string
	payload   []byte
}

// ProgressBroadcaster publishes progress to progress:<subject> channels so
// any instance can serve a subscriber. One sender goroutine keeps the
// publish order of this instance.
type ProgressBroadcaster struct {
	cli   *redis.Client
	queue chan outgoing
	log   *zerolog.Logger
}

func NewProgressBroadcaster(c *redClient, logger *zerolog.Logger) *ProgressBroadcaster {
	compLog := logger.With().Str("component", "RedisProgress").Logger()
	return &ProgressBroadcaster{
		cli:   c.cli,
		queue: make(chan outgoing, progressQueueSize),
		log:   &compLog,
	}
}

func progressChannel(subjectID string) string { return "progress:" + subjectID }

// Run drains the publish queue until ctx ends.
func (b *ProgressBroadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.queue:
			pctx, cancel := context.WithTimeout(ctx, progressPublishTTL)
			err := b.cli.Publish(pctx, progressChannel(msg.subjectID), msg.payload).Err()
			cancel()
			if err != nil {
				metrics.IncProgress("redis", "error")
				b.log.Warn().Err(err).Str("subject_id", msg.subjectID).Msg("progress publish failed")
				continue
			}
			metrics.IncProgress("redis", "delivered")
		}
	}
}

// Publish enqueues without blocking; a full queue drops the event.
func (b *ProgressBroadcaster) Publish(subjectID string, ev model.ProgressEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.log.Error().Err(err).Msg("encode progress event")
		return
	}
	select {
	case b.queue <- outgoing{subjectID: subjectID, payload: payload}:
	default:
		metrics.IncProgress("redis", "dropped")
	}
}

func (b *ProgressBroadcaster) Subscribe(ctx context.Context, subjectID string) (<-chan model.ProgressEvent, func()) {
	ctx, cancel := context.WithCancel(ctx)
	pubsub := b.cli.Subscribe(ctx, progressChannel(subjectID))
	out := make(chan model.ProgressEvent, progressSubBuffer)
	metrics.AddSubscribers("redis", 1)

	go func() {
		defer func() {
			_ = pubsub.Close()
			close(out)
			metrics.AddSubscribers("redis", -1)
		}()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev model.ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.Warn().Err(err).Str("subject_id", subjectID).Msg("discarding malformed progress event")
					continue
				}
				select {
				case out <- ev:
				default:
					metrics.IncProgress("redis", "dropped")
				}
			}
		}
	}()
	return out, cancel
}
