package progress

import (
	"context"
	"sync"

	"ai-analysis-pipeline/internal/domain/model"
	"ai-analysis-pipeline/internal/domain/ports/adapter"
	"ai-analysis-pipeline/internal/infra/metrics"
)

var _ adapter.ProgressBroadcaster = (*Hub)(nil)

// SubscriberBuffer is the per-subscriber queue length. A subscriber that
// falls further behind loses events instead of stalling the run.
const SubscriberBuffer = 32

// Hub fans progress events out to in-process subscribers keyed by subject.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan model.ProgressEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan model.ProgressEvent]struct{})}
}

// Publish never blocks. With a single publisher per subject each subscriber
// sees events in publish order.
func (h *Hub) Publish(subjectID string, ev model.ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[subjectID] {
		select {
		case ch <- ev:
			metrics.IncProgress("hub", "delivered")
		default:
			metrics.IncProgress("hub", "dropped")
		}
	}
}

// Subscribe registers a listener until cancel is called or ctx ends. The
// returned channel is closed on either.
func (h *Hub) Subscribe(ctx context.Context, subjectID string) (<-chan model.ProgressEvent, func()) {
	ch := make(chan model.ProgressEvent, SubscriberBuffer)
	h.mu.Lock()
	if h.subs[subjectID] == nil {
		h.subs[subjectID] = make(map[chan model.ProgressEvent]struct{})
	}
	h.subs[subjectID][ch] = struct{}{}
	h.mu.Unlock()
	metrics.AddSubscribers("hub", 1)

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			h.mu.Lock()
			delete(h.subs[subjectID], ch)
			if len(h.subs[subjectID]) == 0 {
				delete(h.subs, subjectID)
			}
			h.mu.Unlock()
			close(ch)
			metrics.AddSubscribers("hub", -1)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel
}

// Subscribers returns the listener count for a subject.
func (h *Hub) Subscribers(subjectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[subjectID])
}
