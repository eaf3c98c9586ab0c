package memstore

import (
	"context"
	"sync"
	"time"

	"ai-analysis-pipeline/internal/domain/ports/adapter"
)

var _ adapter.SubjectLocker = (*Locker)(nil)

// Locker is a process-local subject lock. TTL is ignored: the holder always
// releases through the returned func.
type Locker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocker() *Locker {
	return &Locker{held: make(map[string]struct{})}
}

func (l *Locker) TryLock(ctx context.Context, subjectID string, ttl time.Duration) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[subjectID]; busy {
		return nil, false, nil
	}
	l.held[subjectID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, subjectID)
			l.mu.Unlock()
		})
	}, true, nil
}
