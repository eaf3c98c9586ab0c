package memstore

import (
	"context"
	"sync"
	"time"

	"ai-analysis-pipeline/internal/domain/model"
	"ai-analysis-pipeline/internal/domain/ports/repository"
)

var _ repository.UsageRepository = (*UsageRepo)(nil)

type usageKey struct {
	account    string
	capability model.Capability
	periodEnd  time.Time
}

type UsageRepo struct {
	mu   sync.Mutex
	used map[usageKey]int
	now  func() time.Time
}

func NewUsageRepo() *UsageRepo {
	return &UsageRepo{used: make(map[usageKey]int), now: time.Now}
}

func (r *UsageRepo) key(accountID string, c model.Capability) usageKey {
	return usageKey{account: accountID, capability: c, periodEnd: model.PeriodEnd(r.now())}
}

func (r *UsageRepo) GetUsed(ctx context.Context, tx repository.Tx, accountID string, c model.Capability) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used[r.key(accountID, c)], nil
}

func (r *UsageRepo) Increment(ctx context.Context, tx repository.Tx, accountID string, c model.Capability) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(accountID, c)
	r.used[k]++
	return r.used[k], nil
}

func (r *UsageRepo) Reserve(ctx context.Context, tx repository.Tx, accountID string, c model.Capability, limit int) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(accountID, c)
	if !model.Allows(r.used[k], limit) {
		return r.used[k], false, nil
	}
	r.used[k]++
	return r.used[k], true, nil
}

func (r *UsageRepo) Release(ctx context.Context, tx repository.Tx, accountID string, c model.Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(accountID, c)
	if r.used[k] > 0 {
		r.used[k]--
	}
	return nil
}
