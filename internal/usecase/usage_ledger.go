package usecase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"ai-analysis-pipeline/internal/domain/model"
	"ai-analysis-pipeline/internal/domain/ports/repository"
	"ai-analysis-pipeline/internal/infra/metrics"
)

// Compile-time check
var _ UsageLedgerUseCase = (*UsageLedger)(nil)

// UsageLedgerUseCase gates gated capabilities against the tier table.
type UsageLedgerUseCase interface {
	// CheckAndCountRemaining is read-only.
	CheckAndCountRemaining(ctx context.Context, accountID string, tier model.Tier, capability model.Capability) (model.QuotaCheck, error)
	// Increment consumes one unit and returns the new used count.
	Increment(ctx context.Context, accountID string, capability model.Capability) (int, error)
	// Reserve is the atomic form of check then increment: the unit is taken
	// only when the tier limit still allows it.
	Reserve(ctx context.Context, accountID string, tier model.Tier, capability model.Capability) (model.QuotaCheck, error)
	// Release hands back a unit taken by Reserve.
	Release(ctx context.Context, accountID string, capability model.Capability) error
}

type UsageLedger struct {
	repo  repository.UsageRepository
	tiers model.TierTable
	log   *zerolog.Logger
}

func NewUsageLedger(repo repository.UsageRepository, tiers model.TierTable, logger *zerolog.Logger) *UsageLedger {
	compLog := logger.With().Str("component", "UsageLedger").Logger()
	return &UsageLedger{repo: repo, tiers: tiers, log: &compLog}
}

func (l *UsageLedger) CheckAndCountRemaining(ctx context.Context, accountID string, tier model.Tier, capability model.Capability) (model.QuotaCheck, error) {
	limit := l.tiers.Entitlement(tier, capability).Limit()
	if limit == model.DisabledQuota {
		return model.QuotaCheck{Allowed: false, Used: 0, Limit: limit}, nil
	}

	used, err := l.repo.GetUsed(ctx, repository.NoTX, accountID, capability)
	if err != nil {
		return model.QuotaCheck{}, fmt.Errorf("read usage: %w", err)
	}
	return model.QuotaCheck{Allowed: model.Allows(used, limit), Used: used, Limit: limit}, nil
}

func (l *UsageLedger) Increment(ctx context.Context, accountID string, capability model.Capability) (int, error) {
	used, err := l.repo.Increment(ctx, repository.NoTX, accountID, capability)
	if err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}
	metrics.IncUsage(string(capability))
	l.log.Debug().Str("account_id", accountID).Str("capability", string(capability)).Int("used", used).Msg("usage incremented")
	return used, nil
}

func (l *UsageLedger) Reserve(ctx context.Context, accountID string, tier model.Tier, capability model.Capability) (model.QuotaCheck, error) {
	limit := l.tiers.Entitlement(tier, capability).Limit()
	if limit == model.DisabledQuota {
		return model.QuotaCheck{Allowed: false, Used: 0, Limit: limit}, nil
	}
	if limit == model.UnlimitedQuota {
		used, err := l.Increment(ctx, accountID, capability)
		if err != nil {
			return model.QuotaCheck{}, err
		}
		return model.QuotaCheck{Allowed: true, Used: used, Limit: limit}, nil
	}

	used, ok, err := l.repo.Reserve(ctx, repository.NoTX, accountID, capability, limit)
	if err != nil {
		return model.QuotaCheck{}, fmt.Errorf("reserve usage: %w", err)
	}
	if ok {
		metrics.IncUsage(string(capability))
	}
	return model.QuotaCheck{Allowed: ok, Used: used, Limit: limit}, nil
}

func (l *UsageLedger) Release(ctx context.Context, accountID string, capability model.Capability) error {
	if err := l.repo.Release(ctx, repository.NoTX, accountID, capability); err != nil {
		return fmt.Errorf("release usage: %w", err)
	}
	metrics.IncUsageReleased(string(capability))
	l.log.Debug().Str("account_id", accountID).Str("capability", string(capability)).Msg("usage released")
	return nil
}
