package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"ai-analysis-pipeline/internal/config"
	"ai-analysis-pipeline/internal/domain/ports/adapter"
	"ai-analysis-pipeline/internal/domain/ports/repository"
	aiAdapters "ai-analysis-pipeline/internal/infra/adapters/ai"
	tele "ai-analysis-pipeline/internal/infra/adapters/telegram"
	"ai-analysis-pipeline/internal/infra/api/apiv1"
	pg "ai-analysis-pipeline/internal/infra/db/postgres"
	httpapi "ai-analysis-pipeline/internal/infra/http"
	"ai-analysis-pipeline/internal/infra/memstore"
	"ai-analysis-pipeline/internal/infra/progress"
	red "ai-analysis-pipeline/internal/infra/redis"
	"ai-analysis-pipeline/internal/infra/storage"
)

// infra groups the storage, locking and delivery backends. Optional members
// stay nil interfaces, never typed nils.
type infra struct {
	store    repository.ResultStore
	usage    repository.UsageRepository
	subjects repository.SubjectRepository
	locker   adapter.SubjectLocker
	progress adapter.ProgressBroadcaster
	notifier adapter.Notifier
	limiter  apiv1.RateLimiter

	pgPool     *pgxpool.Pool
	health     map[string]httpapi.HealthFunc
	background []func(ctx context.Context)
	closers    []func()
}

func (i *infra) Close() {
	for j := len(i.closers) - 1; j >= 0; j-- {
		i.closers[j]()
	}
}

func buildInfra(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*infra, error) {
	in := &infra{health: map[string]httpapi.HealthFunc{}}

	if cfg.Runtime.Dev && cfg.Database.URL == "" {
		in.store = memstore.NewResultStore()
		in.usage = memstore.NewUsageRepo()
		in.subjects = memstore.NewSubjectRepo(true)
		in.locker = memstore.NewLocker()
		in.progress = progress.NewHub()
		in.notifier = tele.NewLogNotifier(logger, cfg.Runtime.Dev)
		return in, nil
	}

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	in.pgPool = pool
	in.closers = append(in.closers, pool.Close)
	in.health["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }

	tm := pg.NewTxManager(pool)
	var store repository.ResultStore = pg.NewResultStore(pool, tm)
	in.usage = pg.NewUsageRepo(pool)
	in.subjects = pg.NewSubjectRepo(pool)
	targets := pg.NewNotificationTargetRepo(pool)

	// ---- Redis (optional: single instance falls back to memory) ----
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		in.closers = append(in.closers, func() { _ = rc.Close() })
		in.health["redis"] = rc.Ping

		store = pg.NewResultStoreCacheDecorator(store, rc)
		in.locker = red.NewLocker(rc)
		in.limiter = red.NewRateLimiter(rc)
		broadcaster := red.NewProgressBroadcaster(rc, logger)
		in.progress = broadcaster
		in.background = append(in.background, broadcaster.Run)
	} else {
		logger.Warn().Msg("redis.url not set; using in-process locks and progress")
		in.locker = memstore.NewLocker()
		in.progress = progress.NewHub()
	}
	in.store = store

	// ---- Telegram ----
	if cfg.Telegram.Token != "" {
		bot, err := tele.NewRealTelegramBotAdapter(cfg.Telegram.Token)
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		in.notifier = tele.NewNotifier(bot, targets, logger)
	} else {
		in.notifier = tele.NewLogNotifier(logger, cfg.Runtime.Dev)
	}
	return in, nil
}

type aiBackends struct {
	vision  adapter.VisionAdapter
	locator adapter.VideoLocator
	text    adapter.AIServiceAdapter
}

func buildAI(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*aiBackends, error) {
	out := &aiBackends{}
	limit := cfg.AI.ConcurrentLimit
	providers := map[string]adapter.AIServiceAdapter{}
	defaultProvider := ""

	if cfg.AI.GeminiKey != "" {
		g, err := aiAdapters.NewGeminiAdapter(ctx, cfg.AI.GeminiKey, cfg.AI.GeminiBaseURL, cfg.AI.VisionModel, cfg.AI.MaxOutputTokens)
		if err != nil {
			return nil, fmt.Errorf("gemini adapter: %w", err)
		}
		out.vision = aiAdapters.NewLimitedVision("gemini", g, limit)
		providers["gemini"] = aiAdapters.NewLimitedAI("gemini", g, limit)
		defaultProvider = "gemini"
	}
	if cfg.AI.AnthropicKey != "" {
		a, err := aiAdapters.NewAnthropicAdapter(cfg.AI.AnthropicKey, "", cfg.AI.MaxOutputTokens)
		if err != nil {
			return nil, fmt.Errorf("anthropic adapter: %w", err)
		}
		providers["anthropic"] = aiAdapters.NewLimitedAI("anthropic", a, limit)
		defaultProvider = "anthropic"
	}
	if cfg.AI.OpenAIKey != "" {
		o, err := aiAdapters.NewOpenAIAdapter(cfg.AI.OpenAIKey, cfg.AI.PlanModel, cfg.AI.MaxOutputTokens)
		if err != nil {
			return nil, fmt.Errorf("openai adapter: %w", err)
		}
		providers["openai"] = aiAdapters.NewLimitedAI("openai", o, limit)
		defaultProvider = "openai"
	}
	// Metis proxies OpenAI-style models and wins the default when configured.
	if cfg.AI.MetisKey != "" {
		m, err := aiAdapters.NewMetisOpenAIAdapter(cfg.AI.MetisKey, cfg.AI.PlanModel, cfg.AI.MetisBaseURL, cfg.AI.MaxOutputTokens)
		if err != nil {
			return nil, fmt.Errorf("metis adapter: %w", err)
		}
		providers["metis"] = aiAdapters.NewLimitedAI("metis", m, limit)
		defaultProvider = "metis"
	}

	if len(providers) > 0 {
		multi := aiAdapters.NewMultiAIAdapter(defaultProvider, providers, nil)
		out.text = multi
		logger.Info().Int("providers", multi.Providers()).Str("default", defaultProvider).Msg("AI providers configured")
	} else {
		logger.Warn().Msg("no AI provider configured; plans fall back to the exercise library")
	}
	if out.vision == nil {
		logger.Warn().Msg("no vision backend configured; analysis tasks will be refused")
	}

	if cfg.Storage.Bucket != "" {
		loc, err := storage.NewS3Locator(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("s3 locator: %w", err)
		}
		out.locator = loc
	}
	return out, nil
}
