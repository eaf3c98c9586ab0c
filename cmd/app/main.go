package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ai-analysis-pipeline/internal/agent"
	"ai-analysis-pipeline/internal/config"
	"ai-analysis-pipeline/internal/infra/api"
	"ai-analysis-pipeline/internal/infra/api/apiv1"
	httpapi "ai-analysis-pipeline/internal/infra/http"
	"ai-analysis-pipeline/internal/infra/i18n"
	"ai-analysis-pipeline/internal/infra/logging"
	"ai-analysis-pipeline/internal/infra/metrics"
	"ai-analysis-pipeline/internal/infra/sched"
	"ai-analysis-pipeline/internal/infra/worker"
	"ai-analysis-pipeline/internal/usecase"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		// logger is not configured yet
		l := zerolog.New(os.Stderr).With().Timestamp().Logger()
		l.Fatal().Err(err).Msg("config")
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] in-memory storage, log notifier")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("app stopped")
	}
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inf, err := buildInfra(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer inf.Close()

	ai, err := buildAI(ctx, cfg, logger)
	if err != nil {
		return err
	}

	tr, err := i18n.NewTranslator(i18n.LocalesFS, cfg.Pipeline.Language)
	if err != nil {
		return err
	}

	// ---- Worker pool (notifications) ----
	pool := worker.NewPool(cfg.Pipeline.NotifyWorkers, cfg.Pipeline.NotifyQueueSize, logger)
	pool.Start(ctx)
	defer pool.Stop()

	// ---- Use cases ----
	ledger := usecase.NewUsageLedger(inf.usage, cfg.Tiers, logger)
	orch := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Vision:     agent.NewVisionAgent(ai.vision, ai.locator, cfg.AI.VisionModel, logger),
		Plan:       agent.NewPlanAgent(ai.text, cfg.AI.PlanModel, cfg.AI.PlanPromptTokens, logger),
		Ledger:     ledger,
		Tiers:      cfg.Tiers,
		Store:      inf.store,
		Subjects:   inf.subjects,
		Progress:   inf.progress,
		Locker:     inf.locker,
		Notifier:   inf.notifier,
		Dispatcher: pool,
		Composer:   usecase.NewNotificationComposer(tr),
	}, usecase.OrchestratorConfig{
		VisionTimeout: cfg.Pipeline.VisionTimeout,
		PlanTimeout:   cfg.Pipeline.PlanTimeout,
		LockTTL:       cfg.Pipeline.LockTTL,
	}, logger)

	// ---- HTTP ----
	v1 := apiv1.NewServer(apiv1.Deps{
		Orchestrator: orch,
		Reports:      inf.store,
		Subjects:     inf.subjects,
		Progress:     inf.progress,
		Limiter:      inf.limiter,
		Auth:         api.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
	}, apiv1.Options{
		RateLimit:            cfg.Redis.RateLimit,
		RateWindow:           cfg.Redis.RateWindow,
		RequestTimeout:       cfg.Server.RequestTimeout,
		AllowUnknownSubjects: cfg.Runtime.Dev,
		AllowAnyOrigin:       cfg.Runtime.Dev,
	}, logger)
	srv := httpapi.NewServer(cfg.Server, httpapi.NewRouter(v1, inf.health, logger), logger)
	srv.OnShutdown(v1.CloseStreams)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	for _, bg := range inf.background {
		bg := bg
		g.Go(func() error {
			bg(gctx)
			return nil
		})
	}

	// ---- Workers ----
	reaper := sched.NewStaleReaper(cfg.Pipeline.ReapInterval, cfg.Pipeline.StaleAfter, inf.subjects, inf.progress, logger)
	g.Go(func() error { return ignoreCanceled(reaper.Run(gctx)) })
	if inf.pgPool != nil {
		stats := sched.NewPoolStatsWorker(15*time.Second, inf.pgPool, logger)
		g.Go(func() error { return ignoreCanceled(stats.Run(gctx)) })
	}

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if err == context.Canceled || err == context.DeadlineExceeded {
		return nil
	}
	return err
}
