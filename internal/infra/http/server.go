package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ai-analysis-pipeline/internal/config"
	"ai-analysis-pipeline/internal/infra/api"
	"ai-analysis-pipeline/internal/infra/api/apiv1"
)

// HealthFunc reports whether a dependency is reachable.
type HealthFunc func(ctx context.Context) error

type Server struct {
	cfg    config.ServerConfig
	server *http.Server
	log    *zerolog.Logger
}

// NewRouter assembles middlewares, operational endpoints and the v1 API.
func NewRouter(v1 *apiv1.Server, health map[string]HealthFunc, logger *zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(api.TraceID(), api.Recover(logger), api.RequestLog(logger))

	r.Get("/health", healthHandler(health))
	r.Handle("/metrics", promhttp.Handler())
	apiv1.RegisterAPIV1(r, v1)
	return r
}

func healthHandler(checks map[string]HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(w, "%s: unavailable", name)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

func NewServer(cfg config.ServerConfig, handler http.Handler, logger *zerolog.Logger) *Server {
	compLog := logger.With().Str("component", "HTTPServer").Logger()
	return &Server{
		cfg: cfg,
		server: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Port),
			Handler:     handler,
			ReadTimeout: cfg.ReadTimeout,
			// WriteTimeout must cover a full pipeline run.
			WriteTimeout: cfg.WriteTimeout,
		},
		log: &compLog,
	}
}

// Start blocks until the server stops. A graceful shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// OnShutdown registers f to run when Shutdown starts; hijacked connections
// such as websocket streams are not drained by Shutdown itself.
func (s *Server) OnShutdown(f func()) {
	s.server.RegisterOnShutdown(f)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
